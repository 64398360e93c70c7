package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/contribux/tokend/internal/tokens/domain"
	"github.com/contribux/tokend/internal/tokens/store"
	"github.com/contribux/tokend/pkg/cryptox"
	"github.com/contribux/tokend/pkg/idx"
	"github.com/contribux/tokend/pkg/jwtx"
)

// InitTokenKeys creates a KeyManager with the configured algorithm and storage mode.
//
// Storage modes:
//   - "ephemeral": Keys are generated on startup and stored only in memory.
//     All existing access tokens become invalid when the service restarts.
//   - "persistent": EdDSA keys are stored in the database encrypted with the
//     master key. Access tokens survive service restarts.
//
// HS256 is always "ephemeral" from the database's perspective: the shared
// secret comes from configuration, never from the signing_keys table.
func InitTokenKeys(ctx context.Context, cfg Config, db store.Store, logger *slog.Logger) (*jwtx.KeyManager, error) {
	// Configure master key path if provided (for persistent mode)
	if cfg.MasterKeyPath != "" {
		cryptox.SetMasterKeyPath(cfg.MasterKeyPath)
		logger.Info("master key path configured", "path", cfg.MasterKeyPath)
	}

	switch cfg.KeyStorageMode {
	case "persistent":
		if cfg.Algorithm != jwtx.AlgorithmEdDSA {
			return nil, fmt.Errorf("persistent key storage requires EdDSA, got %q", cfg.Algorithm)
		}

		keyManager, err := loadOrGeneratePersistentKeys(ctx, cfg, db, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize persistent key manager: %w", err)
		}

		logger.Info("persistent signing keys loaded",
			"algorithm", keyManager.Algorithm(),
			"num_keys", keyManager.NumSigners(),
			"issuer", cfg.Issuer,
		)
		return keyManager, nil

	case "ephemeral":
		fallthrough
	default:
		keyManager, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
			Algorithm:  cfg.Algorithm,
			Issuer:     cfg.Issuer,
			Audience:   cfg.Audience,
			NumKeys:    cfg.NumKeys,
			HMACSecret: []byte(cfg.HMACSecret),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ephemeral key manager: %w", err)
		}

		logger.Info("generated ephemeral signing keys",
			"algorithm", keyManager.Algorithm(),
			"num_keys", keyManager.NumSigners(),
			"issuer", cfg.Issuer,
		)
		if cfg.Algorithm == jwtx.AlgorithmEdDSA {
			logger.Warn("all previously issued access tokens are now invalid")
		}
		return keyManager, nil
	}
}

// loadOrGeneratePersistentKeys builds a KeyManager from the signing_keys
// table, generating and storing a fresh set when the table is empty.
func loadOrGeneratePersistentKeys(ctx context.Context, cfg Config, db store.Store, logger *slog.Logger) (*jwtx.KeyManager, error) {
	keys, err := db.SigningKeys().ListActiveSigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list signing keys: %w", err)
	}

	if len(keys) == 0 {
		keys, err = generateSigningKeys(ctx, cfg, db)
		if err != nil {
			return nil, err
		}
		logger.Info("generated new persistent signing keys", "num_keys", len(keys))
	}

	pems := make(map[string][]byte, len(keys))
	for _, key := range keys {
		pemBytes, err := cryptox.DecryptPrivateKey(key.PrivateKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt signing key %q: %w", key.Kid, err)
		}
		pems[key.Kid] = pemBytes
	}

	return jwtx.NewKeyManagerFromPEMs(cfg.Issuer, cfg.Audience, pems)
}

func generateSigningKeys(ctx context.Context, cfg Config, db store.Store) ([]domain.SigningKey, error) {
	numKeys := cfg.NumKeys
	if numKeys <= 0 {
		numKeys = 3
	}
	if numKeys > 10 {
		numKeys = 10
	}

	now := time.Now().UTC()
	keys := make([]domain.SigningKey, 0, numKeys)
	for i := 0; i < numKeys; i++ {
		pemBytes, err := cryptox.GenerateEd25519Key()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key %d: %w", i+1, err)
		}

		encrypted, err := cryptox.EncryptPrivateKey(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt key %d: %w", i+1, err)
		}

		suffix, err := cryptox.GenerateToken(8)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key ID: %w", err)
		}

		key := domain.SigningKey{
			ID:                  idx.New().String(),
			Kid:                 "tokend-" + suffix,
			Algorithm:           jwtx.AlgorithmEdDSA,
			PrivateKeyEncrypted: encrypted,
			CreatedAt:           now,
			ExpiresAt:           now.Add(cfg.KeyLifetime),
		}
		if err := db.SigningKeys().CreateSigningKey(ctx, key); err != nil {
			return nil, fmt.Errorf("failed to store signing key %q: %w", key.Kid, err)
		}
		keys = append(keys, key)
	}

	return keys, nil
}
