package jwtx

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/contribux/tokend/pkg/cryptox"
)

// Supported JWT signing algorithms.
const (
	AlgorithmEdDSA = "EdDSA"
	AlgorithmHS256 = "HS256"
)

// KeyManager manages signing and verification keys for an instance.
// It supports multiple concurrent signing keys for availability and load
// distribution; keys are selected randomly for signing operations.
type KeyManager struct {
	Verifier  Verifier
	KeySet    *KeySet
	algorithm string

	signers []Signer
	mu      sync.RWMutex
}

// KeyManagerOptions configures the KeyManager.
type KeyManagerOptions struct {
	// Algorithm specifies which signing algorithm to use: "EdDSA" or "HS256".
	Algorithm string

	// Issuer is the issuer claim (iss) that will be validated in tokens.
	Issuer string

	// Audience is the list of audience values (aud) that will be validated.
	// Empty slice means no audience validation.
	Audience []string

	// NumKeys specifies how many EdDSA signing keys to generate.
	// Defaults to 3. Ignored for HS256, which always has exactly one key.
	NumKeys int

	// HMACSecret is the shared secret for HS256. Required for HS256,
	// ignored otherwise.
	HMACSecret []byte
}

// NewEphemeralKeyManager creates a KeyManager with keys that only exist in
// memory. For EdDSA this generates fresh keypairs, meaning all outstanding
// access tokens become invalid when the service restarts; use
// NewKeyManagerFromPEMs for persistent keys.
func NewEphemeralKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if opts.Issuer == "" {
		return nil, fmt.Errorf("jwtx: Issuer is required")
	}

	if opts.Algorithm == AlgorithmHS256 {
		signer, err := NewSignerHS256("", opts.HMACSecret)
		if err != nil {
			return nil, err
		}
		return &KeyManager{
			Verifier:  NewCommonHS256(opts.HMACSecret, opts.Issuer, opts.Audience),
			KeySet:    NewKeySet(),
			algorithm: AlgorithmHS256,
			signers:   []Signer{signer},
		}, nil
	}
	if opts.Algorithm != AlgorithmEdDSA {
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: EdDSA, HS256)", opts.Algorithm)
	}

	numKeys := opts.NumKeys
	if numKeys <= 0 {
		numKeys = 3
	}
	if numKeys > 10 {
		numKeys = 10
	}

	keyed := make(map[string][]byte, numKeys)
	for i := 0; i < numKeys; i++ {
		pemBytes, err := cryptox.GenerateEd25519Key()
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate key %d: %w", i+1, err)
		}
		kid, err := cryptox.GenerateToken(8)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate key ID: %w", err)
		}
		keyed[kid] = pemBytes
	}

	return NewKeyManagerFromPEMs(opts.Issuer, opts.Audience, keyed)
}

// NewKeyManagerFromPEMs builds an EdDSA KeyManager from already-available
// private keys, keyed by kid. This is the loading path for keys persisted
// (encrypted) in the store.
func NewKeyManagerFromPEMs(issuer string, audience []string, pems map[string][]byte) (*KeyManager, error) {
	if len(pems) == 0 {
		return nil, fmt.Errorf("jwtx: at least one signing key is required")
	}

	keyset := NewKeySet()
	signers := make([]Signer, 0, len(pems))

	for kid, pemBytes := range pems {
		signer, err := NewSignerEdDSA(kid, pemBytes)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to load signer %q: %w", kid, err)
		}
		if err := signer.Validate(); err != nil {
			return nil, err
		}
		signers = append(signers, signer)
		if err := keyset.AddSigner(signer); err != nil {
			return nil, fmt.Errorf("jwtx: failed to add signer %q to keyset: %w", kid, err)
		}
	}

	return &KeyManager{
		Verifier:  NewCommonEdDSA(keyset, issuer, audience),
		KeySet:    keyset,
		algorithm: AlgorithmEdDSA,
		signers:   signers,
	}, nil
}

// Algorithm returns the signing algorithm being used.
func (km *KeyManager) Algorithm() string {
	return km.algorithm
}

// IsReady returns true if the KeyManager has at least one signer loaded.
func (km *KeyManager) IsReady() bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers) > 0
}

// GetSigner returns a randomly selected signer from the available signing
// keys, distributing signing load across keys.
func (km *KeyManager) GetSigner() Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	if len(km.signers) == 0 {
		return nil
	}
	if len(km.signers) == 1 {
		return km.signers[0]
	}
	return km.signers[rand.IntN(len(km.signers))]
}

// NumSigners returns the number of active signing keys.
func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}
