package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/contribux/tokend/internal/tokens/store"
)

// HousekeepingService periodically removes expired database records to keep
// the refresh_tokens, sessions, and signing_keys tables from growing without
// bound. Only rows past their expiry are touched: revoked-but-unexpired
// refresh tokens stay put because reuse detection depends on them.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Audit    AuditSink
	Interval time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// CleanupResult reports how many rows each sweep removed.
type CleanupResult struct {
	RefreshTokens int64
	Sessions      int64
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:    store,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

// run is the main background worker loop.
func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	_, _ = s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup performs a single sweep of expired records and reports counts.
// Each deletion is independent - failures in one won't stop the others.
func (s *HousekeepingService) Cleanup(ctx context.Context) (CleanupResult, error) {
	now := time.Now().UTC()
	var res CleanupResult
	var firstErr error

	n, err := s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "error", err)
		firstErr = err
	} else {
		res.RefreshTokens = n
	}

	n, err = s.Store.Sessions().DeleteExpiredSessions(ctx, now)
	if err != nil {
		s.Logger.Error("failed to delete expired sessions", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	} else {
		res.Sessions = n
	}

	// Clean expired signing keys (for persistent key mode)
	if err := s.Store.SigningKeys().DeleteExpiredSigningKeys(ctx); err != nil {
		s.Logger.Error("failed to delete expired signing keys", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	s.Logger.Info("housekeeping cleanup completed",
		"refresh_tokens_deleted", res.RefreshTokens,
		"sessions_deleted", res.Sessions,
	)
	if s.Audit != nil {
		s.Audit.Emit(ctx, AuditEvent{
			Timestamp: now,
			EventType: AuditCleanupSweep,
			Success:   firstErr == nil,
			Metadata: map[string]string{
				"refresh_tokens_deleted": strconv.FormatInt(res.RefreshTokens, 10),
				"sessions_deleted":       strconv.FormatInt(res.Sessions, 10),
			},
		})
	}
	return res, firstErr
}
