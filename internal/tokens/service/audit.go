package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Audit event types emitted by the token services.
const (
	AuditTokenIssued   = "token.issued"
	AuditTokenRotated  = "token.rotated"
	AuditTokenReuse    = "token.reuse_detected"
	AuditTokenRevoked  = "token.revoked"
	AuditBulkRevoked   = "token.revoke_all"
	AuditCleanupSweep  = "token.cleanup"
	AuditRotateRefused = "token.rotate_refused"
)

// AuditEvent is a single security-relevant occurrence. Reuse detection is
// only distinguishable from a generic failure here, never in API responses.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	TokenID   string            `json:"token_id,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events. Implementations must tolerate concurrent
// callers; slow sinks only cost buffered events, never request latency.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// SlogSink writes audit events through the structured logger.
type SlogSink struct {
	Logger *slog.Logger
}

func (s *SlogSink) Emit(_ context.Context, e AuditEvent) {
	attrs := []any{
		"event_type", e.EventType,
		"success", e.Success,
	}
	if e.UserID != "" {
		attrs = append(attrs, "user_id", e.UserID)
	}
	if e.SessionID != "" {
		attrs = append(attrs, "session_id", e.SessionID)
	}
	if e.TokenID != "" {
		attrs = append(attrs, "token_id", e.TokenID)
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	for k, v := range e.Metadata {
		attrs = append(attrs, k, v)
	}
	s.Logger.Info("audit", attrs...)
}

// AuditDispatcher decouples emitters from the sink with a buffered channel.
// When the buffer is full events are dropped and counted rather than
// blocking the token path.
type AuditDispatcher struct {
	sink AuditSink
	ch   chan AuditEvent
	done chan struct{}

	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewAuditDispatcher(sink AuditSink, bufferSize int) *AuditDispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &AuditDispatcher{
		sink: sink,
		ch:   make(chan AuditEvent, bufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *AuditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			// Drain whatever is already buffered, then exit.
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit queues the event for delivery. Never blocks.
func (d *AuditDispatcher) Emit(_ context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case d.ch <- event:
	default:
		d.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (d *AuditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Close stops the dispatcher after draining buffered events.
func (d *AuditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}
