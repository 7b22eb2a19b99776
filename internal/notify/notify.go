// Package notify delivers user-facing notifications emitted by the
// workflow and the recovery policy.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/classletter/newsletter-engine/internal/domain"
	"github.com/classletter/newsletter-engine/internal/store"
)

// Sink accepts notifications. Implementations must preserve the order in
// which Notify is called for a given run.
type Sink interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, domain.Notification) error { return nil }

// ChannelSink forwards notifications to a channel in call order. Notify
// blocks until the receiver takes the value or ctx is done.
type ChannelSink struct {
	ch chan domain.Notification
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan domain.Notification, buffer)}
}

// C returns the receive side of the sink.
func (s *ChannelSink) C() <-chan domain.Notification {
	return s.ch
}

func (s *ChannelSink) Notify(ctx context.Context, n domain.Notification) error {
	select {
	case s.ch <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(ctx context.Context, n domain.Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch n.Severity {
	case domain.SeverityWarning:
		level = slog.LevelWarn
	case domain.SeverityError, domain.SeverityCritical:
		level = slog.LevelError
	}
	logger.Log(ctx, level, n.Message,
		"run_id", n.RunID,
		"type", string(n.Type),
		"severity", string(n.Severity),
		"suggestions", n.Suggestions,
	)
	return nil
}

// StoreSink persists notifications to the notifications table.
type StoreSink struct {
	DB   *sql.DB
	Repo *store.NotificationRepo
}

// NewStoreSink wraps an open database.
func NewStoreSink(db *sql.DB) *StoreSink {
	return &StoreSink{DB: db, Repo: &store.NotificationRepo{}}
}

func (s *StoreSink) Notify(ctx context.Context, n domain.Notification) error {
	return s.Repo.Record(ctx, s.DB, n)
}

// Multi fans a notification out to every sink in order. All sinks are
// tried; their errors are joined.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
