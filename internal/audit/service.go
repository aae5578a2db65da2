package audit

import (
	"context"
	"io"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-bloodbank/internal/kafka"
)

// Service writes every blood-bank event into the audit trail exactly once.
type Service struct {
	Store  Store
	Dedup  Deduper // optional; the store's primary key is the real guard
	Logger *slog.Logger
	Now    func() time.Time
}

// HandleMessage is installed as the consumer handler.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	logger := s.logger()

	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil || env.EventID == "" {
		// retrying a malformed message would block the partition forever
		logger.Warn("skipping malformed event", "topic", m.Topic, "offset", m.Offset, "error", err)
		return nil
	}

	if s.Dedup != nil {
		seen, err := s.Dedup.Seen(ctx, env.EventID)
		switch {
		case err != nil:
			logger.Warn("dedup unavailable, relying on store", "event_id", env.EventID, "error", err)
		case seen:
			return nil
		}
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	// a failed append is returned so the consumer retries the same offset
	inserted, err := s.Store.Append(ctx, FromEnvelope(env, now().UTC()))
	if err != nil {
		return err
	}
	if inserted {
		logger.Info("event audited", "event_id", env.EventID, "event_type", env.EventType,
			"correlation_id", env.CorrelationID)
	}
	if s.Dedup != nil {
		if err := s.Dedup.Mark(ctx, env.EventID); err != nil {
			logger.Warn("dedup mark", "event_id", env.EventID, "error", err)
		}
	}
	return nil
}

func (s *Service) Trail(ctx context.Context, correlationID string) ([]Record, error) {
	return s.Store.ListByCorrelation(ctx, correlationID)
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s.Logger
}
