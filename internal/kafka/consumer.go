package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message was processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
	logger  *slog.Logger
	backoff Backoff
}

// Backoff bounds the wait between attempts of a failing handler. The wait
// starts at Min and doubles up to Max.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

var DefaultBackoff = Backoff{Min: 200 * time.Millisecond, Max: 10 * time.Second}

func NewConsumer(brokers []string, group string, topics []string, workers int, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commit per message
	})
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Consumer{r: r, workers: workers, logger: logger, backoff: DefaultBackoff}
}

// Start blocks until ctx is done or the reader fails. Every partition is
// served by one worker, so its offsets are handled and committed in order;
// a failing message is retried in place and nothing after it on that
// partition moves until it succeeds.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 4)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if err := Retry(ctx, h, m, c.backoff, c.logger.With("worker", id)); err != nil {
					// only a cancelled context ends the retries; leave the
					// offset uncommitted so the next owner redelivers it
					return
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					c.logger.Error("commit offset", "worker", id, "topic", m.Topic, "error", err)
				}
			}
		}(i, jobs[i])
	}
	defer wg.Wait()
	defer func() {
		for _, ch := range jobs {
			close(ch)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[c.workerFor(m.Partition)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) workerFor(partition int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % c.workers
}

// Retry runs h on m until it succeeds or ctx ends, waiting between
// attempts as b allows. It returns ctx's error when it gives up.
func Retry(ctx context.Context, h Handler, m kafka.Message, b Backoff, logger *slog.Logger) error {
	wait := b.Min
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return nil
		}
		logger.Error("handle message", "topic", m.Topic, "partition", m.Partition,
			"offset", m.Offset, "attempt", attempt, "error", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if wait *= 2; wait > b.Max {
			wait = b.Max
		}
	}
}
