package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

var (
	ErrClosed    = errors.New("producer closed")
	ErrInboxFull = errors.New("producer inbox full")
)

// Producer buffers messages in an inbox and writes them from one goroutine.
// The writer has no fixed topic; each message names its own.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, buf int, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Producer{
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		logger:  logger,
	}
	p.w = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				p.logger.Error("kafka write failed", "messages", len(msgs), "error", err)
			}
		},
	}
	return p
}

// Start runs the write loop until Close drains the inbox.
func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				p.logger.Error("kafka write", "topic", m.Topic, "error", err)
			}
		}
		if err := p.w.Close(); err != nil {
			p.logger.Error("kafka writer close", "error", err)
		}
	}()
}

// Publish queues a message without blocking. It fails with ErrClosed after
// Close and with ErrInboxFull when the write loop is behind.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}:
		return nil
	default:
		return ErrInboxFull
	}
}

// Close stops accepting messages; the loop flushes what is left and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

func (p *Producer) WaitClosed() { <-p.closeCh }
