package kafka

import (
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-bloodbank/internal/bloodbank"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// Publisher adapts a Producer to bloodbank.EventSink.
type Publisher struct {
	P *Producer
}

var _ bloodbank.EventSink = (*Publisher)(nil)

func (p *Publisher) Emit(topic string, env bloodbank.Envelope) {
	if err := p.P.Publish(topic, bloodbank.PartitionKey(env.CorrelationID), MustMarshal(env), Headers(env)...); err != nil {
		p.P.logger.Warn("event dropped", "topic", topic, "event_id", env.EventID,
			"event_type", env.EventType, "error", err)
	}
}

func Headers(env bloodbank.Envelope) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	}
}
