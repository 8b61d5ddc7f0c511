package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
)

var _ inventory.EventPublisher = (*KafkaPublisher)(nil)

// messageWriter lo que el publicador usa de *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publica los eventos del libro en un topic, con product_id como clave
// para conservar el orden por producto dentro de la partición.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	log     zerolog.Logger
}

// NewKafkaPublisher crea el publicador sobre un kafka.Writer.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}
	return newKafkaPublisher(writer, log)
}

func newKafkaPublisher(w messageWriter, log zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  w,
		timeout: 5 * time.Second,
		log:     log.With().Str("component", "kafka_publisher").Logger(),
	}
}

// PublishMovementCommitted publica un movimiento confirmado.
func (p *KafkaPublisher) PublishMovementCommitted(ctx context.Context, event inventory.MovementCommitted) error {
	event.Type = inventory.EventMovementCommitted
	return p.publish(ctx, event.ProductID, event.Type, event.Timestamp, event)
}

// PublishCorruptionDetected publica un diagnóstico de conciliación.
func (p *KafkaPublisher) PublishCorruptionDetected(ctx context.Context, event inventory.CorruptionDetected) error {
	event.Type = inventory.EventCorruptionDetected
	return p.publish(ctx, event.ProductID, event.Type, event.Timestamp, event)
}

func (p *KafkaPublisher) publish(ctx context.Context, key, eventType string, at time.Time, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  at,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// El fallo lo registra quien publica; aquí solo se envuelve.
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to kafka: %w", eventType, err)
	}
	p.log.Debug().Str("event_type", eventType).Str("product_id", key).Msg("evento publicado")
	return nil
}

// Close vacía y cierra el writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
