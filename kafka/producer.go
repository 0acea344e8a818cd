package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Lead-Studios/veritix-backend-sub005/models"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes order lifecycle events, keyed by order id so every
// event of one order lands on the same partition.
type Producer struct {
	writer messageWriter
	topic  string
	log    *zap.Logger
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	log.Info("kafka producer initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &Producer{writer: w, topic: topic, log: log}
}

// Notify implements services.Notifier.
func (p *Producer) Notify(ctx context.Context, evt models.OrderEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	}
	// trace context travels with the event so consumers can continue the trace
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("failed to publish order event",
			zap.String("order_id", evt.OrderID),
			zap.String("type", evt.Type),
			zap.String("topic", p.topic),
			zap.Error(err))
		return err
	}
	p.log.Debug("order event published", zap.String("order_id", evt.OrderID), zap.String("type", evt.Type))
	return nil
}

func (p *Producer) Close() error {
	p.log.Info("closing kafka writer", zap.String("topic", p.topic))
	return p.writer.Close()
}
