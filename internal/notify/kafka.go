package notify

import (
	"context"
	"encoding/json"

	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/openzipkin/zipkin-go"
	"github.com/openzipkin/zipkin-go/model"
	"github.com/segmentio/kafka-go"
)

const settledEventType = "payment.settled"

// MessageWriter is the part of kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher emits settlement events for downstream consumers
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
	tracer *zipkin.Tracer
}

// NewKafkaPublisher returns nil when no brokers are configured
func NewKafkaPublisher(brokers []string, topic string, tracer *zipkin.Tracer) *KafkaPublisher {
	if len(brokers) == 0 {
		return nil
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return NewKafkaPublisherWithWriter(writer, topic, tracer)
}

func NewKafkaPublisherWithWriter(writer MessageWriter, topic string, tracer *zipkin.Tracer) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic, tracer: tracer}
}

// Publish writes event keyed by merchant so one merchant's events stay ordered
func (p *KafkaPublisher) Publish(ctx context.Context, event models.SettlementEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(settledEventType)},
		{Key: "tx_ref", Value: []byte(event.TransactionID)},
	}

	if p.tracer != nil {
		span, _ := p.tracer.StartSpanFromContext(ctx, "kafka publish "+p.topic, zipkin.Kind(model.Producer))
		defer span.Finish()
		span.Tag("tx_ref", event.TransactionID)
		headers = append(headers,
			kafka.Header{Key: "X-B3-TraceId", Value: []byte(span.Context().TraceID.String())},
			kafka.Header{Key: "X-B3-SpanId", Value: []byte(span.Context().ID.String())},
		)
		defer func() {
			if err != nil {
				span.Tag(string(zipkin.TagError), err.Error())
			}
		}()
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.MerchantID),
		Value:   value,
		Headers: headers,
	})
	if err != nil {
		return err
	}

	logging.LOGGER.Infof("[KAFKA] Message Sent! Topic : %s, tx_ref : %s", p.topic, event.TransactionID)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
