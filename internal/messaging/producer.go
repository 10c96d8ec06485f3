// Package messaging publishes order lifecycle events to Kafka.
package messaging

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/orderkeeper/internal/domain/archive"
	"github.com/xenking/orderkeeper/internal/domain/order"
)

var (
	_ order.Publisher   = (*Producer)(nil)
	_ archive.Publisher = (*Producer)(nil)
)

// MessageWriter is the subset of *kafka.Writer used by Producer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// publishTimeout bounds a single publish. Events are sent after the order
// has committed, so a stalled broker must not hold the HTTP response past
// the server write timeout.
const publishTimeout = 3 * time.Second

// Producer writes order and archival events to a single topic.
type Producer struct {
	writer  MessageWriter
	topic   string
	tracer  trace.Tracer
	timeout time.Duration
}

// NewWriter returns a kafka.Writer for topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           publishTimeout,
	}
}

// NewProducer creates a Producer over w. A nil tp disables tracing.
func NewProducer(w MessageWriter, topic string, tp trace.TracerProvider) *Producer {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	return &Producer{
		writer:  w,
		topic:   topic,
		tracer:  tp.Tracer("orderkeeper/messaging"),
		timeout: publishTimeout,
	}
}

// OrderCreated publishes an order.created event keyed by order id.
func (p *Producer) OrderCreated(ctx context.Context, res *order.CreateOrderResult) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeOrderCreated(e, res)
	return p.publish(ctx, EventOrderCreated, orderKey(res.Order.ID), e.Bytes())
}

// OrdersArchived publishes an orders.archived event keyed by run id.
func (p *Producer) OrdersArchived(ctx context.Context, res *archive.Result) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeOrdersArchived(e, res)
	return p.publish(ctx, EventOrdersArchived, []byte(res.RunID), e.Bytes())
}

func (p *Producer) publish(ctx context.Context, eventType string, key, value []byte) error {
	msg := kafka.Message{
		Key: key,
		// The encoder buffer is reused after publish returns.
		Value:   append([]byte(nil), value...),
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(eventType)}},
	}

	ctx, span := p.tracer.Start(ctx, "send "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingKafkaMessageKey(string(key)),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "publish %s", eventType)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
