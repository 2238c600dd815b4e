package events

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wolfman30/triage-engine/pkg/logging"
)

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher delivers envelopes to a durable RabbitMQ queue. Consumers
// dead-letter into "<queue>.dlq"; "<queue>.retry" expires back into the main
// queue.
type AMQPPublisher struct {
	conn    *amqp.Connection
	ch      amqpChannel
	queue   string
	timeout time.Duration
	logger  *logging.Logger
}

var _ DeliveryHandler = (*AMQPPublisher)(nil)

func NewAMQPPublisher(url, queue string, logger *logging.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	p, err := newAMQPPublisher(ch, queue, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, queue string, logger *logging.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if err := declareQueues(ch, queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &AMQPPublisher{ch: ch, queue: queue, timeout: 5 * time.Second, logger: logger}, nil
}

func declareQueues(ch amqpChannel, queue string) error {
	dlq := queue + ".dlq"
	retry := queue + ".retry"

	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("events: declare %s: %w", dlq, err)
	}
	if _, err := ch.QueueDeclare(retry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return fmt.Errorf("events: declare %s: %w", retry, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		return fmt.Errorf("events: declare %s: %w", queue, err)
	}
	return nil
}

func (p *AMQPPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	headers := amqp.Table{"org_id": entry.OrgID, "aggregate": entry.Aggregate}
	if env, err := DecodeEnvelope(entry.Payload); err == nil {
		headers["schema_version"] = int32(env.SchemaVersion)
		headers["source"] = env.Source
		if env.RoutingKey != "" {
			headers["routing_key"] = env.RoutingKey
		}
		if env.CorrelationID != "" {
			headers["correlation_id"] = env.CorrelationID
		}
	} else {
		p.logger.Warn("publishing undecodable envelope", "error", err, "event_id", entry.ID)
	}

	err := p.ch.PublishWithContext(cctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    entry.ID.String(),
		Type:         entry.Type,
		Timestamp:    entry.CreatedAt,
		Headers:      headers,
		Body:         entry.Payload,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", entry.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
