package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"testimonial-recorder/config"
	"testimonial-recorder/dto"
	"time"
)

const (
	recordingExchange    = "recording_exchange"
	recordingQueue       = "recording_merge_queue"
	recordingRoutingKey  = "recording.merge.request"
	deadLetterExchange   = "transcoding_exchange_dlx"
	deadLetterQueue      = "recording_merge_queue_dlq"
	deadLetterRoutingKey = "dlq.recording.merge.request"
)

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RecordingPublisher interface {
	PublishRecordingMerge(ctx context.Context, message dto.RecordingMergeMessage) error
}

type recordingPublisher struct {
	open       func() (channel, error)
	cfg        *config.RabbitMQ
	exchange   string
	routingKey string
}

// PublishRecordingMerge declares the merge worker's topology and publishes
// one persistent merge request on it.
func (p recordingPublisher) PublishRecordingMerge(ctx context.Context, message dto.RecordingMergeMessage) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	ch, err := p.open()
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to open channel")
		return err
	}
	defer ch.Close()

	if err := p.declare(ctx, ch); err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    message.JobId.String(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", p.exchange).Msg("failed to publish recording merge request")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("job_id", message.JobId.String()).
		Str("session_id", message.SessionId.String()).
		Str("exchange", p.exchange).
		Str("routing_key", p.routingKey).
		Msg("recording merge request published")
	return nil
}

func (p recordingPublisher) declare(ctx context.Context, ch channel) error {
	err := ch.ExchangeDeclare(p.exchange, p.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", p.exchange).Msg("failed to declare exchange")
		return err
	}

	err = ch.ExchangeDeclare(deadLetterExchange, p.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", deadLetterExchange).Msg("failed to declare dlx")
		return err
	}

	dlq, err := ch.QueueDeclare(deadLetterQueue, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", deadLetterQueue).Msg("failed to declare dlq")
		return err
	}
	if err := ch.QueueBind(dlq.Name, deadLetterRoutingKey, deadLetterExchange, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    deadLetterExchange,
		"x-dead-letter-routing-key": deadLetterRoutingKey,
	}
	q, err := ch.QueueDeclare(recordingQueue, true, false, false, false, args)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", recordingQueue).Msg("failed to declare queue")
		return err
	}
	if err := ch.QueueBind(q.Name, p.routingKey, p.exchange, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", recordingQueue).Msg("failed to bind queue")
		return err
	}
	return nil
}

func NewRecordingPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) (RecordingPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is required")
	}
	return newRecordingPublisher(func() (channel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}, cfg), nil
}

func newRecordingPublisher(open func() (channel, error), cfg *config.RabbitMQ) recordingPublisher {
	exchange := cfg.ExchangeName
	if exchange == "" {
		exchange = recordingExchange
	}
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = recordingRoutingKey
	}
	return recordingPublisher{
		open:       open,
		cfg:        cfg,
		exchange:   exchange,
		routingKey: routingKey,
	}
}
