package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"userdir/internal/models"

	"github.com/google/uuid"
	amqp "github.com/streadway/amqp"
)

const (
	// Exchange is the topic exchange user change events are published to.
	Exchange = "user_events"
	// AuditQueue receives every user event for logging.
	AuditQueue = "user_events_audit"

	consumerTag = "userdir-audit"
)

// EventType doubles as the routing key of an event.
type EventType string

const (
	UserCreated EventType = "user.created"
	UserUpdated EventType = "user.updated"
	UserDeleted EventType = "user.deleted"
)

// UserEvent describes a change to the session's user collection.
type UserEvent struct {
	ID         string        `json:"eventId"`
	Type       EventType     `json:"type"`
	UserID     models.UserID `json:"userId"`
	OccurredAt time.Time     `json:"occurredAt"`
	User       *models.User  `json:"user,omitempty"` // state after the change; nil for deletions
}

// NewUserEvent builds an event with a fresh id.
func NewUserEvent(t EventType, id models.UserID, user *models.User, at time.Time) UserEvent {
	return UserEvent{
		ID:         uuid.NewString(),
		Type:       t,
		UserID:     id,
		OccurredAt: at.UTC(),
		User:       user,
	}
}

// Client holds the RabbitMQ connection and channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger

	publishMu sync.Mutex // amqp channels are not safe for concurrent publishing
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL string
}

// NewClient connects to RabbitMQ, declares the user_events exchange and binds the audit queue to it.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("rabbitmq client connected", "exchange", Exchange, "queue", AuditQueue)

	return &Client{
		conn:    conn,
		channel: ch,
		logger:  logger,
	}, nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		Exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", Exchange, err)
	}

	if _, err := ch.QueueDeclare(
		AuditQueue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", AuditQueue, err)
	}

	if err := ch.QueueBind(AuditQueue, "user.*", Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", AuditQueue, err)
	}
	return nil
}

// Close closes the RabbitMQ channel and connection.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// PublishUserEvent publishes the event to the user_events exchange, routed by its type.
func (c *Client) PublishUserEvent(event UserEvent) error {
	if c.channel == nil {
		return errors.New("RabbitMQ channel is not available")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal user event: %w", err)
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	err = c.channel.Publish(
		Exchange,           // exchange
		string(event.Type), // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    event.ID,
			Type:         string(event.Type),
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
		})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

// ConsumeUserEvents delivers events from the audit queue to handler until ctx is done
// or the channel closes. Messages the handler fails on are requeued; messages that
// cannot be decoded are dropped.
func (c *Client) ConsumeUserEvents(ctx context.Context, handler func(UserEvent) error) error {
	if c.channel == nil {
		return errors.New("RabbitMQ channel is not available for consumption")
	}

	msgs, err := c.channel.Consume(
		AuditQueue,  // queue
		consumerTag, // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("waiting for user events", "queue", AuditQueue)
	for {
		select {
		case <-ctx.Done():
			if err := c.channel.Cancel(consumerTag, false); err != nil {
				c.logger.Warn("failed to cancel consumer", "error", err)
			}
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			dispatch(c.logger, msg, handler)
		}
	}
}

func dispatch(logger *slog.Logger, msg amqp.Delivery, handler func(UserEvent) error) {
	var event UserEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		logger.Error("dropping undecodable user event", "delivery_tag", msg.DeliveryTag, "error", err)
		if err := msg.Nack(false, false); err != nil {
			logger.Error("failed to nack message", "delivery_tag", msg.DeliveryTag, "error", err)
		}
		return
	}

	if err := handler(event); err != nil {
		logger.Error("failed to process user event", "event_id", event.ID, "error", err)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("failed to nack message", "delivery_tag", msg.DeliveryTag, "error", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("failed to ack message", "delivery_tag", msg.DeliveryTag, "error", err)
	}
}
