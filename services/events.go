package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type RelationEventType string

const (
	EventFollowRequested   RelationEventType = "follow_requested"
	EventUnfollowed        RelationEventType = "unfollowed"
	EventFollowerAccepted  RelationEventType = "follower_accepted"
	EventFollowerRejected  RelationEventType = "follower_rejected"
	EventFriendshipCreated RelationEventType = "friendship_created"
	EventFriendshipRemoved RelationEventType = "friendship_removed"
)

// RelationEvent - событие об изменении подписки, адресованное одному пользователю (RecipientID)
type RelationEvent struct {
	ID          string            `json:"id"`
	Type        RelationEventType `json:"event"`
	FolloweeID  int64             `json:"followee_id"`
	FollowerID  int64             `json:"follower_id"`
	RecipientID int64             `json:"recipient_id"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

func newRelationEvent(eventType RelationEventType, followeeID, followerID, recipientID int64) RelationEvent {
	return RelationEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		FolloweeID:  followeeID,
		FollowerID:  followerID,
		RecipientID: recipientID,
		OccurredAt:  time.Now().UTC(),
	}
}

func (e RelationEvent) RoutingKey() string {
	return "relation." + string(e.Type)
}

type EventPublisher interface {
	Publish(ctx context.Context, event RelationEvent) error
}

// RabbitPublisher публикует события в topic exchange
type RabbitPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewRabbitPublisher открывает соединение, канал и объявляет exchange
func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // args
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	logrus.WithField("exchange", exchange).Info("RabbitMQ initialized")
	return &RabbitPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, event RelationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		event.RoutingKey(),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
}

// StartConsumer слушает события из очереди queueName и пушит их через WebSocket получателю
func (p *RabbitPublisher) StartConsumer(ctx context.Context, queueName string, ws *WSConnManager) error {
	q, err := p.channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := p.channel.QueueBind(q.Name, "relation.*", p.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	msgs, err := p.channel.Consume(
		q.Name,
		"",
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					logrus.Warn("relation event consumer channel closed")
					return
				}
				var event RelationEvent
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					logrus.WithError(err).Warn("failed to unmarshal relation event")
					continue
				}
				pushRelationEvent(ws, event)
			}
		}
	}()
	return nil
}

func (p *RabbitPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
