package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"ugchub/internal/domain"
)

// DefaultExchange is the topic exchange domain events are published to.
const DefaultExchange = "ugchub.events"

// Publisher forwards committed domain events to external consumers
// (email, push, analytics).
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, domain.Event) error { return nil }
func (Nop) Close() error                                 { return nil }

// Envelope is the JSON body of a published message.
type Envelope struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	CreatorID  string          `json:"creator_id,omitempty"`
	AnalystID  string          `json:"analyst_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEnvelope(evt domain.Event) Envelope {
	payload := json.RawMessage(evt.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage("{}")
	}
	return Envelope{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		CreatorID:  evt.CreatorID,
		AnalystID:  evt.AnalystID,
		Payload:    payload,
	}
}

// AMQPPublisher publishes events to a RabbitMQ topic exchange with the event
// type as routing key.
type AMQPPublisher struct {
	exchange string
	conn     *amqp091.Connection

	mu      sync.Mutex
	channel *amqp091.Channel
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{exchange: exchange, conn: conn, channel: ch}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt domain.Event) error {
	body, err := json.Marshal(NewEnvelope(evt))
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn.IsClosed() {
		return fmt.Errorf("publish %s: connection closed", evt.Type)
	}
	return p.channel.PublishWithContext(ctx, p.exchange, evt.Type, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		MessageId:    fmt.Sprintf("%d", evt.ID),
	})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
