package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/docsift/docsift/internal/common"
)

// Publisher emits document lifecycle events onto a durable queue so
// downstream consumers (billing, notifications) can react without polling
// the status endpoint.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

type DocumentEvent struct {
	// EventID is assigned at publish time; consumers use it for dedup.
	EventID    string `json:"event_id"`
	Type       string `json:"type"` // document.queued | document.completed | document.failed
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishDocumentEvent(ctx context.Context, evt DocumentEvent) error {
	if evt.EventID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		evt.EventID = id
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
