package rabbitmq

import (
	"context"

	"github.com/docsift/docsift/internal/extraction"
)

// EventSink adapts the Publisher to the extraction service's publisher
// interface.
type EventSink struct {
	pub *Publisher
}

func NewEventSink(p *Publisher) *EventSink {
	return &EventSink{pub: p}
}

func (s *EventSink) PublishDocumentEvent(ctx context.Context, evt extraction.Event) error {
	return s.pub.PublishDocumentEvent(ctx, DocumentEvent{
		Type:       evt.Type,
		DocumentID: evt.DocumentID,
		UserID:     evt.UserID,
		Error:      evt.Error,
	})
}
