// Package events publishes call lifecycle events to Kafka and to in-process
// subscribers such as the dashboard's live feed. Publishing is best-effort:
// failures are logged, never surfaced to the call path.
package events

import (
	"context"
	"time"

	"calling-agent/internal/clients/kafka"
	"calling-agent/internal/observability"
	"calling-agent/internal/store"

	"github.com/google/uuid"
)

// Event type names carried in the published messages.
const (
	TypeCallStarted   = "call.started"
	TypeTurnCompleted = "call.turn_completed"
	TypeCallEnded     = "call.ended"
)

// Sink receives every published event in-process. The dashboard hub
// implements this to feed live WebSocket subscribers.
type Sink interface {
	Broadcast(event kafka.EventMessage)
}

// Publisher fans call events out to Kafka (when configured) and the sink.
type Publisher struct {
	producer *kafka.Producer // nil when event streaming is disabled
	sink     Sink            // nil when no in-process subscriber exists
	logger   *observability.Logger
}

func NewPublisher(producer *kafka.Producer, sink Sink, logger *observability.Logger) *Publisher {
	return &Publisher{producer: producer, sink: sink, logger: logger}
}

func (p *Publisher) publish(ctx context.Context, eventType, callSID string, data map[string]interface{}) {
	event := kafka.EventMessage{
		ID:        uuid.New().String(),
		Type:      eventType,
		CallSID:   callSID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if p.sink != nil {
		p.sink.Broadcast(event)
	}
	if p.producer != nil {
		if err := p.producer.PublishEvent(ctx, event); err != nil {
			p.logger.Error(ctx, "failed to publish call event", err)
		}
	}
}

// DispatchCallStarted publishes a call.started event.
func (p *Publisher) DispatchCallStarted(ctx context.Context, callSID, to string) {
	p.publish(ctx, TypeCallStarted, callSID, map[string]interface{}{
		"to": to,
	})
}

// DispatchTurnCompleted publishes a call.turn_completed event.
func (p *Publisher) DispatchTurnCompleted(ctx context.Context, turn store.Turn) {
	p.publish(ctx, TypeTurnCompleted, turn.CallSID, map[string]interface{}{
		"sequence_number": turn.SequenceNumber,
		"caller_text":     turn.CallerText,
		"agent_text":      turn.AgentText,
	})
}

// DispatchCallEnded publishes a call.ended event.
func (p *Publisher) DispatchCallEnded(ctx context.Context, callSID, status string) {
	p.publish(ctx, TypeCallEnded, callSID, map[string]interface{}{
		"status": status,
	})
}
