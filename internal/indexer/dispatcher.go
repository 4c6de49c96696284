package indexer

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/indexflow/pkg/kafka"
)

// EventHandler handles a single decoded event.
type EventHandler interface {
	Handle(ctx context.Context, ev InboundEvent) Result
}

// Dispatcher turns bus messages into events for an EventHandler.
type Dispatcher struct {
	handler EventHandler
	logger  *zap.Logger
}

// NewDispatcher returns a Dispatcher feeding handler. A nil logger discards logs.
func NewDispatcher(handler EventHandler, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{handler: handler, logger: logger}
}

// HandleMessage decodes msg and hands it to the handler. It always returns
// nil so the offset gets committed: malformed payloads are dropped, and
// redelivery of failed events is left to the bus.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg kafkago.Message) error {
	log := d.logger.With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	var ev InboundEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		log.Error("invalid event payload, dropping", zap.Error(err), zap.Any("headers", kafka.Headers(msg)))
		return nil
	}

	result := d.handler.Handle(ctx, ev)
	log.Debug("message dispatched", zap.String("entity_id", ev.EntityID), zap.Stringer("result", result))
	return nil
}
