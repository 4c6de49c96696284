package indexer

import (
	"context"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockHandler struct{ mock.Mock }

func (m *mockHandler) Handle(ctx context.Context, ev InboundEvent) Result {
	args := m.Called(ctx, ev)
	return args.Get(0).(Result)
}

func (m *mockHandler) Configure(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func TestDispatcherHandlesDecodedEvent(t *testing.T) {
	handler := new(mockHandler)
	handler.On("Handle", mock.Anything, mock.MatchedBy(func(ev InboundEvent) bool {
		return ev.EntityID == "res-1" && ev.IsAddressedTo("indexer")
	})).Return(ResultFailed).Once()

	d := NewDispatcher(handler, nil)
	err := d.HandleMessage(context.Background(), kafkago.Message{
		Topic: "repository.events",
		Value: []byte(`{"type":"dataresource","entityId":"res-1","addressees":["indexer"]}`),
	})

	assert.NoError(t, err, "failed events are still committed")
	handler.AssertExpectations(t)
}

func TestDispatcherDropsMalformedPayload(t *testing.T) {
	handler := new(mockHandler)
	d := NewDispatcher(handler, nil)

	err := d.HandleMessage(context.Background(), kafkago.Message{
		Value:   []byte("not json"),
		Headers: []kafkago.Header{{Key: "event_id", Value: []byte("42")}},
	})

	assert.NoError(t, err)
	handler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}
