package indexer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundEventDecoding(t *testing.T) {
	payload := `{
		"type": "dataresource",
		"action": "add",
		"subCategory": "data",
		"principal": "alice",
		"sender": "repository",
		"addressees": ["indexer", "thumbnailer"],
		"currentTimestamp": 1700000000000,
		"entityId": "res-1",
		"metadata": {
			"contentType": "application/ld+json",
			"contentUri": "file:///var/data/res-1/in.json",
			"contentPath": "data/in.json"
		}
	}`

	var ev InboundEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &ev))

	assert.Equal(t, "dataresource", ev.Category)
	assert.Equal(t, "res-1", ev.EntityID)
	assert.Equal(t, int64(1700000000000), ev.Timestamp)
	assert.True(t, ev.IsContentEvent())
	assert.True(t, ev.IsAddressedTo("indexer"))
	assert.False(t, ev.IsAddressedTo("index"))
	assert.Equal(t, "application/ld+json", ev.ContentType())
	assert.Equal(t, "file:///var/data/res-1/in.json", ev.ContentURI())
	assert.Equal(t, "data/in.json", ev.ContentPath())
}

func TestInboundEventWithoutMetadata(t *testing.T) {
	ev := InboundEvent{EntityID: "res-1"}

	assert.False(t, ev.IsContentEvent())
	assert.False(t, ev.IsAddressedTo("indexer"))
	assert.Empty(t, ev.ContentType())
	assert.Empty(t, ev.ContentPath())
}

func TestValidateEntityID(t *testing.T) {
	assert.NoError(t, validateEntityID("res-1"))
	assert.NoError(t, validateEntityID("a.b"))

	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "../etc"} {
		assert.Error(t, validateEntityID(id), "entity id %q", id)
	}
}

func TestResultText(t *testing.T) {
	assert.Equal(t, "REJECTED", ResultRejected.String())
	assert.Equal(t, "SUCCEEDED", ResultSucceeded.String())
	assert.Equal(t, "FAILED", ResultFailed.String())

	data, err := json.Marshal(map[string]Result{"result": ResultSucceeded})
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"SUCCEEDED"}`, string(data))
}
