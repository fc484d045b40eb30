package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/devhub/internal/model"
)

type mockPublisher struct {
	inserts   []model.InsertEvent
	reactions []model.ReactionEvent
	err       error
}

func (m *mockPublisher) PublishInsert(_ context.Context, ev model.InsertEvent) error {
	m.inserts = append(m.inserts, ev)
	return m.err
}

func (m *mockPublisher) PublishReaction(_ context.Context, ev model.ReactionEvent) error {
	m.reactions = append(m.reactions, ev)
	return m.err
}

func newTestBridge(pub Publisher) *PGBridge {
	return NewPGBridge("postgres://unused", pub, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestPGBridge_DispatchContent(t *testing.T) {
	pub := &mockPublisher{}
	b := newTestBridge(pub)

	payload := `{"kind":"snippet","id":"s-1","author_id":"u-1","created_at":"2026-03-01T10:00:00Z"}`
	require.NoError(t, b.Dispatch(context.Background(), ChannelContent, payload))

	require.Len(t, pub.inserts, 1)
	ev := pub.inserts[0]
	assert.Equal(t, model.ItemKey{Kind: model.ContentKindSnippet, ID: "s-1"}, ev.Key())
	assert.Equal(t, "u-1", ev.AuthorID)
	assert.True(t, ev.CreatedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestPGBridge_DispatchReaction(t *testing.T) {
	pub := &mockPublisher{}
	b := newTestBridge(pub)

	payload := `{"event_type":"delete","target_kind":"post","target_id":"p-1","user_id":"u-2"}`
	require.NoError(t, b.Dispatch(context.Background(), ChannelReactions, payload))

	require.Len(t, pub.reactions, 1)
	assert.Equal(t, model.ReactionEvent{
		Target:  model.ItemKey{Kind: model.ContentKindPost, ID: "p-1"},
		Type:    model.ReactionDeleted,
		ActorID: "u-2",
	}, pub.reactions[0])
}

func TestPGBridge_DispatchRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		payload string
	}{
		{"broken json", ChannelContent, `{`},
		{"unknown kind", ChannelContent, `{"kind":"comment","id":"c-1"}`},
		{"missing id", ChannelContent, `{"kind":"post"}`},
		{"unknown event type", ChannelReactions, `{"event_type":"update","target_kind":"post","target_id":"p-1"}`},
		{"unknown channel", "other", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			b := newTestBridge(pub)

			assert.Error(t, b.Dispatch(context.Background(), tt.channel, tt.payload))
			assert.Empty(t, pub.inserts)
			assert.Empty(t, pub.reactions)
		})
	}
}

func TestPGBridge_DispatchPropagatesPublishError(t *testing.T) {
	pub := &mockPublisher{err: errors.New("nats down")}
	b := newTestBridge(pub)

	err := b.Dispatch(context.Background(), ChannelContent, `{"kind":"post","id":"p-1"}`)
	assert.ErrorContains(t, err, "nats down")
}
