package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/devhub/internal/model"
	"github.com/hitoshi/devhub/internal/realtime"
)

// --- テスト用モック ---

// mockReader はテスト用のContentReaderモック。
type mockReader struct {
	fetchPageFn func(ctx context.Context, kind model.ContentKind, q model.PageQuery) ([]model.ContentItem, error)
	fetchByIDFn func(ctx context.Context, kind model.ContentKind, id, viewerID string) (*model.ContentItem, error)

	pageCalls atomic.Int32
	byIDCalls atomic.Int32
}

func (m *mockReader) FetchPage(ctx context.Context, kind model.ContentKind, q model.PageQuery) ([]model.ContentItem, error) {
	m.pageCalls.Add(1)
	if m.fetchPageFn != nil {
		return m.fetchPageFn(ctx, kind, q)
	}
	return nil, nil
}

func (m *mockReader) FetchByID(ctx context.Context, kind model.ContentKind, id, viewerID string) (*model.ContentItem, error) {
	m.byIDCalls.Add(1)
	if m.fetchByIDFn != nil {
		return m.fetchByIDFn(ctx, kind, id, viewerID)
	}
	return nil, nil
}

// mockSubscription はテスト用のSubscriptionモック。
type mockSubscription struct {
	unsubscribed atomic.Bool
}

func (m *mockSubscription) Unsubscribe() error {
	m.unsubscribed.Store(true)
	return nil
}

// mockSubscriber は購読したハンドラを保持し、emitで同期的に通知を流すモック。
type mockSubscriber struct {
	mu       sync.Mutex
	handlers map[model.ContentKind]realtime.InsertHandler
	subs     []*mockSubscription
	failKind map[model.ContentKind]error
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{
		handlers: make(map[model.ContentKind]realtime.InsertHandler),
		failKind: make(map[model.ContentKind]error),
	}
}

func (m *mockSubscriber) SubscribeInserts(kind model.ContentKind, h realtime.InsertHandler) (realtime.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failKind[kind]; err != nil {
		return nil, err
	}
	m.handlers[kind] = h
	sub := &mockSubscription{}
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *mockSubscriber) emit(ev model.InsertEvent) {
	m.mu.Lock()
	h := m.handlers[ev.Kind]
	m.mu.Unlock()
	if h != nil {
		h(context.Background(), ev)
	}
}

// mockFollows はテスト用のFollowListerモック。
type mockFollows struct {
	ids []string
	err error
}

func (m *mockFollows) ListFollowing(_ context.Context, _ string) ([]string, error) {
	return m.ids, m.err
}

func post(id, author string, ts int) model.ContentItem {
	return model.ContentItem{
		Kind:      model.ContentKindPost,
		ID:        id,
		AuthorID:  author,
		CreatedAt: time.Unix(int64(ts), 0),
		Post:      &model.Post{Title: id},
	}
}

func snippet(id, author string, ts int) model.ContentItem {
	return model.ContentItem{
		Kind:      model.ContentKindSnippet,
		ID:        id,
		AuthorID:  author,
		CreatedAt: time.Unix(int64(ts), 0),
		Snippet:   &model.Snippet{Title: id, IsPublic: true},
	}
}

func keysOf(items []model.ContentItem) []string {
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item.Key().String()
	}
	return keys
}
