package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/devhub/internal/feed"
	"github.com/hitoshi/devhub/internal/hub"
	"github.com/hitoshi/devhub/internal/interaction"
	"github.com/hitoshi/devhub/internal/middleware"
	"github.com/hitoshi/devhub/internal/model"
	"github.com/hitoshi/devhub/internal/realtime"
)

// --- テスト用モック ---

const (
	testTargetID = "0b6c1f8e-3c1a-4f7e-9a55-2f1d0c9e8b7a"
	testViewer   = "user-1"
)

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error { return m.err }

type mockSessionFinder struct{}

// FindByID はCookieの値 "cookie-<user>" を閲覧者 <user> として扱う。
func (mockSessionFinder) FindByID(_ context.Context, id string) (*model.Session, error) {
	if user, ok := strings.CutPrefix(id, "cookie-"); ok {
		return &model.Session{ID: id, UserID: user, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return nil, nil
}

type mockReader struct {
	fetchPageFn func(ctx context.Context, kind model.ContentKind, q model.PageQuery) ([]model.ContentItem, error)
	fetchByIDFn func(ctx context.Context, kind model.ContentKind, id, viewerID string) (*model.ContentItem, error)
}

func (m *mockReader) FetchPage(ctx context.Context, kind model.ContentKind, q model.PageQuery) ([]model.ContentItem, error) {
	if m.fetchPageFn != nil {
		return m.fetchPageFn(ctx, kind, q)
	}
	return nil, nil
}

func (m *mockReader) FetchByID(ctx context.Context, kind model.ContentKind, id, viewerID string) (*model.ContentItem, error) {
	if m.fetchByIDFn != nil {
		return m.fetchByIDFn(ctx, kind, id, viewerID)
	}
	return nil, nil
}

type mockSubscription struct{}

func (mockSubscription) Unsubscribe() error { return nil }

// mockSubscriber は購読したハンドラを保持し、emitで通知を流す。
type mockSubscriber struct {
	mu       sync.Mutex
	handlers []realtime.InsertHandler
	kinds    []model.ContentKind
}

func (m *mockSubscriber) SubscribeInserts(kind model.ContentKind, h realtime.InsertHandler) (realtime.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
	m.kinds = append(m.kinds, kind)
	return mockSubscription{}, nil
}

func (m *mockSubscriber) emit(ev model.InsertEvent) {
	m.mu.Lock()
	var targets []realtime.InsertHandler
	for i, h := range m.handlers {
		if m.kinds[i] == ev.Kind {
			targets = append(targets, h)
		}
	}
	m.mu.Unlock()
	for _, h := range targets {
		h(context.Background(), ev)
	}
}

type mockInteractionReader struct {
	count int
}

func (m *mockInteractionReader) CountReactions(context.Context, model.ItemKey) (int, error) {
	return m.count, nil
}

func (m *mockInteractionReader) ViewerInteractions(context.Context, model.ItemKey, string) (bool, bool, error) {
	return false, false, nil
}

type mockMutator struct {
	toggleReactionFn func(ctx context.Context, target model.ItemKey, viewerID string, liked bool) error
	toggleBookmarkFn func(ctx context.Context, target model.ItemKey, viewerID string, bookmarked bool) error
}

func (m *mockMutator) ToggleReaction(ctx context.Context, target model.ItemKey, viewerID string, liked bool) error {
	if m.toggleReactionFn != nil {
		return m.toggleReactionFn(ctx, target, viewerID, liked)
	}
	return nil
}

func (m *mockMutator) ToggleBookmark(ctx context.Context, target model.ItemKey, viewerID string, bookmarked bool) error {
	if m.toggleBookmarkFn != nil {
		return m.toggleBookmarkFn(ctx, target, viewerID, bookmarked)
	}
	return nil
}

// --- テスト環境 ---

type testEnv struct {
	router     http.Handler
	hub        *hub.Hub
	reader     *mockReader
	subscriber *mockSubscriber
	mutator    *mockMutator
	health     *mockHealthChecker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	env := &testEnv{
		reader:     &mockReader{fetchPageFn: pagedPosts(3)},
		subscriber: &mockSubscriber{},
		mutator:    &mockMutator{},
		health:     &mockHealthChecker{},
	}
	env.hub = hub.New(
		feed.Deps{Reader: env.reader, Subscriber: env.subscriber},
		interaction.Deps{Reader: &mockInteractionReader{count: 5}, Mutator: env.mutator},
		hub.Config{PageSize: 2, IdleTTL: time.Hour},
		logger, nil,
	)
	t.Cleanup(env.hub.CloseAll)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), logger)
	t.Cleanup(rl.Stop)

	env.router = NewRouter(&RouterDeps{
		SessionFinder:     mockSessionFinder{},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Logger:            logger,
		HealthChecker:     env.health,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "devhub_feed_sessions_active 0\n")
		}),
		Hub: env.hub,
	})
	return env
}

// pagedPosts はn件の投稿を新しい順に返すページ取得関数。スニペットは常に空。
func pagedPosts(n int) func(context.Context, model.ContentKind, model.PageQuery) ([]model.ContentItem, error) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return func(_ context.Context, kind model.ContentKind, q model.PageQuery) ([]model.ContentItem, error) {
		if kind != model.ContentKindPost {
			return nil, nil
		}
		var out []model.ContentItem
		for i := q.Offset; i < n && len(out) < q.Limit; i++ {
			out = append(out, model.ContentItem{
				Kind:      kind,
				ID:        "p" + string(rune('0'+i)),
				AuthorID:  "author",
				CreatedAt: base.Add(-time.Duration(i) * time.Minute),
				Post:      &model.Post{Title: "title"},
			})
		}
		return out, nil
	}
}

// do はリクエストをルーターに流す。viewerが空でなければログインCookieを付ける。
func (e *testEnv) do(t *testing.T, method, path, viewer, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if viewer != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: "cookie-" + viewer})
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// openSession はフィードセッションを開始してIDを返す。
func (e *testEnv) openSession(t *testing.T, viewer string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/feed/sessions", viewer, `{"mode":"all"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp feedStateResponse
	decodeBody(t, w, &resp)
	return resp.SessionID
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status = %d, want %d (body=%s)", w.Code, status, w.Body.String())
	}
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
}

var errBackend = errors.New("backend unavailable")
