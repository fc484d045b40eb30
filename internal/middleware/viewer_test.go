package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/devhub/internal/model"
)

// --- モック定義 ---

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// serveViewer はミドルウェアを通したリクエストで見えた閲覧者IDを返す。
func serveViewer(t *testing.T, repo SessionFinder, cookie *http.Cookie) (string, int) {
	t.Helper()
	var viewerID string
	handler := NewViewerMiddleware(repo, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewerID = ViewerIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/feed/sessions", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return viewerID, w.Code
}

func TestViewerMiddleware_ValidSession_InjectsViewerID(t *testing.T) {
	repo := &mockSessionRepository{
		findByIDFn: func(_ context.Context, id string) (*model.Session, error) {
			if id == "valid-session-id" {
				return &model.Session{ID: id, UserID: "user-123", ExpiresAt: time.Now().Add(time.Hour)}, nil
			}
			return nil, nil
		},
	}

	viewerID, status := serveViewer(t, repo, &http.Cookie{Name: "session_id", Value: "valid-session-id"})
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if viewerID != "user-123" {
		t.Errorf("viewerID = %q, want %q", viewerID, "user-123")
	}
}

// TestViewerMiddleware_AnonymousFallback は無効なセッションでも匿名閲覧者として通ることを検証する。
func TestViewerMiddleware_AnonymousFallback(t *testing.T) {
	tests := []struct {
		name   string
		repo   *mockSessionRepository
		cookie *http.Cookie
	}{
		{
			name: "Cookieなし",
			repo: &mockSessionRepository{},
		},
		{
			name:   "空のCookie",
			repo:   &mockSessionRepository{},
			cookie: &http.Cookie{Name: "session_id", Value: ""},
		},
		{
			name:   "期限切れまたは存在しないセッション",
			repo:   &mockSessionRepository{},
			cookie: &http.Cookie{Name: "session_id", Value: "expired"},
		},
		{
			name: "検索エラー",
			repo: &mockSessionRepository{
				findByIDFn: func(context.Context, string) (*model.Session, error) {
					return nil, errors.New("db down")
				},
			},
			cookie: &http.Cookie{Name: "session_id", Value: "any"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viewerID, status := serveViewer(t, tt.repo, tt.cookie)
			if status != http.StatusOK {
				t.Errorf("status = %d, want 200", status)
			}
			if viewerID != "" {
				t.Errorf("viewerID = %q, want anonymous", viewerID)
			}
		})
	}
}

func TestContextWithViewerID(t *testing.T) {
	ctx := ContextWithViewerID(context.Background(), "user-1")
	if got := ViewerIDFromContext(ctx); got != "user-1" {
		t.Errorf("ViewerIDFromContext = %q, want user-1", got)
	}
	if got := ViewerIDFromContext(context.Background()); got != "" {
		t.Errorf("ViewerIDFromContext(empty) = %q, want empty", got)
	}
}
