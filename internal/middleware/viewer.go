// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/devhub/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// viewerIDContextKey はリクエストコンテキストに閲覧者IDを格納するためのキー。
var viewerIDContextKey = contextKey("viewer_id")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewViewerMiddleware はHTTP Only Cookieからログインセッションを読み取り、
// 閲覧者IDをリクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、セッションが無効、または検索に失敗した場合は匿名閲覧者として通す。
func NewViewerMiddleware(sessionFinder SessionFinder, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				logger.Warn("failed to find session, continuing as anonymous",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			if entry, ok := r.Context().Value(requestLogContextKey).(*requestLog); ok {
				entry.viewerID = session.UserID
			}
			next.ServeHTTP(w, r.WithContext(ContextWithViewerID(r.Context(), session.UserID)))
		})
	}
}

// ViewerIDFromContext はリクエストコンテキストから閲覧者IDを取得する。
// 匿名閲覧者の場合は空文字列を返す。
func ViewerIDFromContext(ctx context.Context) string {
	viewerID, _ := ctx.Value(viewerIDContextKey).(string)
	return viewerID
}

// ContextWithViewerID はコンテキストに閲覧者IDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithViewerID(ctx context.Context, viewerID string) context.Context {
	return context.WithValue(ctx, viewerIDContextKey, viewerID)
}
