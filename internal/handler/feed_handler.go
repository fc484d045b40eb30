package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/devhub/internal/feed"
	"github.com/hitoshi/devhub/internal/hub"
	"github.com/hitoshi/devhub/internal/middleware"
	"github.com/hitoshi/devhub/internal/model"
)

// streamHeartbeat はSSE接続を維持するためのコメント送信間隔。
const streamHeartbeat = 15 * time.Second

// SessionHub はフィードハンドラーが必要とするセッション管理インターフェース。
type SessionHub interface {
	Open(ctx context.Context, viewerID string, mode model.ViewMode) (*hub.Session, error)
	Get(id, viewerID string) (*hub.Session, error)
	Close(id string) bool
}

// FeedHandler はフィードセッションのHTTPハンドラー。
type FeedHandler struct {
	hub    SessionHub
	logger *slog.Logger
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(h SessionHub, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{hub: h, logger: logger}
}

// modeRequest は表示モード指定のリクエストボディ。
type modeRequest struct {
	Mode string `json:"mode"`
}

// feedStateResponse はフィードセッションの現在状態のAPIレスポンス。
// LoadFailedは直近のページ読み込みが失敗したことを示し、再試行できる。
type feedStateResponse struct {
	SessionID  string         `json:"session_id"`
	Mode       string         `json:"mode"`
	Items      []itemResponse `json:"items"`
	Exhausted  bool           `json:"exhausted"`
	LoadFailed bool           `json:"load_failed,omitempty"`
}

// loadMoreResponse は追加読み込みのAPIレスポンス。
type loadMoreResponse struct {
	feedStateResponse
	Loaded bool `json:"loaded"`
}

func toFeedState(sess *hub.Session, loadErr error) feedStateResponse {
	return feedStateResponse{
		SessionID:  sess.ID,
		Mode:       string(sess.Feed.Mode()),
		Items:      toItemResponses(sess.Feed.Items()),
		Exhausted:  sess.Feed.Exhausted(),
		LoadFailed: loadErr != nil,
	}
}

// decodeMode はリクエストボディから表示モードを読み取る。ボディが空ならallとして扱う。
func decodeMode(r *http.Request) (model.ViewMode, error) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", model.NewInvalidRequestError("リクエストボディの解析に失敗しました")
	}
	return model.ParseViewMode(req.Mode)
}

// session はURLのセッションIDと閲覧者IDからセッションを取得する。
func (h *FeedHandler) session(r *http.Request) (*hub.Session, error) {
	return h.hub.Get(chi.URLParam(r, "sid"), middleware.ViewerIDFromContext(r.Context()))
}

// feedError はフィード操作のエラーをレスポンスに変換する。
// 破棄済みのControllerはセッション未検出として扱う。
func (h *FeedHandler) feedError(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, feed.ErrClosed) {
		middleware.WriteError(w, model.NewSessionNotFoundError(chi.URLParam(r, "sid")))
		return true
	}
	return false
}

// CreateSession はフィードセッションを開始し、初回ページを返す。
// POST /api/feed/sessions
func (h *FeedHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	mode, err := decodeMode(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	sess, err := h.hub.Open(r.Context(), middleware.ViewerIDFromContext(r.Context()), mode)
	if sess == nil {
		h.logger.Error("failed to open feed session", slog.String("error", err.Error()))
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFeedState(sess, err))
}

// GetSession はフィードセッションの現在のアイテム一覧を返す。
// GET /api/feed/sessions/{sid}
func (h *FeedHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeedState(sess, nil))
}

// SetMode は表示モードを切り替え、新しいモードの初回ページを返す。
// PUT /api/feed/sessions/{sid}/mode
func (h *FeedHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	mode, err := decodeMode(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	err = sess.Feed.SetViewMode(r.Context(), mode)
	if h.feedError(w, r, err) {
		return
	}
	writeJSON(w, http.StatusOK, toFeedState(sess, err))
}

// LoadMore は次のページを読み込む。
// POST /api/feed/sessions/{sid}/more
func (h *FeedHandler) LoadMore(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	loaded, err := sess.Feed.LoadMore(r.Context())
	if h.feedError(w, r, err) {
		return
	}
	if err != nil {
		h.logger.Warn("load more failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, loadMoreResponse{
		feedStateResponse: toFeedState(sess, err),
		Loaded:            loaded,
	})
}

// Stream はリアルタイムで先頭追加されたアイテムをServer-Sent Eventsで配信する。
// GET /api/feed/sessions/{sid}/stream
func (h *FeedHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	// サーバー全体のWriteTimeoutをこの接続では無効にする
	_ = rc.SetWriteDeadline(time.Time{})

	release := sess.AcquireStream()
	defer release()

	items := sess.Feed.Watch(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Warn("streaming not supported", slog.String("error", err.Error()))
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case item, ok := <-items:
			if !ok {
				return
			}
			data, err := json.Marshal(toItemResponse(item))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: item\ndata: %s\n\n", data)
			if err := rc.Flush(); err != nil {
				return
			}
			sess.Touch(time.Now())
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// CloseSession はフィードセッションを破棄する。
// DELETE /api/feed/sessions/{sid}
func (h *FeedHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.hub.Close(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}
