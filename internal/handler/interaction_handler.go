package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/devhub/internal/hub"
	"github.com/hitoshi/devhub/internal/interaction"
	"github.com/hitoshi/devhub/internal/middleware"
	"github.com/hitoshi/devhub/internal/model"
)

// InteractionHandler はいいね/ブックマークのHTTPハンドラー。
// ターゲットはフィードセッションのレジストリにマウントされている必要がある。
type InteractionHandler struct {
	hub    SessionHub
	logger *slog.Logger
}

// NewInteractionHandler はInteractionHandlerを生成する。
func NewInteractionHandler(h SessionHub, logger *slog.Logger) *InteractionHandler {
	return &InteractionHandler{hub: h, logger: logger}
}

// toggleResponse はトグル操作のAPIレスポンス。
// Appliedがfalseの場合は同じ種別の操作が処理中のため破棄された。
// Confirmedはwait=trueの場合のみ設定され、バックエンドでの確定結果を示す。
type toggleResponse struct {
	Applied   bool                `json:"applied"`
	Confirmed *bool               `json:"confirmed,omitempty"`
	State     interactionResponse `json:"state"`
}

// parseTarget はURLパラメータからターゲットのキーを組み立てる。
func parseTarget(r *http.Request) (model.ItemKey, error) {
	kind, err := model.ParseContentKind(chi.URLParam(r, "kind"))
	if err != nil {
		return model.ItemKey{}, err
	}
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return model.ItemKey{}, model.NewInvalidRequestError("ターゲットIDが不正です")
	}
	return model.ItemKey{Kind: kind, ID: id}, nil
}

// resolve はセッションとターゲットキーを取得する。
func (h *InteractionHandler) resolve(r *http.Request) (*hub.Session, model.ItemKey, error) {
	sess, err := h.hub.Get(chi.URLParam(r, "sid"), middleware.ViewerIDFromContext(r.Context()))
	if err != nil {
		return nil, model.ItemKey{}, err
	}
	target, err := parseTarget(r)
	if err != nil {
		return nil, model.ItemKey{}, err
	}
	return sess, target, nil
}

// mounted はマウント済みのStoreを返す。未マウントならTARGET_NOT_MOUNTEDを返す。
func (h *InteractionHandler) mounted(r *http.Request) (*interaction.Store, error) {
	sess, target, err := h.resolve(r)
	if err != nil {
		return nil, err
	}
	store, ok := sess.Interactions.Get(target)
	if !ok {
		return nil, model.NewTargetNotMountedError(target)
	}
	return store, nil
}

// Mount はターゲットをマウントし、初期化後の状態を返す。マウント済みなら現在の状態を返す。
// PUT /api/feed/sessions/{sid}/targets/{kind}/{id}
func (h *InteractionHandler) Mount(w http.ResponseWriter, r *http.Request) {
	sess, target, err := h.resolve(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	store, err := sess.Interactions.Mount(r.Context(), target)
	if errors.Is(err, interaction.ErrClosed) {
		middleware.WriteError(w, model.NewSessionNotFoundError(sess.ID))
		return
	}
	if err != nil {
		h.logger.Error("failed to mount target",
			slog.String("target", target.String()),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, toInteractionResponse(target, store.State()))
}

// GetState はマウント済みターゲットの現在の状態を返す。
// GET /api/feed/sessions/{sid}/targets/{kind}/{id}
func (h *InteractionHandler) GetState(w http.ResponseWriter, r *http.Request) {
	store, err := h.mounted(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInteractionResponse(store.Target(), store.State()))
}

// ToggleLike はいいねを楽観的に反転する。
// POST /api/feed/sessions/{sid}/targets/{kind}/{id}/like
func (h *InteractionHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, (*interaction.Store).ToggleLike)
}

// ToggleBookmark はブックマークを楽観的に反転する。
// POST /api/feed/sessions/{sid}/targets/{kind}/{id}/bookmark
func (h *InteractionHandler) ToggleBookmark(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, (*interaction.Store).ToggleBookmark)
}

// toggle は楽観的更新を適用した直後の状態を202で返す。
// クエリにwait=trueが指定された場合はバックエンドの結果を待ち、確定後の状態を200で返す。
func (h *InteractionHandler) toggle(w http.ResponseWriter, r *http.Request, op func(*interaction.Store) (<-chan error, bool)) {
	store, err := h.mounted(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	result, applied := op(store)
	if !applied || !wait {
		writeJSON(w, http.StatusAccepted, toggleResponse{
			Applied: applied,
			State:   toInteractionResponse(store.Target(), store.State()),
		})
		return
	}

	select {
	case err := <-result:
		confirmed := err == nil
		writeJSON(w, http.StatusOK, toggleResponse{
			Applied:   true,
			Confirmed: &confirmed,
			State:     toInteractionResponse(store.Target(), store.State()),
		})
	case <-r.Context().Done():
	}
}

// Unmount はターゲットのStoreを破棄する。
// DELETE /api/feed/sessions/{sid}/targets/{kind}/{id}
func (h *InteractionHandler) Unmount(w http.ResponseWriter, r *http.Request) {
	sess, target, err := h.resolve(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if !sess.Interactions.Unmount(target) {
		middleware.WriteError(w, model.NewTargetNotMountedError(target))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
