package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/devhub/internal/model"
)

// postResponse は投稿ペイロードのAPIレスポンス。
type postResponse struct {
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Tags         []string `json:"tags"`
	CommentCount int      `json:"comment_count"`
}

// snippetResponse はスニペットペイロードのAPIレスポンス。
type snippetResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Code        string `json:"code"`
	Language    string `json:"language"`
	IsPublic    bool   `json:"is_public"`
}

// itemResponse はフィード上の1件のAPIレスポンス。
type itemResponse struct {
	Kind      string           `json:"kind"`
	ID        string           `json:"id"`
	AuthorID  string           `json:"author_id"`
	CreatedAt time.Time        `json:"created_at"`
	Post      *postResponse    `json:"post,omitempty"`
	Snippet   *snippetResponse `json:"snippet,omitempty"`
}

// interactionResponse はターゲット1件のインタラクション状態のAPIレスポンス。
type interactionResponse struct {
	TargetKind    string `json:"target_kind"`
	TargetID      string `json:"target_id"`
	LikeCount     uint   `json:"like_count"`
	IsLiked       bool   `json:"is_liked"`
	IsBookmarked  bool   `json:"is_bookmarked"`
	IsInitialized bool   `json:"is_initialized"`
}

func toItemResponse(item model.ContentItem) itemResponse {
	resp := itemResponse{
		Kind:      string(item.Kind),
		ID:        item.ID,
		AuthorID:  item.AuthorID,
		CreatedAt: item.CreatedAt,
	}
	if p := item.Post; p != nil {
		tags := p.Tags
		if tags == nil {
			tags = []string{}
		}
		resp.Post = &postResponse{
			Title:        p.Title,
			Body:         p.Body,
			Tags:         tags,
			CommentCount: p.CommentCount,
		}
	}
	if s := item.Snippet; s != nil {
		resp.Snippet = &snippetResponse{
			Title:       s.Title,
			Description: s.Description,
			Code:        s.Code,
			Language:    s.Language,
			IsPublic:    s.IsPublic,
		}
	}
	return resp
}

func toItemResponses(items []model.ContentItem) []itemResponse {
	out := make([]itemResponse, len(items))
	for i, item := range items {
		out[i] = toItemResponse(item)
	}
	return out
}

func toInteractionResponse(target model.ItemKey, st model.InteractionState) interactionResponse {
	return interactionResponse{
		TargetKind:    string(target.Kind),
		TargetID:      target.ID,
		LikeCount:     st.LikeCount,
		IsLiked:       st.IsLiked,
		IsBookmarked:  st.IsBookmarked,
		IsInitialized: st.IsInitialized,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
