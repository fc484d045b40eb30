package repository

import (
	"strings"
	"testing"

	"github.com/hitoshi/devhub/internal/model"
	"github.com/hitoshi/devhub/internal/security"
)

const testViewer = "7d0f2b4c-7a7e-4a55-9f8c-1a2b3c4d5e6f"

// TestBuildPageQuery はモードと種別に応じたクエリ条件と引数を検証する。
func TestBuildPageQuery(t *testing.T) {
	tests := []struct {
		name         string
		kind         model.ContentKind
		q            model.PageQuery
		wantContains []string
		wantAbsent   []string
		wantArgs     []any
	}{
		{
			name:         "全件の投稿",
			kind:         model.ContentKindPost,
			q:            model.PageQuery{Mode: model.ViewModeAll, Offset: 20, Limit: 10},
			wantContains: []string{"FROM posts p", "ORDER BY p.created_at DESC, p.id DESC OFFSET $1 LIMIT $2"},
			wantAbsent:   []string{"follows"},
			wantArgs:     []any{20, 10},
		},
		{
			name:         "フォロー中の投稿",
			kind:         model.ContentKindPost,
			q:            model.PageQuery{Mode: model.ViewModeFollowing, ViewerID: testViewer, Limit: 10},
			wantContains: []string{"p.author_id IN (SELECT followee_id FROM follows WHERE follower_id = $1)", "OFFSET $2 LIMIT $3"},
			wantArgs:     []any{testViewer, 0, 10},
		},
		{
			name:         "匿名閲覧者のスニペットは公開のみ",
			kind:         model.ContentKindSnippet,
			q:            model.PageQuery{Mode: model.ViewModeAll, Limit: 5},
			wantContains: []string{"FROM snippets s", "AND s.is_public ORDER BY"},
			wantAbsent:   []string{"s.author_id ="},
			wantArgs:     []any{0, 5},
		},
		{
			name: "ログイン閲覧者は自分の非公開スニペットも見える",
			kind: model.ContentKindSnippet,
			q:    model.PageQuery{Mode: model.ViewModeFollowing, ViewerID: testViewer, Offset: 3, Limit: 5},
			wantContains: []string{
				"(s.is_public OR s.author_id = $1)",
				"s.author_id IN (SELECT followee_id FROM follows WHERE follower_id = $2)",
				"OFFSET $3 LIMIT $4",
			},
			wantArgs: []any{testViewer, testViewer, 3, 5},
		},
		{
			name:     "負のオフセットは0に丸める",
			kind:     model.ContentKindPost,
			q:        model.PageQuery{Mode: model.ViewModeAll, Offset: -4, Limit: 10},
			wantArgs: []any{0, 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildPageQuery(tt.kind, tt.q)
			for _, want := range tt.wantContains {
				if !strings.Contains(query, want) {
					t.Errorf("query does not contain %q:\n%s", want, query)
				}
			}
			for _, absent := range tt.wantAbsent {
				if strings.Contains(query, absent) {
					t.Errorf("query must not contain %q:\n%s", absent, query)
				}
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("args = %v, want %v", args, tt.wantArgs)
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Errorf("args[%d] = %v, want %v", i, args[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestBuildPageQuery_UnknownKind(t *testing.T) {
	if query, _ := buildPageQuery("comment", model.PageQuery{Limit: 1}); query != "" {
		t.Errorf("query = %q, want empty", query)
	}
}

// TestBuildByIDQuery は1件取得のクエリが種別と閲覧者に応じた可視性条件を持つことを検証する。
func TestBuildByIDQuery(t *testing.T) {
	const id = "0b8e4f7e-3c1d-4e0a-9a57-5d2c8f6e1a90"

	tests := []struct {
		name         string
		kind         model.ContentKind
		viewerID     string
		wantContains []string
		wantAbsent   []string
		wantArgs     []any
	}{
		{
			name:         "投稿は可視性条件なし",
			kind:         model.ContentKindPost,
			viewerID:     testViewer,
			wantContains: []string{"FROM posts p WHERE p.id = $1"},
			wantAbsent:   []string{"is_public", "$2"},
			wantArgs:     []any{id},
		},
		{
			name:         "匿名閲覧者のスニペットは公開のみ",
			kind:         model.ContentKindSnippet,
			wantContains: []string{"FROM snippets s WHERE s.id = $1 AND s.is_public"},
			wantAbsent:   []string{"s.author_id =", "$2"},
			wantArgs:     []any{id},
		},
		{
			name:         "不正な閲覧者IDは匿名として扱う",
			kind:         model.ContentKindSnippet,
			viewerID:     "not-a-uuid",
			wantContains: []string{"AND s.is_public"},
			wantAbsent:   []string{"s.author_id ="},
			wantArgs:     []any{id},
		},
		{
			name:         "ログイン閲覧者は自分の非公開スニペットも見える",
			kind:         model.ContentKindSnippet,
			viewerID:     testViewer,
			wantContains: []string{"WHERE s.id = $1 AND (s.is_public OR s.author_id = $2)"},
			wantArgs:     []any{id, testViewer},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildByIDQuery(tt.kind, id, tt.viewerID)
			for _, want := range tt.wantContains {
				if !strings.Contains(query, want) {
					t.Errorf("query does not contain %q:\n%s", want, query)
				}
			}
			for _, absent := range tt.wantAbsent {
				if strings.Contains(query, absent) {
					t.Errorf("query must not contain %q:\n%s", absent, query)
				}
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("args = %v, want %v", args, tt.wantArgs)
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Errorf("args[%d] = %v, want %v", i, args[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestBuildByIDQuery_UnknownKind(t *testing.T) {
	if query, args := buildByIDQuery("comment", testViewer, ""); query != "" || args != nil {
		t.Errorf("query = %q, args = %v, want empty", query, args)
	}
}

// TestFetchByID_InvalidIDReturnsNil はUUIDでないIDがDBに到達せずnilになることを検証する。
func TestFetchByID_InvalidIDReturnsNil(t *testing.T) {
	repo := NewPostgresContentRepo(nil, security.NewContentSanitizer())

	for _, id := range []string{"", "42", "not-a-uuid"} {
		item, err := repo.FetchByID(t.Context(), model.ContentKindSnippet, id, testViewer)
		if err != nil || item != nil {
			t.Errorf("FetchByID(%q) = (%v, %v), want (nil, nil)", id, item, err)
		}
	}
}

func TestFetchByID_UnknownKind(t *testing.T) {
	repo := NewPostgresContentRepo(nil, security.NewContentSanitizer())

	_, err := repo.FetchByID(t.Context(), "comment", testViewer, "")
	apiErr, ok := err.(*model.APIError)
	if !ok || apiErr.Code != model.ErrCodeInvalidContentKind {
		t.Errorf("err = %v, want INVALID_CONTENT_KIND", err)
	}
}

func TestValidUUID(t *testing.T) {
	if !validUUID(testViewer) {
		t.Error("expected valid uuid")
	}
	for _, id := range []string{"", "42", "not-a-uuid"} {
		if validUUID(id) {
			t.Errorf("validUUID(%q) = true, want false", id)
		}
	}
}

// TestPostgresReactionRepo_AnonymousIsUnauthorized は匿名閲覧者の更新がDBに到達せずUNAUTHORIZEDになることを検証する。
func TestPostgresReactionRepo_AnonymousIsUnauthorized(t *testing.T) {
	repo := NewPostgresReactionRepo(nil)
	target := model.ItemKey{Kind: model.ContentKindPost, ID: testViewer}

	for name, err := range map[string]error{
		"like":     repo.ToggleReaction(t.Context(), target, "", true),
		"bookmark": repo.ToggleBookmark(t.Context(), target, "", true),
	} {
		apiErr, ok := err.(*model.APIError)
		if !ok || apiErr.Code != model.ErrCodeUnauthorized {
			t.Errorf("%s: err = %v, want UNAUTHORIZED", name, err)
		}
	}
}
