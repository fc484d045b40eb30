// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// ContentKind はフィードに流れるコンテンツの種別を表す。
type ContentKind string

const (
	// ContentKindPost はフォーラム投稿。
	ContentKindPost ContentKind = "post"
	// ContentKindSnippet はコードスニペット。
	ContentKindSnippet ContentKind = "snippet"
)

// ContentKinds はフィードが扱う全種別。購読やページングはこの順で行う。
var ContentKinds = []ContentKind{ContentKindPost, ContentKindSnippet}

// ParseContentKind は文字列をContentKindに変換する。
// 未知の種別の場合はINVALID_CONTENT_KINDエラーを返す。
func ParseContentKind(s string) (ContentKind, error) {
	switch ContentKind(s) {
	case ContentKindPost, ContentKindSnippet:
		return ContentKind(s), nil
	default:
		return "", NewInvalidContentKindError(s)
	}
}

// Post はフォーラム投稿のペイロード。
type Post struct {
	Title        string
	Body         string // サニタイズ済みHTML
	Tags         []string
	CommentCount int
}

// Snippet はコードスニペットのペイロード。
type Snippet struct {
	Title       string
	Description string // サニタイズ済み
	Code        string
	Language    string
	IsPublic    bool
}

// ContentItem はフィード上の1件を表すタグ付きユニオン。
// Kindに応じてPostまたはSnippetのどちらか一方だけが設定される。
// クライアントに渡った後は不変として扱い、再取得時は丸ごと置き換える。
type ContentItem struct {
	Kind      ContentKind
	ID        string
	AuthorID  string
	CreatedAt time.Time

	Post    *Post
	Snippet *Snippet
}

// Key はアイテムの複合キーを返す。
func (c ContentItem) Key() ItemKey {
	return ItemKey{Kind: c.Kind, ID: c.ID}
}

// ItemKey は (kind, id) の複合キー。
// 既知アイテム台帳の要素型であり、描画リストのキーでもある。
type ItemKey struct {
	Kind ContentKind
	ID   string
}

// String は "post:123" 形式の文字列を返す。
func (k ItemKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.ID)
}

// ViewMode はフィードの表示モードを表す。
type ViewMode string

const (
	// ViewModeAll は全ユーザーのコンテンツを表示する。
	ViewModeAll ViewMode = "all"
	// ViewModeFollowing はフォロー中の作者のコンテンツのみを表示する。
	ViewModeFollowing ViewMode = "following"
)

// ParseViewMode は文字列をViewModeに変換する。空文字列はViewModeAllとして扱う。
func ParseViewMode(s string) (ViewMode, error) {
	switch ViewMode(s) {
	case "":
		return ViewModeAll, nil
	case ViewModeAll, ViewModeFollowing:
		return ViewMode(s), nil
	default:
		return "", NewInvalidViewModeError(s)
	}
}

// PageQuery はページング取得の条件。
// Offsetはサーバーカーソルではなく「既に保持している件数」を表す。
type PageQuery struct {
	Mode     ViewMode
	ViewerID string
	Offset   int
	Limit    int
}
