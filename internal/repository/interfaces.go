// Package repository はデータ永続化のインターフェースとPostgreSQL/Redis実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/devhub/internal/model"
)

// ContentRepository は投稿・スニペットの読み取りインターフェース。
type ContentRepository interface {
	// FetchPage は作成日時の降順で保持済み件数以降のページを返す。
	// following モードではフォロー中の作者のコンテンツのみを返す。
	// スニペットは公開済みか閲覧者自身のものだけが見える。
	FetchPage(ctx context.Context, kind model.ContentKind, q model.PageQuery) ([]model.ContentItem, error)

	// FetchByID はFetchPageと同じ可視性ルールで1件を返す。見えない場合はnilを返す。
	FetchByID(ctx context.Context, kind model.ContentKind, id, viewerID string) (*model.ContentItem, error)
}

// ReactionRepository はいいね・ブックマークの永続化インターフェース。
// 更新は反転ではなく状態指定で行うため冪等。
type ReactionRepository interface {
	// CountReactions はターゲットのいいね数を返す。
	CountReactions(ctx context.Context, target model.ItemKey) (int, error)

	// ViewerInteractions は閲覧者自身のいいね・ブックマーク有無を返す。
	ViewerInteractions(ctx context.Context, target model.ItemKey, viewerID string) (liked, bookmarked bool, err error)

	// ToggleReaction はいいね状態を設定する。匿名閲覧者の場合はUNAUTHORIZEDエラーを返す。
	ToggleReaction(ctx context.Context, target model.ItemKey, viewerID string, liked bool) error

	// ToggleBookmark はブックマーク状態を設定する。匿名閲覧者の場合はUNAUTHORIZEDエラーを返す。
	ToggleBookmark(ctx context.Context, target model.ItemKey, viewerID string, bookmarked bool) error
}

// FollowRepository はフォロー関係の読み取りインターフェース。
type FollowRepository interface {
	// ListFollowing は閲覧者がフォローしている作者IDを返す。
	ListFollowing(ctx context.Context, viewerID string) ([]string, error)
}

// SessionRepository はログインセッションの読み取りインターフェース。
// セッションの作成と削除は認証サービスが行う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
}
