package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/devhub/internal/model"
)

// PostgresReactionRepo はPostgreSQLを使用したいいね・ブックマークリポジトリ。
type PostgresReactionRepo struct {
	db *sql.DB
}

// NewPostgresReactionRepo はPostgresReactionRepoを生成する。
func NewPostgresReactionRepo(db *sql.DB) *PostgresReactionRepo {
	return &PostgresReactionRepo{db: db}
}

// CountReactions はターゲットのいいね数を返す。
func (r *PostgresReactionRepo) CountReactions(ctx context.Context, target model.ItemKey) (int, error) {
	if !validUUID(target.ID) {
		return 0, nil
	}

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM reactions WHERE target_kind = $1 AND target_id = $2`,
		string(target.Kind), target.ID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("いいね数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ViewerInteractions は閲覧者自身のいいね・ブックマーク有無を返す。
func (r *PostgresReactionRepo) ViewerInteractions(ctx context.Context, target model.ItemKey, viewerID string) (bool, bool, error) {
	if !validUUID(target.ID) || !validUUID(viewerID) {
		return false, false, nil
	}

	var liked, bookmarked bool
	err := r.db.QueryRowContext(ctx,
		`SELECT
		     EXISTS (SELECT 1 FROM reactions WHERE target_kind = $1 AND target_id = $2 AND user_id = $3),
		     EXISTS (SELECT 1 FROM bookmarks WHERE target_kind = $1 AND target_id = $2 AND user_id = $3)`,
		string(target.Kind), target.ID, viewerID,
	).Scan(&liked, &bookmarked)
	if err != nil {
		return false, false, fmt.Errorf("閲覧者のリアクション状態の取得に失敗しました: %w", err)
	}
	return liked, bookmarked, nil
}

// ToggleReaction はいいね状態を設定する。
// 既に目的の状態であれば何もしない。
func (r *PostgresReactionRepo) ToggleReaction(ctx context.Context, target model.ItemKey, viewerID string, liked bool) error {
	return r.setState(ctx, "reactions", target, viewerID, liked)
}

// ToggleBookmark はブックマーク状態を設定する。
func (r *PostgresReactionRepo) ToggleBookmark(ctx context.Context, target model.ItemKey, viewerID string, bookmarked bool) error {
	return r.setState(ctx, "bookmarks", target, viewerID, bookmarked)
}

// setState は指定テーブルの行を追加または削除する。tableは呼び出し側で固定値のみ渡すこと。
func (r *PostgresReactionRepo) setState(ctx context.Context, table string, target model.ItemKey, viewerID string, on bool) error {
	if viewerID == "" {
		return model.NewUnauthorizedError()
	}
	if !validUUID(target.ID) || !validUUID(viewerID) {
		return model.NewInvalidRequestError("invalid target or viewer id")
	}

	var err error
	if on {
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO `+table+` (id, target_kind, target_id, user_id)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (target_kind, target_id, user_id) DO NOTHING`,
			uuid.New().String(), string(target.Kind), target.ID, viewerID,
		)
	} else {
		_, err = r.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE target_kind = $1 AND target_id = $2 AND user_id = $3`,
			string(target.Kind), target.ID, viewerID,
		)
	}
	if err != nil {
		return fmt.Errorf("%sの更新に失敗しました: %w", table, err)
	}
	return nil
}

var _ ReactionRepository = (*PostgresReactionRepo)(nil)
