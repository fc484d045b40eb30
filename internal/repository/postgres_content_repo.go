package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/devhub/internal/model"
	"github.com/hitoshi/devhub/internal/security"
)

// PostgresContentRepo はPostgreSQLを使用したコンテンツリポジトリ。
// 返却前に本文とタイトルをサニタイズする。
type PostgresContentRepo struct {
	db        *sql.DB
	sanitizer security.ContentSanitizer
}

// NewPostgresContentRepo はPostgresContentRepoを生成する。
func NewPostgresContentRepo(db *sql.DB, sanitizer security.ContentSanitizer) *PostgresContentRepo {
	return &PostgresContentRepo{db: db, sanitizer: sanitizer}
}

const postColumns = `p.id, p.author_id, p.title, p.body, p.tags, p.comment_count, p.created_at`

const snippetColumns = `s.id, s.author_id, s.title, s.description, s.code, s.language, s.is_public, s.created_at`

// FetchPage は作成日時の降順でページを返す。同時刻はIDの降順で並べる。
func (r *PostgresContentRepo) FetchPage(ctx context.Context, kind model.ContentKind, q model.PageQuery) ([]model.ContentItem, error) {
	if q.Mode == model.ViewModeFollowing && !validUUID(q.ViewerID) {
		// 匿名閲覧者のフォロー中フィードは常に空
		return []model.ContentItem{}, nil
	}

	query, args := buildPageQuery(kind, q)
	if query == "" {
		return nil, model.NewInvalidContentKindError(string(kind))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%sの一覧取得に失敗しました: %w", kind, err)
	}
	defer rows.Close()

	items := []model.ContentItem{}
	for rows.Next() {
		item, err := r.scan(kind, rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%sの一覧走査に失敗しました: %w", kind, err)
	}
	return items, nil
}

// buildPageQuery は種別と表示モードに応じたページ取得クエリを組み立てる。
func buildPageQuery(kind model.ContentKind, q model.PageQuery) (string, []any) {
	var query string
	args := []any{}
	argIndex := 1

	switch kind {
	case model.ContentKindPost:
		query = `SELECT ` + postColumns + ` FROM posts p WHERE true`
	case model.ContentKindSnippet:
		query = `SELECT ` + snippetColumns + ` FROM snippets s WHERE true`
		if validUUID(q.ViewerID) {
			query += fmt.Sprintf(" AND (s.is_public OR s.author_id = $%d)", argIndex)
			args = append(args, q.ViewerID)
			argIndex++
		} else {
			query += " AND s.is_public"
		}
	default:
		return "", nil
	}

	alias := "p"
	if kind == model.ContentKindSnippet {
		alias = "s"
	}

	if q.Mode == model.ViewModeFollowing {
		query += fmt.Sprintf(
			" AND %s.author_id IN (SELECT followee_id FROM follows WHERE follower_id = $%d)",
			alias, argIndex,
		)
		args = append(args, q.ViewerID)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY %[1]s.created_at DESC, %[1]s.id DESC OFFSET $%[2]d LIMIT $%[3]d",
		alias, argIndex, argIndex+1)
	args = append(args, max(q.Offset, 0), q.Limit)

	return query, args
}

// FetchByID は1件を返す。存在しない、または閲覧者から見えない場合はnilを返す。
func (r *PostgresContentRepo) FetchByID(ctx context.Context, kind model.ContentKind, id, viewerID string) (*model.ContentItem, error) {
	if !validUUID(id) {
		return nil, nil
	}

	query, args := buildByIDQuery(kind, id, viewerID)
	if query == "" {
		return nil, model.NewInvalidContentKindError(string(kind))
	}

	item, err := r.scan(kind, r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// buildByIDQuery は1件取得のSQLと引数を組み立てる。
// スニペットはページ取得と同じく、公開済みか閲覧者自身のものだけを返す。
// 未知の種別の場合は空文字列を返す。
func buildByIDQuery(kind model.ContentKind, id, viewerID string) (string, []any) {
	switch kind {
	case model.ContentKindPost:
		return `SELECT ` + postColumns + ` FROM posts p WHERE p.id = $1`, []any{id}
	case model.ContentKindSnippet:
		if !validUUID(viewerID) {
			return `SELECT ` + snippetColumns + ` FROM snippets s WHERE s.id = $1 AND s.is_public`, []any{id}
		}
		return `SELECT ` + snippetColumns + ` FROM snippets s WHERE s.id = $1 AND (s.is_public OR s.author_id = $2)`,
			[]any{id, viewerID}
	default:
		return "", nil
	}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresContentRepo) scan(kind model.ContentKind, row rowScanner) (model.ContentItem, error) {
	item := model.ContentItem{Kind: kind}

	switch kind {
	case model.ContentKindPost:
		p := &model.Post{}
		var tags []string
		if err := row.Scan(&item.ID, &item.AuthorID, &p.Title, &p.Body,
			pq.Array(&tags), &p.CommentCount, &item.CreatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return item, err
			}
			return item, fmt.Errorf("投稿行の読み取りに失敗しました: %w", err)
		}
		p.Title = r.sanitizer.SanitizeText(p.Title)
		p.Body = r.sanitizer.SanitizeHTML(p.Body)
		p.Tags = tags
		item.Post = p

	case model.ContentKindSnippet:
		s := &model.Snippet{}
		if err := row.Scan(&item.ID, &item.AuthorID, &s.Title, &s.Description,
			&s.Code, &s.Language, &s.IsPublic, &item.CreatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return item, err
			}
			return item, fmt.Errorf("スニペット行の読み取りに失敗しました: %w", err)
		}
		s.Title = r.sanitizer.SanitizeText(s.Title)
		s.Description = r.sanitizer.SanitizeText(s.Description)
		item.Snippet = s
	}

	return item, nil
}

// validUUID はIDがUUIDとして解釈できるかを返す。
// UUID列に不正な値を渡すとクエリ自体が失敗するため、事前に弾く。
func validUUID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

var _ ContentRepository = (*PostgresContentRepo)(nil)
