package model

import "time"

// InsertEvent はコンテンツ行の挿入通知。
// ペイロードはIDと最小限のメタデータのみで、本体は別途IDで取得する。
type InsertEvent struct {
	Kind      ContentKind `json:"kind"`
	ID        string      `json:"id"`
	AuthorID  string      `json:"author_id"`
	CreatedAt time.Time   `json:"created_at"`
}

// Key は通知対象アイテムの複合キーを返す。
func (e InsertEvent) Key() ItemKey {
	return ItemKey{Kind: e.Kind, ID: e.ID}
}

// ReactionEventType はリアクション行の変更種別。
type ReactionEventType string

const (
	// ReactionInserted はリアクション行の追加。
	ReactionInserted ReactionEventType = "insert"
	// ReactionDeleted はリアクション行の削除。
	ReactionDeleted ReactionEventType = "delete"
)

// ReactionEvent はターゲット単位でスコープされたリアクション変更通知。
type ReactionEvent struct {
	Target  ItemKey           `json:"-"`
	Type    ReactionEventType `json:"event_type"`
	ActorID string            `json:"actor_id"`
}
