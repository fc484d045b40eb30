package model

// InteractionKind はユーザー操作（いいね/ブックマーク）の種別を表す。
type InteractionKind string

const (
	// InteractionLike はいいね。
	InteractionLike InteractionKind = "like"
	// InteractionBookmark はブックマーク。
	InteractionBookmark InteractionKind = "bookmark"
)

// InteractionState はターゲット1件に対する閲覧者ごとの状態。
// ローカルに永続化せず、マウントのたびにバックエンドから再構築する。
type InteractionState struct {
	LikeCount     uint
	IsLiked       bool
	IsBookmarked  bool
	IsInitialized bool
}
