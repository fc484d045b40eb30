package model

import "time"

// Session はユーザーのログインセッションを表す。
// 作成は認証サービス側で行われ、本サービスは読み取りのみ行う。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
