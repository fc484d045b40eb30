// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, feed, interaction, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidViewMode    = "INVALID_VIEW_MODE"
	ErrCodeInvalidContentKind = "INVALID_CONTENT_KIND"
	ErrCodeSessionNotFound    = "FEED_SESSION_NOT_FOUND"
	ErrCodeTargetNotMounted   = "TARGET_NOT_MOUNTED"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
)

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidViewModeError は無効な表示モードエラーを生成する。
func NewInvalidViewModeError(mode string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidViewMode,
		Message:  fmt.Sprintf("無効な表示モードです: %s", mode),
		Category: "validation",
		Action:   "表示モードには all または following を指定してください。",
	}
}

// NewInvalidContentKindError は無効なコンテンツ種別エラーを生成する。
func NewInvalidContentKindError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidContentKind,
		Message:  fmt.Sprintf("無効なコンテンツ種別です: %s", kind),
		Category: "validation",
		Action:   "種別には post または snippet を指定してください。",
	}
}

// NewSessionNotFoundError はフィードセッション未検出エラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定されたフィードセッションが見つかりません: %s", sessionID),
		Category: "feed",
		Action:   "ページを再読み込みしてフィードを開き直してください。",
	}
}

// NewTargetNotMountedError はマウントされていないターゲットへの操作エラーを生成する。
func NewTargetNotMountedError(key ItemKey) *APIError {
	return &APIError{
		Code:     ErrCodeTargetNotMounted,
		Message:  fmt.Sprintf("ターゲットがマウントされていません: %s", key),
		Category: "interaction",
		Action:   "カードを表示してから操作してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}
