// Package realtime はプッシュ型の変更通知チャネルを提供する。
//
// コンテンツ挿入通知は種別ごとのサブジェクトに、リアクション変更通知は
// ターゲット単位でスコープされたサブジェクトに配信される。カード単位で
// 購読してもブローカー側でフィルタされるため、購読コストはターゲット数に比例しない。
package realtime

import (
	"fmt"
	"strings"

	"github.com/hitoshi/devhub/internal/model"
)

const subjectRoot = "devhub"

// InsertSubject はコンテンツ種別ごとの挿入通知サブジェクトを返す。
func InsertSubject(kind model.ContentKind) string {
	return fmt.Sprintf("%s.content.%s.inserted", subjectRoot, kind)
}

// ReactionSubject はターゲット単位のリアクション通知サブジェクトを返す。
// IDがサブジェクトのトークンとして使えない場合はエラーを返す。
func ReactionSubject(target model.ItemKey) (string, error) {
	if !validToken(string(target.Kind)) || !validToken(target.ID) {
		return "", fmt.Errorf("invalid subject token: %s", target)
	}
	return fmt.Sprintf("%s.reactions.%s.%s", subjectRoot, target.Kind, target.ID), nil
}

// validToken はNATSサブジェクトの1トークンとして安全かどうかを判定する。
func validToken(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, ".*> \t\r\n")
}
