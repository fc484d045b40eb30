package feed

import (
	"slices"

	"github.com/hitoshi/devhub/internal/model"
)

// Merge は投稿とスニペットを作成日時の降順に並べた1本の列にまとめる。
// 入力は変更しない。作成日時が等しい場合は連結順（投稿が先、各種別内は元の順）を保つ。
// 各入力がソート済みでなくても結果は正しい順序になるため、時刻のずれた
// リアルタイム先頭追加は次の描画で補正される。
func Merge(posts, snippets []model.ContentItem) []model.ContentItem {
	merged := make([]model.ContentItem, 0, len(posts)+len(snippets))
	merged = append(merged, posts...)
	merged = append(merged, snippets...)
	slices.SortStableFunc(merged, func(a, b model.ContentItem) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return merged
}
