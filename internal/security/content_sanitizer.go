// Package security はユーザー投稿コンテンツのサニタイズを提供する。
//
// 投稿本文は許可リスト方式でHTMLを通過させ、タイトルやスニペットの説明は
// タグをすべて除去したプレーンテキストにする。
package security

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はフィードに載せるコンテンツのサニタイズ機能のインターフェース。
type ContentSanitizer interface {
	// SanitizeHTML は投稿本文のHTMLを許可リストでサニタイズする。
	// 同一入力に対して常に同一出力を返す。
	SanitizeHTML(rawHTML string) string
	// SanitizeText はタグをすべて除去し、前後の空白を取り除いたテキストを返す。
	SanitizeText(raw string) string
}

// languageClass はシンタックスハイライト用のclass属性（language-go など）。
var languageClass = regexp.MustCompile(`^language-[a-zA-Z0-9_+\-]+$`)

// contentSanitizer はContentSanitizerの実装。
// bluemondayのポリシーは並行利用に対して安全。
type contentSanitizer struct {
	html *bluemonday.Policy
	text *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
// 本文ポリシー:
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, h2〜h4, img
//   - script, iframe, style および on* 属性は除去
//   - a, img はhttpsのみ。リンクには target="_blank" と rel="noopener noreferrer" を付与
//   - code の class は language-* のみ許可
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "h2", "h3", "h4",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemes("https")

	p.AllowAttrs("class").Matching(languageClass).OnElements("code")

	return &contentSanitizer{
		html: p,
		text: bluemonday.StrictPolicy(),
	}
}

// SanitizeHTML は投稿本文をサニタイズする。
func (s *contentSanitizer) SanitizeHTML(rawHTML string) string {
	return s.html.Sanitize(rawHTML)
}

// SanitizeText はプレーンテキスト化する。
func (s *contentSanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(s.text.Sanitize(raw))
}

var _ ContentSanitizer = (*contentSanitizer)(nil)
