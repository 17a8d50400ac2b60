package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力や外部HTMLからマークアップを除去し、プレーンテキストにする。
type TextSanitizer interface {
	// Sanitize は全てのタグを除去し、HTMLエンティティを復元したテキストを返す。
	// 前後の空白は除去する。外部サイトのHTMLなど、エンティティがマークアップの一部である入力用。
	Sanitize(raw string) string

	// SanitizeUserText は全てのタグを除去するが、入力中のエンティティは文字どおりのテキストとして残す。
	// "&lt;b&gt;"と入力されたコメントが"<b>"として保存されることはない。
	SanitizeUserText(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyを使うTextSanitizerの実装。
// bluemonday.Policyはスレッドセーフなので共有してよい。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はマークアップを除去したプレーンテキストを返す。
// <br>や段落の区切りは改行として残す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	withBreaks := lineBreakReplacer.Replace(raw)
	stripped := s.policy.Sanitize(withBreaks)
	return strings.TrimSpace(html.UnescapeString(stripped))
}

// SanitizeUserText はユーザーが入力したテキストからマークアップを除去する。
// &を先にエスケープし、復元されるのはポリシーが出力時に付けたエスケープだけにする。
func (s *textSanitizer) SanitizeUserText(raw string) string {
	if raw == "" {
		return ""
	}
	return s.Sanitize(strings.ReplaceAll(raw, "&", "&amp;"))
}

var lineBreakReplacer = strings.NewReplacer(
	"<br>", "\n", "<br/>", "\n", "<br />", "\n",
	"<BR>", "\n", "<BR/>", "\n", "<BR />", "\n",
	"</p>", "\n", "</P>", "\n",
)

var _ TextSanitizer = (*textSanitizer)(nil)
