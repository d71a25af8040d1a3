// Package security はアプリケーションのセキュリティ機能を提供する。
//
// DisplaySanitizerService は外部から与えられた表示用文字列（アカウント名、
// 拠点名）をサニタイズする。これらの文字列は候補一覧・選択画面のレスポンスに
// そのまま含まれるため、書式や埋め込みコードの供給源としてではなく、
// 出力エンコード済みのテキストとしてのみ扱う。
package security

import "github.com/microcosm-cc/bluemonday"

// DisplaySanitizerService は表示用文字列のサニタイズ機能のインターフェース。
type DisplaySanitizerService interface {
	// Sanitize は入力からすべてのHTMLタグを除去したテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// displaySanitizer はDisplaySanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持し、スレッドセーフに動作する。
type displaySanitizer struct {
	policy *bluemonday.Policy
}

// NewDisplaySanitizer はDisplaySanitizerServiceの新しいインスタンスを生成する。
func NewDisplaySanitizer() *displaySanitizer {
	return &displaySanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は入力からすべてのHTMLタグを除去したテキストを返す。
func (s *displaySanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return s.policy.Sanitize(raw)
}

// compile-time interface check
var _ DisplaySanitizerService = (*displaySanitizer)(nil)
