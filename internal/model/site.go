// Package model はドメインモデルを定義する。
package model

// CandidateSite は拠点レジストリのエントリを表す。
// 1つの物理的な事業拠点に対応し、0個以上のデバイス識別子と連絡先メールを持つ。
// このサブシステムからは読み取り専用として扱う。
type CandidateSite struct {
	SiteID            string   `json:"site_id"`
	DisplayName       string   `json:"display_name"`
	Address           string   `json:"address,omitempty"`
	GroupName         string   `json:"group_name,omitempty"`
	DeviceIdentifiers []string `json:"device_identifiers"`
	ContactEmails     []string `json:"contact_emails"`
}

// MatchMethod は候補拠点のマッチ手段を表す。
type MatchMethod string

const (
	// MatchEmail はログインメールアドレスの完全一致によるマッチ。
	MatchEmail MatchMethod = "email"
	// MatchExact は表示名の完全一致によるマッチ。
	MatchExact MatchMethod = "exact"
	// MatchFuzzy はトライグラム類似度によるマッチ。
	MatchFuzzy MatchMethod = "fuzzy"
	// MatchContains は部分文字列によるマッチ。
	MatchContains MatchMethod = "contains"
)

// MatchResult は候補解決1回分のマッチ結果を表す。
// 解決呼び出しごとに生成され、直接永続化されることはない。
type MatchResult struct {
	Site   CandidateSite `json:"site"`
	Score  float64       `json:"score"`
	Method MatchMethod   `json:"method"`
}

// SiteSimilarity は類似度付きの拠点検索結果を表す。
// ストレージ層の類似度ランク付きクエリの戻り値に使用する。
type SiteSimilarity struct {
	Site  *CandidateSite
	Score float64
}
