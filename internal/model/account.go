// Package model はドメインモデルを定義する。
package model

// AuthorizedAccount は外部OAuth認可の完了によって得られたアカウント情報を表す。
// 1回のリンク試行の間のみ保持され、セッションTTLを超えて平文で永続化されることはない。
type AuthorizedAccount struct {
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`
	LoginEmail  string `json:"login_email"`
	DataCenter  string `json:"data_center"`
	AccessToken string `json:"access_token"`
}

// Audience は認可済みアカウントに属するマーケティング配信リストを表す。
type Audience struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}
