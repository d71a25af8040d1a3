// Package model はドメインモデルを定義する。
package model

import "time"

// LinkingSession はリンクワークフローの途中状態をHTTPラウンドトリップ間で
// 持ち越すための期限付きレコードを表す。
// トークンは高々1回の消費のみ有効で、消費後または期限切れ後は解決できない。
// ペイロードはストアにとって不透明なblobであり、スキーマはオーケストレーターが所有する。
type LinkingSession struct {
	Token            string
	DeviceIdentifier string
	Payload          []byte
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// Expired はセッションが指定時刻の時点で期限切れかどうかを返す。
func (s *LinkingSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
