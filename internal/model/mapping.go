// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// LocationMapping はデバイス識別子とマーケティングオーディエンスの対応付けを表す。
// device_identifierを一意キーとしてUPSERTされ、更新時は全フィールドが置き換えられる。
// リンクワークフロー全体が生み出す永続的な最終状態。
type LocationMapping struct {
	ID               string    `json:"id"`
	DeviceIdentifier string    `json:"device_identifier"`
	AccessToken      string    `json:"-"`
	DataCenter       string    `json:"data_center"`
	AccountID        string    `json:"account_id"`
	AccountName      string    `json:"account_name"`
	AudienceID       string    `json:"audience_id"`
	AudienceName     string    `json:"audience_name"`
	SourceTag        string    `json:"source_tag,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// deviceIdentifierPattern はコロンまたはハイフン区切り、もしくは区切りなしの
// 12桁16進数のMACアドレス形式を受け付ける。
var deviceIdentifierPattern = regexp.MustCompile(`^([0-9a-f]{2}[:-]){5}[0-9a-f]{2}$|^[0-9a-f]{12}$`)

// NormalizeDeviceIdentifier はデバイス識別子を検証し、小文字コロン区切りの
// 正規形に変換して返す。不正な形式の場合はエラーを返す。
// デバイス識別子は保存前に必ず小文字に正規化される。
func NormalizeDeviceIdentifier(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !deviceIdentifierPattern.MatchString(s) {
		return "", fmt.Errorf("invalid device identifier: %q", raw)
	}

	s = strings.ReplaceAll(s, "-", ":")
	if !strings.Contains(s, ":") {
		var parts []string
		for i := 0; i < len(s); i += 2 {
			parts = append(parts, s[i:i+2])
		}
		s = strings.Join(parts, ":")
	}
	return s, nil
}
