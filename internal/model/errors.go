// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// 内部識別子やスタックトレースをユーザーに露出しないための表示用エラー。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, linking, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeUpstreamAuth    = "UPSTREAM_AUTH_ERROR"
	ErrCodeSessionExpired  = "SESSION_EXPIRED"
	ErrCodeNoAudience      = "NO_AUDIENCE"
	ErrCodeMappingNotFound = "MAPPING_NOT_FOUND"
	ErrCodeStorage         = "STORAGE_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUpstreamAuthError は外部プラットフォームとの認可処理に失敗した場合のエラーを生成する。
// このエラーが返る場合、セッションもマッピングも一切書き込まれていない。
func NewUpstreamAuthError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamAuth,
		Message:  "マーケティングプラットフォームとの認証に失敗しました。",
		Category: "auth",
		Action:   "接続をやり直してください。問題が続く場合はプラットフォーム側の認可設定を確認してください。",
	}
}

// NewSessionExpiredError はリンクセッションが解決できない場合のエラーを生成する。
// 未存在・期限切れ・消費済みのいずれの場合も同一のエラーを返し、
// 呼び出し側からは区別できない。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れています。",
		Category: "linking",
		Action:   "お手数ですが、最初から接続をやり直してください。",
	}
}

// NewNoAudienceError はアカウントにオーディエンスが1つも存在しない場合のエラーを生成する。
func NewNoAudienceError() *APIError {
	return &APIError{
		Code:     ErrCodeNoAudience,
		Message:  "アカウントにオーディエンスが存在しません。",
		Category: "linking",
		Action:   "マーケティングプラットフォーム側でオーディエンスを作成してから、再度接続してください。",
	}
}

// NewMappingNotFoundError は指定デバイスのマッピングが存在しない場合のエラーを生成する。
func NewMappingNotFoundError(deviceIdentifier string) *APIError {
	return &APIError{
		Code:     ErrCodeMappingNotFound,
		Message:  fmt.Sprintf("指定されたデバイスのマッピングが見つかりません: %s", deviceIdentifier),
		Category: "linking",
		Action:   "デバイス識別子を確認してください。",
	}
}

// NewStorageError はストレージ障害の統一エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewStorageError() *APIError {
	return &APIError{
		Code:     ErrCodeStorage,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
