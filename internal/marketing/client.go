// Package marketing はマーケティングプラットフォームとの連携機能を提供する。
// OAuth認可コード交換、アカウントメタデータ取得、オーディエンス一覧、
// コンタクトのUPSERTとタグ付与を含む。
package marketing

import (
	"context"

	"github.com/hitoshi/linkman/internal/model"
)

// Contact はオーディエンスに登録するコンタクト1件を表す。
type Contact struct {
	Email     string
	FirstName string
	LastName  string
}

// Provider はマーケティングプラットフォームのインターフェース。
// 将来的に複数プラットフォームに対応するための抽象化。
type Provider interface {
	// AuthorizeURL はOAuth認可画面のURLを生成する。
	AuthorizeURL(state string) string

	// ExchangeCode は認可コードをアクセストークンに交換する。
	ExchangeCode(ctx context.Context, code string) (string, error)

	// GetAccountMetadata はアクセストークンからアカウント情報を取得する。
	// 戻り値のAccessTokenフィールドには引数のトークンが設定される。
	GetAccountMetadata(ctx context.Context, accessToken string) (*model.AuthorizedAccount, error)

	// ListAudiences はアカウントのオーディエンス一覧を取得する。
	ListAudiences(ctx context.Context, accessToken, dataCenter string) ([]model.Audience, error)

	// UpsertContact はコンタクトをオーディエンスに登録または更新する。
	UpsertContact(ctx context.Context, accessToken, dataCenter, audienceID string, contact Contact) error

	// AddTags はオーディエンス内のコンタクトにタグを付与する。
	AddTags(ctx context.Context, accessToken, dataCenter, audienceID, email string, tags []string) error
}
