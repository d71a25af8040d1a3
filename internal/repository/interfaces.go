// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/linkman/internal/model"
)

// SiteRepository は拠点レジストリの検索インターフェース。
// レジストリは外部所有であり、このサブシステムからは読み取り専用。
type SiteRepository interface {
	// FindByContactEmail は連絡先メールが一致する拠点を返す（大文字小文字を区別しない完全一致）。
	FindByContactEmail(ctx context.Context, email string) ([]*model.CandidateSite, error)

	// FindByExactName は表示名が完全一致する拠点を返す（大文字小文字を区別しない）。
	FindByExactName(ctx context.Context, name string) ([]*model.CandidateSite, error)

	// FindBySimilarName はトライグラム類似度がthresholdを超える拠点を
	// 類似度の降順で返す。
	FindBySimilarName(ctx context.Context, name string, threshold float64) ([]model.SiteSimilarity, error)

	// FindByNameSubstring は表示名と指定名のどちらかが他方を部分文字列として
	// 含む拠点を返す（大文字小文字を区別しない）。
	FindByNameSubstring(ctx context.Context, name string) ([]*model.CandidateSite, error)
}

// LinkSessionRepository はリンクセッションの永続化インターフェース。
// セッションはワークフローの複数回のHTTPラウンドトリップ間で状態を運ぶ
// 唯一の手段であり、プロセス内の共有状態は持たない。
type LinkSessionRepository interface {
	// Create はセッションを作成する。トークンが既に存在する場合は
	// ErrDuplicateTokenを返す。
	Create(ctx context.Context, session *model.LinkingSession) error

	// Consume は有効期限内のセッションを取得すると同時に削除する。
	// 未存在・期限切れ・消費済みのいずれの場合もnilを返し、呼び出し側からは
	// 区別できない。
	Consume(ctx context.Context, token string) (*model.LinkingSession, error)

	// SweepExpired は期限切れセッションをすべて削除し、削除件数を返す。
	// Consumeと並行して安全に実行できる。
	SweepExpired(ctx context.Context) (int64, error)
}

// MappingRepository はデバイス識別子→オーディエンス対応付けの永続化インターフェース。
type MappingRepository interface {
	// UpsertOne はマッピングを挿入、またはdevice_identifier衝突時に全可変
	// フィールドを上書きしてupdated_atを更新する。単一ステートメントの
	// アトミックなUPSERT。
	UpsertOne(ctx context.Context, mapping *model.LocationMapping) (*model.LocationMapping, error)

	// UpsertMany は全要素のUPSERTを1つのトランザクションで適用する。
	// 1件でも失敗した場合はバッチ全体をロールバックする。
	UpsertMany(ctx context.Context, mappings []*model.LocationMapping) ([]*model.LocationMapping, error)

	// FindByDevice は指定デバイスのマッピングを取得する。見つからない場合はnilを返す。
	FindByDevice(ctx context.Context, deviceIdentifier string) (*model.LocationMapping, error)

	// DeleteByDevice は指定デバイスのマッピングを削除する。
	DeleteByDevice(ctx context.Context, deviceIdentifier string) error

	// FindByAccountID は指定アカウントの全マッピングを返す。
	FindByAccountID(ctx context.Context, accountID string) ([]*model.LocationMapping, error)

	// FindByFuzzyName はアカウント名のトライグラム類似度がthresholdを超える
	// マッピングを類似度の降順で返す。
	FindByFuzzyName(ctx context.Context, name string, threshold float64) ([]*model.LocationMapping, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
