package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/linkman/internal/model"
)

// PostgresMappingRepo はPostgreSQLを使用したロケーションマッピングリポジトリ。
type PostgresMappingRepo struct {
	db *sql.DB
}

// NewPostgresMappingRepo はPostgresMappingRepoを生成する。
func NewPostgresMappingRepo(db *sql.DB) *PostgresMappingRepo {
	return &PostgresMappingRepo{db: db}
}

// queryer は*sql.DBと*sql.Txの共通部分を抽象化する。
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const mappingColumns = `id, device_identifier, access_token, data_center,
	 account_id, account_name, audience_id, audience_name, source_tag,
	 created_at, updated_at`

// UpsertOne はマッピングを挿入、またはdevice_identifier衝突時に全可変フィールドを
// 上書きしてupdated_atを更新する。INSERT ON CONFLICTの単一ステートメントで実行
// するため、読み取り-変更-書き込みの競合は存在しない。同一デバイスに対する並行
// リンク試行は後勝ち（last-writer-wins）で解決される。
func (r *PostgresMappingRepo) UpsertOne(ctx context.Context, mapping *model.LocationMapping) (*model.LocationMapping, error) {
	return r.upsert(ctx, r.db, mapping)
}

// UpsertMany は全要素のUPSERTを1つのトランザクションで適用する。
// 1件でも失敗した場合はバッチ全体をロールバックする。複数デバイス拠点の
// 一部だけがマップされた状態を外部に観測させないための全或いは無の保証。
func (r *PostgresMappingRepo) UpsertMany(ctx context.Context, mappings []*model.LocationMapping) ([]*model.LocationMapping, error) {
	if len(mappings) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	results := make([]*model.LocationMapping, 0, len(mappings))
	for _, m := range mappings {
		saved, err := r.upsert(ctx, tx, m)
		if err != nil {
			return nil, err
		}
		results = append(results, saved)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit mapping batch: %w", err)
	}
	return results, nil
}

// upsert は1件のUPSERTを実行する。呼び出し元が*sql.DBと*sql.Txのどちらを
// 渡すかでトランザクション境界が決まる。デバイス識別子はここで最終検証され、
// 不正な場合はエラーを返す（UpsertMany内ではバッチ全体の中断につながる）。
func (r *PostgresMappingRepo) upsert(ctx context.Context, q queryer, mapping *model.LocationMapping) (*model.LocationMapping, error) {
	device, err := model.NormalizeDeviceIdentifier(mapping.DeviceIdentifier)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert mapping: %w", err)
	}

	now := time.Now().UTC()
	saved := &model.LocationMapping{
		DeviceIdentifier: device,
		AccessToken:      mapping.AccessToken,
		DataCenter:       mapping.DataCenter,
		AccountID:        mapping.AccountID,
		AccountName:      mapping.AccountName,
		AudienceID:       mapping.AudienceID,
		AudienceName:     mapping.AudienceName,
		SourceTag:        mapping.SourceTag,
	}

	err = q.QueryRowContext(ctx,
		`INSERT INTO location_mappings
		     (id, device_identifier, access_token, data_center,
		      account_id, account_name, audience_id, audience_name, source_tag,
		      created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 ON CONFLICT (device_identifier) DO UPDATE SET
		     access_token = EXCLUDED.access_token,
		     data_center = EXCLUDED.data_center,
		     account_id = EXCLUDED.account_id,
		     account_name = EXCLUDED.account_name,
		     audience_id = EXCLUDED.audience_id,
		     audience_name = EXCLUDED.audience_name,
		     source_tag = EXCLUDED.source_tag,
		     updated_at = clock_timestamp()
		 RETURNING id, created_at, updated_at`,
		uuid.New().String(), device,
		saved.AccessToken, saved.DataCenter,
		saved.AccountID, saved.AccountName,
		saved.AudienceID, saved.AudienceName, saved.SourceTag,
		now,
	).Scan(&saved.ID, &saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert mapping: %w", err)
	}

	return saved, nil
}

// FindByDevice は指定デバイスのマッピングを取得する。見つからない場合はnilを返す。
func (r *PostgresMappingRepo) FindByDevice(ctx context.Context, deviceIdentifier string) (*model.LocationMapping, error) {
	mapping := &model.LocationMapping{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+mappingColumns+`
		 FROM location_mappings WHERE device_identifier = $1`,
		deviceIdentifier,
	).Scan(
		&mapping.ID, &mapping.DeviceIdentifier, &mapping.AccessToken, &mapping.DataCenter,
		&mapping.AccountID, &mapping.AccountName, &mapping.AudienceID, &mapping.AudienceName,
		&mapping.SourceTag, &mapping.CreatedAt, &mapping.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find mapping by device: %w", err)
	}
	return mapping, nil
}

// DeleteByDevice は指定デバイスのマッピングを削除する。
func (r *PostgresMappingRepo) DeleteByDevice(ctx context.Context, deviceIdentifier string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM location_mappings WHERE device_identifier = $1`,
		deviceIdentifier,
	)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	return nil
}

// FindByAccountID は指定アカウントの全マッピングを返す。
func (r *PostgresMappingRepo) FindByAccountID(ctx context.Context, accountID string) ([]*model.LocationMapping, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mappingColumns+`
		 FROM location_mappings WHERE account_id = $1
		 ORDER BY device_identifier`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find mappings by account: %w", err)
	}
	defer rows.Close()

	return collectMappings(rows)
}

// FindByFuzzyName はアカウント名のトライグラム類似度がthresholdを超える
// マッピングを類似度の降順で返す。
func (r *PostgresMappingRepo) FindByFuzzyName(ctx context.Context, name string, threshold float64) ([]*model.LocationMapping, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mappingColumns+`
		 FROM location_mappings
		 WHERE similarity(account_name, $1) > $2
		 ORDER BY similarity(account_name, $1) DESC, device_identifier`,
		name, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find mappings by fuzzy name: %w", err)
	}
	defer rows.Close()

	return collectMappings(rows)
}

// collectMappings は結果セットの全行を読み取る。
func collectMappings(rows *sql.Rows) ([]*model.LocationMapping, error) {
	var mappings []*model.LocationMapping
	for rows.Next() {
		m := &model.LocationMapping{}
		err := rows.Scan(
			&m.ID, &m.DeviceIdentifier, &m.AccessToken, &m.DataCenter,
			&m.AccountID, &m.AccountName, &m.AudienceID, &m.AudienceName,
			&m.SourceTag, &m.CreatedAt, &m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping row: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mapping rows: %w", err)
	}
	return mappings, nil
}

// compile-time interface check
var _ MappingRepository = (*PostgresMappingRepo)(nil)
