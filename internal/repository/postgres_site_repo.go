package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/linkman/internal/model"
)

// PostgresSiteRepo はPostgreSQLを使用した拠点レジストリリポジトリ。
// 類似度検索はpg_trgm拡張のsimilarity関数に依存する。
type PostgresSiteRepo struct {
	db *sql.DB
}

// NewPostgresSiteRepo はPostgresSiteRepoを生成する。
func NewPostgresSiteRepo(db *sql.DB) *PostgresSiteRepo {
	return &PostgresSiteRepo{db: db}
}

const siteColumns = `id, display_name, address, group_name, device_identifiers, contact_emails`

// scanSite は1行分の拠点レコードを読み取る。
func scanSite(scanner interface{ Scan(dest ...any) error }) (*model.CandidateSite, error) {
	site := &model.CandidateSite{}
	err := scanner.Scan(
		&site.SiteID, &site.DisplayName, &site.Address, &site.GroupName,
		pq.Array(&site.DeviceIdentifiers), pq.Array(&site.ContactEmails),
	)
	if err != nil {
		return nil, err
	}
	return site, nil
}

// FindByContactEmail は連絡先メールが一致する拠点を返す（大文字小文字を区別しない完全一致）。
func (r *PostgresSiteRepo) FindByContactEmail(ctx context.Context, email string) ([]*model.CandidateSite, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+siteColumns+`
		 FROM sites
		 WHERE EXISTS (
		     SELECT 1 FROM unnest(contact_emails) AS e WHERE lower(e) = lower($1)
		 )
		 ORDER BY display_name`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find sites by contact email: %w", err)
	}
	defer rows.Close()

	return collectSites(rows)
}

// FindByExactName は表示名が完全一致する拠点を返す（大文字小文字を区別しない）。
func (r *PostgresSiteRepo) FindByExactName(ctx context.Context, name string) ([]*model.CandidateSite, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+siteColumns+`
		 FROM sites
		 WHERE lower(display_name) = lower($1)
		 ORDER BY display_name`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find sites by exact name: %w", err)
	}
	defer rows.Close()

	return collectSites(rows)
}

// FindBySimilarName はトライグラム類似度がthresholdを超える拠点を類似度の降順で返す。
// しきい値はクエリごとに指定するため、セッションGUCに依存する%演算子ではなく
// similarity関数を直接使う。
func (r *PostgresSiteRepo) FindBySimilarName(ctx context.Context, name string, threshold float64) ([]model.SiteSimilarity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+siteColumns+`, similarity(display_name, $1) AS score
		 FROM sites
		 WHERE similarity(display_name, $1) > $2
		 ORDER BY score DESC, display_name`,
		name, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find sites by similarity: %w", err)
	}
	defer rows.Close()

	var results []model.SiteSimilarity
	for rows.Next() {
		site := &model.CandidateSite{}
		var score float64
		err := rows.Scan(
			&site.SiteID, &site.DisplayName, &site.Address, &site.GroupName,
			pq.Array(&site.DeviceIdentifiers), pq.Array(&site.ContactEmails),
			&score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site row: %w", err)
		}
		results = append(results, model.SiteSimilarity{Site: site, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate site rows: %w", err)
	}

	return results, nil
}

// FindByNameSubstring は表示名と指定名のどちらかが他方を部分文字列として含む拠点を返す。
func (r *PostgresSiteRepo) FindByNameSubstring(ctx context.Context, name string) ([]*model.CandidateSite, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+siteColumns+`
		 FROM sites
		 WHERE lower(display_name) LIKE '%' || lower($1) || '%'
		    OR lower($1) LIKE '%' || lower(display_name) || '%'
		 ORDER BY display_name`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find sites by substring: %w", err)
	}
	defer rows.Close()

	return collectSites(rows)
}

// collectSites は結果セットの全行を読み取る。
func collectSites(rows *sql.Rows) ([]*model.CandidateSite, error) {
	var sites []*model.CandidateSite
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site row: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate site rows: %w", err)
	}
	return sites, nil
}

// compile-time interface check
var _ SiteRepository = (*PostgresSiteRepo)(nil)
