package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/linkman/internal/model"
)

// ErrDuplicateToken はセッショントークンが既に存在する場合に返される。
// トークンは256ビットの暗号学的乱数から生成されるため、衝突は実質的に
// 発生しないが、発生した場合は致命的エラーとして扱う。
var ErrDuplicateToken = errors.New("linking session token already exists")

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresLinkSessionRepo はPostgreSQLを使用したリンクセッションリポジトリ。
type PostgresLinkSessionRepo struct {
	db *sql.DB
}

// NewPostgresLinkSessionRepo はPostgresLinkSessionRepoを生成する。
func NewPostgresLinkSessionRepo(db *sql.DB) *PostgresLinkSessionRepo {
	return &PostgresLinkSessionRepo{db: db}
}

// Create はセッションを作成する。トークンが既に存在する場合はErrDuplicateTokenを返す。
func (r *PostgresLinkSessionRepo) Create(ctx context.Context, session *model.LinkingSession) error {
	var device sql.NullString
	if session.DeviceIdentifier != "" {
		device = sql.NullString{String: session.DeviceIdentifier, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO linking_sessions (token, device_identifier, payload, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.Token, device, session.Payload, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateToken
		}
		return fmt.Errorf("failed to create linking session: %w", err)
	}
	return nil
}

// Consume は有効期限内のセッションを取得すると同時に削除する。
// DELETE ... RETURNINGの単一ステートメントで実行するため、同一トークンへの
// 並行呼び出しのうち成功するのは高々1つ。削除条件にexpires_at > now()を含む
// ため、並行するSweepExpiredが有効なセッションを失わせることもない。
// 未存在・期限切れ・消費済みのいずれの場合もnilを返す。
func (r *PostgresLinkSessionRepo) Consume(ctx context.Context, token string) (*model.LinkingSession, error) {
	session := &model.LinkingSession{}
	var device sql.NullString

	err := r.db.QueryRowContext(ctx,
		`DELETE FROM linking_sessions
		 WHERE token = $1 AND expires_at > now()
		 RETURNING token, device_identifier, payload, created_at, expires_at`,
		token,
	).Scan(&session.Token, &device, &session.Payload, &session.CreatedAt, &session.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume linking session: %w", err)
	}

	if device.Valid {
		session.DeviceIdentifier = device.String
	}
	return session, nil
}

// SweepExpired は期限切れセッションをすべて削除し、削除件数を返す。
// Consumeの削除条件と同じ境界（expires_at > now()）を使用するため、
// 有効なセッションを奪い合う競合は存在しない。
func (r *PostgresLinkSessionRepo) SweepExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM linking_sessions WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept sessions: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ LinkSessionRepository = (*PostgresLinkSessionRepo)(nil)
