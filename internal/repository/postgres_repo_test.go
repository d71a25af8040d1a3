package repository

import (
	"testing"
	"time"

	"github.com/hitoshi/linkman/internal/model"
)

// 各リポジトリがインターフェースを満たすことを検証
func TestPostgresSiteRepo_ImplementsInterface(t *testing.T) {
	var _ SiteRepository = (*PostgresSiteRepo)(nil)
}

func TestPostgresLinkSessionRepo_ImplementsInterface(t *testing.T) {
	var _ LinkSessionRepository = (*PostgresLinkSessionRepo)(nil)
}

func TestPostgresMappingRepo_ImplementsInterface(t *testing.T) {
	var _ MappingRepository = (*PostgresMappingRepo)(nil)
}

// 各リポジトリが正しく初期化されることを検証
func TestNewPostgresSiteRepo_Initializes(t *testing.T) {
	if NewPostgresSiteRepo(nil) == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestNewPostgresLinkSessionRepo_Initializes(t *testing.T) {
	if NewPostgresLinkSessionRepo(nil) == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestNewPostgresMappingRepo_Initializes(t *testing.T) {
	if NewPostgresMappingRepo(nil) == nil {
		t.Fatal("expected non-nil repo")
	}
}

// Consumeの削除条件とSweepExpiredの削除条件が同じ境界を使うことの期待動作
// （expires_at > now() と expires_at <= now() は互いに排他で全域を覆う）
func TestLinkSessionRepo_ExpiryBoundary_Concept(t *testing.T) {
	now := time.Now()
	session := &model.LinkingSession{
		Token:     "boundary-token",
		ExpiresAt: now,
	}

	// 境界ちょうどのセッションはConsume不可、Sweep対象
	if !session.Expired(now) {
		t.Error("session at the boundary should be expired")
	}
}

// UpsertOneに渡す前のデバイス識別子がupsert内で正規化・検証されることの期待動作
func TestMappingRepo_DeviceValidation_Concept(t *testing.T) {
	if _, err := model.NormalizeDeviceIdentifier("not-a-device"); err == nil {
		t.Fatal("malformed device identifier should be rejected before any write")
	}
	normalized, err := model.NormalizeDeviceIdentifier("AA:BB:CC:DD:EE:01")
	if err != nil {
		t.Fatalf("NormalizeDeviceIdentifier error = %v", err)
	}
	if normalized != "aa:bb:cc:dd:ee:01" {
		t.Errorf("normalized = %q, want lowercase form", normalized)
	}
}
