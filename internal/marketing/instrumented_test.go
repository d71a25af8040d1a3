package marketing

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/linkman/internal/model"
)

type stubProvider struct{}

func (stubProvider) AuthorizeURL(state string) string { return "https://example.com/?state=" + state }
func (stubProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	return "token", nil
}
func (stubProvider) GetAccountMetadata(ctx context.Context, accessToken string) (*model.AuthorizedAccount, error) {
	return &model.AuthorizedAccount{AccountID: "acct-1"}, nil
}
func (stubProvider) ListAudiences(ctx context.Context, accessToken, dataCenter string) ([]model.Audience, error) {
	return nil, nil
}
func (stubProvider) UpsertContact(ctx context.Context, accessToken, dataCenter, audienceID string, contact Contact) error {
	return nil
}
func (stubProvider) AddTags(ctx context.Context, accessToken, dataCenter, audienceID, email string, tags []string) error {
	return nil
}

type recordingLatency struct {
	operations []string
}

func (r *recordingLatency) RecordUpstreamLatency(operation string, duration time.Duration) {
	r.operations = append(r.operations, operation)
}

// TestInstrumentedProvider_RecordsOperationLatency は各API呼び出しが
// 操作名付きでレイテンシを記録することを検証する。
func TestInstrumentedProvider_RecordsOperationLatency(t *testing.T) {
	rec := &recordingLatency{}
	p := NewInstrumentedProvider(stubProvider{}, rec)
	ctx := context.Background()

	if _, err := p.ExchangeCode(ctx, "code"); err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if _, err := p.GetAccountMetadata(ctx, "token"); err != nil {
		t.Fatalf("GetAccountMetadata: %v", err)
	}
	if _, err := p.ListAudiences(ctx, "token", "us19"); err != nil {
		t.Fatalf("ListAudiences: %v", err)
	}
	if err := p.UpsertContact(ctx, "token", "us19", "aud-1", Contact{Email: "a@example.com"}); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	if err := p.AddTags(ctx, "token", "us19", "aud-1", "a@example.com", []string{"t"}); err != nil {
		t.Fatalf("AddTags: %v", err)
	}

	want := []string{"exchange_code", "get_account_metadata", "list_audiences", "upsert_contact", "add_tags"}
	if len(rec.operations) != len(want) {
		t.Fatalf("recorded operations = %v, want %v", rec.operations, want)
	}
	for i, op := range want {
		if rec.operations[i] != op {
			t.Errorf("operations[%d] = %q, want %q", i, rec.operations[i], op)
		}
	}
}

// TestInstrumentedProvider_AuthorizeURLNotRecorded はネットワーク呼び出しを
// 伴わないAuthorizeURLがレイテンシを記録しないことを検証する。
func TestInstrumentedProvider_AuthorizeURLNotRecorded(t *testing.T) {
	rec := &recordingLatency{}
	p := NewInstrumentedProvider(stubProvider{}, rec)

	if url := p.AuthorizeURL("abc"); url == "" {
		t.Fatal("expected non-empty authorize URL")
	}
	if len(rec.operations) != 0 {
		t.Errorf("operations = %v, want none", rec.operations)
	}
}
