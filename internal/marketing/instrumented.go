package marketing

import (
	"context"
	"time"

	"github.com/hitoshi/linkman/internal/model"
)

// LatencyRecorder は外部API呼び出しのレイテンシ記録能力。
type LatencyRecorder interface {
	RecordUpstreamLatency(operation string, duration time.Duration)
}

// instrumentedProvider はProviderの各呼び出しのレイテンシを記録するデコレーター。
type instrumentedProvider struct {
	next     Provider
	recorder LatencyRecorder
}

// NewInstrumentedProvider はレイテンシ計測付きのProviderを生成する。
func NewInstrumentedProvider(next Provider, recorder LatencyRecorder) Provider {
	return &instrumentedProvider{next: next, recorder: recorder}
}

func (p *instrumentedProvider) AuthorizeURL(state string) string {
	// URL組み立てのみでネットワーク呼び出しを伴わないため計測しない。
	return p.next.AuthorizeURL(state)
}

func (p *instrumentedProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	defer p.observe("exchange_code", time.Now())
	return p.next.ExchangeCode(ctx, code)
}

func (p *instrumentedProvider) GetAccountMetadata(ctx context.Context, accessToken string) (*model.AuthorizedAccount, error) {
	defer p.observe("get_account_metadata", time.Now())
	return p.next.GetAccountMetadata(ctx, accessToken)
}

func (p *instrumentedProvider) ListAudiences(ctx context.Context, accessToken, dataCenter string) ([]model.Audience, error) {
	defer p.observe("list_audiences", time.Now())
	return p.next.ListAudiences(ctx, accessToken, dataCenter)
}

func (p *instrumentedProvider) UpsertContact(ctx context.Context, accessToken, dataCenter, audienceID string, contact Contact) error {
	defer p.observe("upsert_contact", time.Now())
	return p.next.UpsertContact(ctx, accessToken, dataCenter, audienceID, contact)
}

func (p *instrumentedProvider) AddTags(ctx context.Context, accessToken, dataCenter, audienceID, email string, tags []string) error {
	defer p.observe("add_tags", time.Now())
	return p.next.AddTags(ctx, accessToken, dataCenter, audienceID, email, tags)
}

func (p *instrumentedProvider) observe(operation string, start time.Time) {
	p.recorder.RecordUpstreamLatency(operation, time.Since(start))
}

var _ Provider = (*instrumentedProvider)(nil)
