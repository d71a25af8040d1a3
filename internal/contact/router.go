// Package contact はデバイス経由で獲得したコンタクトを、そのデバイスに
// リンクされたオーディエンスへ振り分けるルーターを提供する。
package contact

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/linkman/internal/marketing"
	"github.com/hitoshi/linkman/internal/model"
	"github.com/hitoshi/linkman/internal/repository"
)

// Record はデバイス側から届くコンタクト1件。
type Record struct {
	Email     string   `json:"email"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// RouteResult はルーティング結果の要約。
type RouteResult struct {
	AccountID    string `json:"account_id"`
	AudienceID   string `json:"audience_id"`
	AudienceName string `json:"audience_name"`
	AppliedTags  int    `json:"applied_tags"`
}

// Router はコンタクトをマッピング先のオーディエンスへ登録する。
type Router struct {
	mappings repository.MappingRepository
	provider marketing.Provider
}

// NewRouter はRouterを生成する。
func NewRouter(mappings repository.MappingRepository, provider marketing.Provider) *Router {
	return &Router{mappings: mappings, provider: provider}
}

// Route はデバイスのマッピングを引き、コンタクトをそのオーディエンスへ
// UPSERTしてタグを付与する。マッピング未存在は呼び出し側が404として
// 扱えるようMappingNotFoundを返す。
func (r *Router) Route(ctx context.Context, deviceIdentifier string, record Record) (*RouteResult, error) {
	device, err := model.NormalizeDeviceIdentifier(deviceIdentifier)
	if err != nil {
		return nil, model.NewValidationError("デバイス識別子の形式が不正です")
	}
	if strings.TrimSpace(record.Email) == "" {
		return nil, model.NewValidationError("メールアドレスは必須です")
	}

	mapping, err := r.mappings.FindByDevice(ctx, device)
	if err != nil {
		slog.Error("mapping lookup failed", "error", err, "device", device)
		return nil, model.NewStorageError()
	}
	if mapping == nil {
		return nil, model.NewMappingNotFoundError(device)
	}

	err = r.provider.UpsertContact(ctx, mapping.AccessToken, mapping.DataCenter, mapping.AudienceID, marketing.Contact{
		Email:     record.Email,
		FirstName: record.FirstName,
		LastName:  record.LastName,
	})
	if err != nil {
		slog.Error("contact upsert failed", "error", err,
			"device", device, "audience_id", mapping.AudienceID)
		return nil, model.NewUpstreamAuthError()
	}

	tags := mergeTags(mapping.SourceTag, record.Tags)
	if len(tags) > 0 {
		if err := r.provider.AddTags(ctx, mapping.AccessToken, mapping.DataCenter, mapping.AudienceID, record.Email, tags); err != nil {
			// コンタクト本体の登録は済んでいるため、タグ付与の失敗は警告に留める。
			slog.Warn("tag apply failed", "error", err,
				"device", device, "audience_id", mapping.AudienceID)
		}
	}

	slog.Info("contact routed",
		"device", device,
		"account_id", mapping.AccountID,
		"audience_id", mapping.AudienceID)
	return &RouteResult{
		AccountID:    mapping.AccountID,
		AudienceID:   mapping.AudienceID,
		AudienceName: mapping.AudienceName,
		AppliedTags:  len(tags),
	}, nil
}

// mergeTags はマッピングのソースタグとレコード側のタグを結合する。
// 空文字は除外し、重複は先勝ちで1つにまとめる。
func mergeTags(sourceTag string, extra []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		out = append(out, tag)
	}
	add(sourceTag)
	for _, tag := range extra {
		add(tag)
	}
	return out
}
