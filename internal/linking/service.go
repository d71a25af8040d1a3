// Package linking は認可済みアカウントからロケーションマッピング確定までの
// リンク処理ワークフローを統括するオーケストレーターを提供する。
package linking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/linkman/internal/marketing"
	"github.com/hitoshi/linkman/internal/matching"
	"github.com/hitoshi/linkman/internal/model"
	"github.com/hitoshi/linkman/internal/repository"
	"github.com/hitoshi/linkman/internal/security"
)

// Status はリンク処理の1ステップが返す結果種別。
type Status string

const (
	// StatusCommitted はマッピングが永続化され処理が完了したことを示す。
	StatusCommitted Status = "committed"
	// StatusAudiencePending はオーディエンス選択の往復が必要なことを示す。
	StatusAudiencePending Status = "audience_pending"
	// StatusLocationPending はロケーション選択の往復が必要なことを示す。
	StatusLocationPending Status = "location_pending"
	// StatusManualEntry は自動確定できず手動入力への引き継ぎが必要なことを示す。
	StatusManualEntry Status = "manual_entry"
)

// Outcome はオーケストレーターの1ステップの結果。
// Statusに応じて設定されるフィールドが変わる。
type Outcome struct {
	Status Status

	// StatusCommitted のとき、確定したマッピング。
	Mappings []*model.LocationMapping

	// 保留ステータスのとき、次のステップで提示するワンショットトークン。
	SessionToken string
	// StatusAudiencePending のとき、選択肢として提示するオーディエンス一覧。
	Audiences []model.Audience
	// StatusLocationPending のとき、選択肢として提示する候補サイト一覧。
	Candidates []model.MatchResult

	// StatusManualEntry のとき、手動入力フォームへ引き継ぐパラメータ。
	Manual *ManualEntryParams

	// 候補解決を経た遷移で使われたマッチ手法。解決を伴わない遷移では空。
	MatchMethod string

	// リンク開始時に指定されたリダイレクト先。完了時の誘導に使う。
	RedirectTarget string
}

// ManualEntryParams は手動入力への引き継ぎに必要なアカウントコンテキスト。
type ManualEntryParams struct {
	AccountID    string
	AccountName  string
	AudienceID   string
	AudienceName string
	AccessToken  string
	DataCenter   string
	// 一致したサイトがあればその表示名。プレフィルに使う。
	SiteName string
}

// StartOptions はリンク開始時の任意パラメータ。
type StartOptions struct {
	// 明示的に指定されたデバイス識別子。空なら一括リンクモード。
	DeviceIdentifier string
	// 事前選択されたオーディエンスID。空なら自動選択または選択画面へ。
	AudienceID string
	// 明示的なソースタグ。空なら一致サイトの表示名にフォールバックする。
	SourceTag string
	// 完了後のリダイレクト先。
	RedirectTarget string
}

// ManualCommitInput は手動入力フォームから戻ってきた確定要求。
type ManualCommitInput struct {
	AccountID         string
	AccountName       string
	AccessToken       string
	DataCenter        string
	AudienceID        string
	AudienceName      string
	DeviceIdentifiers []string
	SourceTag         string
}

// CandidateResolver は候補サイト解決を抽象化する。
type CandidateResolver interface {
	ResolveCandidates(ctx context.Context, accountName, loginEmail string) (*matching.Resolution, error)
}

// ServiceConfig はオーケストレーターの設定。
type ServiceConfig struct {
	// SessionTTL は保留セッションの有効期間。
	SessionTTL time.Duration
	// SimilarityThreshold はマッピングの名前検索に使うトライグラム類似度の下限。
	// 0以下の場合はデフォルト値を使う。
	SimilarityThreshold float64
}

// Service はリンク処理のステートマシンを駆動する。
type Service struct {
	provider  marketing.Provider
	resolver  CandidateResolver
	sessions  repository.LinkSessionRepository
	mappings  repository.MappingRepository
	sanitizer security.DisplaySanitizerService
	config    ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	provider marketing.Provider,
	resolver CandidateResolver,
	sessions repository.LinkSessionRepository,
	mappings repository.MappingRepository,
	sanitizer security.DisplaySanitizerService,
	config ServiceConfig,
) *Service {
	return &Service{
		provider:  provider,
		resolver:  resolver,
		sessions:  sessions,
		mappings:  mappings,
		sanitizer: sanitizer,
		config:    config,
	}
}

// StartLink はOAuth認可コードを交換してアカウントを確定し、
// オーディエンス決定からロケーション解決までの初回遷移を実行する。
func (s *Service) StartLink(ctx context.Context, code string, opts StartOptions) (*Outcome, error) {
	device := ""
	if opts.DeviceIdentifier != "" {
		normalized, err := model.NormalizeDeviceIdentifier(opts.DeviceIdentifier)
		if err != nil {
			return nil, model.NewValidationError("デバイス識別子の形式が不正です")
		}
		device = normalized
	}

	token, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		slog.Error("oauth code exchange failed", "error", err)
		return nil, model.NewUpstreamAuthError()
	}

	account, err := s.provider.GetAccountMetadata(ctx, token)
	if err != nil {
		slog.Error("account metadata fetch failed", "error", err)
		return nil, model.NewUpstreamAuthError()
	}
	account.AccessToken = token

	audiences, err := s.provider.ListAudiences(ctx, token, account.DataCenter)
	if err != nil {
		slog.Error("audience list fetch failed", "error", err, "account_id", account.AccountID)
		return nil, model.NewUpstreamAuthError()
	}
	if len(audiences) == 0 {
		slog.Info("account has no audiences", "account_id", account.AccountID)
		return nil, model.NewNoAudienceError()
	}

	var audience *model.Audience
	switch {
	case opts.AudienceID != "":
		audience = findAudience(audiences, opts.AudienceID)
		if audience == nil {
			return nil, model.NewValidationError("指定されたオーディエンスが見つかりません")
		}
	case len(audiences) == 1:
		audience = &audiences[0]
	default:
		return s.suspendForAudience(ctx, account, audiences, device, opts.SourceTag, opts.RedirectTarget)
	}

	return s.resolveAndDispatch(ctx, account, audience, device, opts.SourceTag, opts.RedirectTarget)
}

// SelectAudience はオーディエンス選択の往復から戻ってきた要求を処理し、
// セッションを消費してロケーション解決へ進める。
func (s *Service) SelectAudience(ctx context.Context, sessionToken, audienceID string) (*Outcome, error) {
	payload, err := s.consumeSession(ctx, sessionToken, stageAudiencePending)
	if err != nil {
		return nil, err
	}

	audience := findAudience(payload.Audiences, audienceID)
	if audience == nil {
		return nil, model.NewValidationError("指定されたオーディエンスが見つかりません")
	}

	account := payload.Account
	return s.resolveAndDispatch(ctx, &account, audience, payload.DeviceIdentifier, payload.SourceTag, payload.RedirectTarget)
}

// SelectSite はロケーション選択の往復から戻ってきた要求を処理し、
// セッションを消費して選択されたサイトのデバイスへマッピングを確定する。
func (s *Service) SelectSite(ctx context.Context, sessionToken, siteID string) (*Outcome, error) {
	payload, err := s.consumeSession(ctx, sessionToken, stageLocationPending)
	if err != nil {
		return nil, err
	}

	var site *model.CandidateSite
	for i := range payload.Candidates {
		if payload.Candidates[i].Site.SiteID == siteID {
			site = &payload.Candidates[i].Site
			break
		}
	}
	if site == nil {
		return nil, model.NewValidationError("指定されたサイトが候補に含まれていません")
	}

	account := payload.Account
	if len(site.DeviceIdentifiers) == 0 {
		return s.manualOutcome(&account, payload.Audience, site.DisplayName, payload.RedirectTarget), nil
	}
	return s.commitSite(ctx, &account, payload.Audience, site, payload.SourceTag, payload.RedirectTarget)
}

// CommitManual は手動入力されたデバイス識別子群にマッピングを確定する。
func (s *Service) CommitManual(ctx context.Context, input ManualCommitInput) (*Outcome, error) {
	if input.AccessToken == "" || input.DataCenter == "" || input.AudienceID == "" {
		return nil, model.NewValidationError("アカウント情報が不足しています")
	}
	if len(input.DeviceIdentifiers) == 0 {
		return nil, model.NewValidationError("デバイス識別子を1件以上指定してください")
	}

	account := &model.AuthorizedAccount{
		AccountID:   input.AccountID,
		AccountName: input.AccountName,
		DataCenter:  input.DataCenter,
		AccessToken: input.AccessToken,
	}
	audience := &model.Audience{ID: input.AudienceID, Name: input.AudienceName}

	mappings, err := buildMappings(account, audience, input.DeviceIdentifiers, input.SourceTag)
	if err != nil {
		return nil, err
	}
	return s.commitMappings(ctx, mappings, "")
}

// Disconnect はデバイスのマッピングを削除する。
func (s *Service) Disconnect(ctx context.Context, deviceIdentifier string) error {
	device, err := model.NormalizeDeviceIdentifier(deviceIdentifier)
	if err != nil {
		return model.NewValidationError("デバイス識別子の形式が不正です")
	}

	mapping, err := s.mappings.FindByDevice(ctx, device)
	if err != nil {
		slog.Error("mapping lookup failed", "error", err, "device", device)
		return model.NewStorageError()
	}
	if mapping == nil {
		return model.NewMappingNotFoundError(device)
	}

	if err := s.mappings.DeleteByDevice(ctx, device); err != nil {
		slog.Error("mapping delete failed", "error", err, "device", device)
		return model.NewStorageError()
	}
	slog.Info("mapping disconnected", "device", device, "account_id", mapping.AccountID)
	return nil
}

// ListByAccount はアカウントに属するマッピング一覧を返す。
func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]*model.LocationMapping, error) {
	mappings, err := s.mappings.FindByAccountID(ctx, accountID)
	if err != nil {
		slog.Error("mapping list failed", "error", err, "account_id", accountID)
		return nil, model.NewStorageError()
	}
	return mappings, nil
}

// SearchByName はアカウント名のトライグラム類似検索でマッピング一覧を返す。
func (s *Service) SearchByName(ctx context.Context, name string) ([]*model.LocationMapping, error) {
	threshold := s.config.SimilarityThreshold
	if threshold <= 0 {
		threshold = matching.DefaultSimilarityThreshold
	}
	mappings, err := s.mappings.FindByFuzzyName(ctx, name, threshold)
	if err != nil {
		slog.Error("mapping name search failed", "error", err, "name", name)
		return nil, model.NewStorageError()
	}
	return mappings, nil
}

// resolveAndDispatch はオーディエンス確定後の候補サイト解決と、
// その結果に応じた遷移(確定・選択保留・手動引き継ぎ)を実行する。
func (s *Service) resolveAndDispatch(ctx context.Context, account *model.AuthorizedAccount, audience *model.Audience, device, sourceTag, redirect string) (*Outcome, error) {
	resolution, err := s.resolver.ResolveCandidates(ctx, account.AccountName, account.LoginEmail)
	if err != nil {
		slog.Error("candidate resolution failed", "error", err, "account_id", account.AccountID)
		return nil, model.NewStorageError()
	}

	var outcome *Outcome
	switch len(resolution.Sites) {
	case 0:
		if device != "" {
			mapping := newMapping(account, audience, device, sourceTag)
			outcome, err = s.commitMappings(ctx, []*model.LocationMapping{mapping}, redirect)
		} else {
			slog.Info("no candidate site, handing off to manual entry",
				"account_id", account.AccountID, "match_method", resolution.Method)
			outcome = s.manualOutcome(account, audience, "", redirect)
		}
	case 1:
		site := &resolution.Sites[0].Site
		if len(site.DeviceIdentifiers) == 0 {
			outcome = s.manualOutcome(account, audience, site.DisplayName, redirect)
		} else {
			outcome, err = s.commitSite(ctx, account, audience, site, sourceTag, redirect)
		}
	default:
		outcome, err = s.suspendForLocation(ctx, account, audience, resolution.Sites, device, sourceTag, redirect)
	}
	if err != nil {
		return nil, err
	}
	outcome.MatchMethod = string(resolution.Method)
	return outcome, nil
}

// commitSite はサイトに登録された全デバイスへ一括でマッピングを確定する。
// ソースタグが未指定の場合はサイトの表示名を使う。
func (s *Service) commitSite(ctx context.Context, account *model.AuthorizedAccount, audience *model.Audience, site *model.CandidateSite, sourceTag, redirect string) (*Outcome, error) {
	tag := sourceTag
	if tag == "" {
		tag = site.DisplayName
	}
	mappings, err := buildMappings(account, audience, site.DeviceIdentifiers, tag)
	if err != nil {
		return nil, err
	}
	return s.commitMappings(ctx, mappings, redirect)
}

// commitMappings はマッピング群をアトミックに永続化する。
func (s *Service) commitMappings(ctx context.Context, mappings []*model.LocationMapping, redirect string) (*Outcome, error) {
	saved, err := s.mappings.UpsertMany(ctx, mappings)
	if err != nil {
		slog.Error("mapping upsert failed", "error", err, "count", len(mappings))
		return nil, model.NewStorageError()
	}
	slog.Info("mappings committed",
		"account_id", saved[0].AccountID,
		"audience_id", saved[0].AudienceID,
		"count", len(saved))
	return &Outcome{
		Status:         StatusCommitted,
		Mappings:       saved,
		RedirectTarget: redirect,
	}, nil
}

// suspendForAudience はオーディエンス選択待ちセッションを発行する。
func (s *Service) suspendForAudience(ctx context.Context, account *model.AuthorizedAccount, audiences []model.Audience, device, sourceTag, redirect string) (*Outcome, error) {
	token, err := s.createSession(ctx, &sessionPayload{
		Stage:            stageAudiencePending,
		Account:          *account,
		Audiences:        audiences,
		DeviceIdentifier: device,
		SourceTag:        sourceTag,
		RedirectTarget:   redirect,
	}, device)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Status:         StatusAudiencePending,
		SessionToken:   token,
		Audiences:      s.sanitizeAudiences(audiences),
		RedirectTarget: redirect,
	}, nil
}

// suspendForLocation はロケーション選択待ちセッションを発行する。
func (s *Service) suspendForLocation(ctx context.Context, account *model.AuthorizedAccount, audience *model.Audience, candidates []model.MatchResult, device, sourceTag, redirect string) (*Outcome, error) {
	token, err := s.createSession(ctx, &sessionPayload{
		Stage:            stageLocationPending,
		Account:          *account,
		Audience:         audience,
		Candidates:       candidates,
		DeviceIdentifier: device,
		SourceTag:        sourceTag,
		RedirectTarget:   redirect,
	}, device)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Status:         StatusLocationPending,
		SessionToken:   token,
		Candidates:     s.sanitizeCandidates(candidates),
		RedirectTarget: redirect,
	}, nil
}

// createSession はペイロードを直列化しTTL付きセッションとして保存する。
func (s *Service) createSession(ctx context.Context, payload *sessionPayload, device string) (string, error) {
	data, err := encodePayload(payload)
	if err != nil {
		slog.Error("session payload encoding failed", "error", err)
		return "", model.NewStorageError()
	}
	token, err := generateSessionToken()
	if err != nil {
		slog.Error("session token generation failed", "error", err)
		return "", model.NewStorageError()
	}
	now := time.Now()
	session := &model.LinkingSession{
		Token:            token,
		DeviceIdentifier: device,
		Payload:          data,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.config.SessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		slog.Error("session create failed", "error", err)
		return "", model.NewStorageError()
	}
	return token, nil
}

// consumeSession はセッションをアトミックに消費しペイロードを復号する。
// 不在・期限切れ・消費済み・ステージ不一致はすべて一様にセッション失効として扱う。
func (s *Service) consumeSession(ctx context.Context, token, wantStage string) (*sessionPayload, error) {
	session, err := s.sessions.Consume(ctx, token)
	if err != nil {
		slog.Error("session consume failed", "error", err)
		return nil, model.NewStorageError()
	}
	if session == nil {
		return nil, model.NewSessionExpiredError()
	}
	payload, err := decodePayload(session.Payload, wantStage)
	if err != nil {
		slog.Warn("session payload rejected", "error", err)
		return nil, model.NewSessionExpiredError()
	}
	return payload, nil
}

// manualOutcome は手動入力への引き継ぎ結果を組み立てる。
func (s *Service) manualOutcome(account *model.AuthorizedAccount, audience *model.Audience, siteName, redirect string) *Outcome {
	return &Outcome{
		Status: StatusManualEntry,
		Manual: &ManualEntryParams{
			AccountID:    account.AccountID,
			AccountName:  s.sanitizer.Sanitize(account.AccountName),
			AudienceID:   audience.ID,
			AudienceName: s.sanitizer.Sanitize(audience.Name),
			AccessToken:  account.AccessToken,
			DataCenter:   account.DataCenter,
			SiteName:     s.sanitizer.Sanitize(siteName),
		},
		RedirectTarget: redirect,
	}
}

// sanitizeAudiences は表示用にオーディエンス名をサニタイズしたコピーを返す。
// セッションに保存する元データは変更しない。
func (s *Service) sanitizeAudiences(audiences []model.Audience) []model.Audience {
	out := make([]model.Audience, len(audiences))
	for i, a := range audiences {
		a.Name = s.sanitizer.Sanitize(a.Name)
		out[i] = a
	}
	return out
}

// sanitizeCandidates は表示用に候補サイトの表示名と住所をサニタイズしたコピーを返す。
func (s *Service) sanitizeCandidates(candidates []model.MatchResult) []model.MatchResult {
	out := make([]model.MatchResult, len(candidates))
	for i, c := range candidates {
		c.Site.DisplayName = s.sanitizer.Sanitize(c.Site.DisplayName)
		c.Site.Address = s.sanitizer.Sanitize(c.Site.Address)
		out[i] = c
	}
	return out
}

// newMapping は1デバイス分のマッピングレコードを組み立てる。
func newMapping(account *model.AuthorizedAccount, audience *model.Audience, device, sourceTag string) *model.LocationMapping {
	return &model.LocationMapping{
		DeviceIdentifier: device,
		AccessToken:      account.AccessToken,
		DataCenter:       account.DataCenter,
		AccountID:        account.AccountID,
		AccountName:      account.AccountName,
		AudienceID:       audience.ID,
		AudienceName:     audience.Name,
		SourceTag:        sourceTag,
	}
}

// buildMappings はデバイス識別子群を正規化しマッピングレコード群を組み立てる。
// 1件でも不正な識別子があれば全体を拒否する。
func buildMappings(account *model.AuthorizedAccount, audience *model.Audience, devices []string, sourceTag string) ([]*model.LocationMapping, error) {
	mappings := make([]*model.LocationMapping, 0, len(devices))
	for _, raw := range devices {
		device, err := model.NormalizeDeviceIdentifier(raw)
		if err != nil {
			return nil, model.NewValidationError(fmt.Sprintf("デバイス識別子の形式が不正です: %s", raw))
		}
		mappings = append(mappings, newMapping(account, audience, device, sourceTag))
	}
	return mappings, nil
}

// findAudience はIDでオーディエンスを検索する。見つからなければnilを返す。
func findAudience(audiences []model.Audience, id string) *model.Audience {
	for i := range audiences {
		if audiences[i].ID == id {
			return &audiences[i]
		}
	}
	return nil
}

// generateSessionToken は暗号学的に安全なワンショットトークンを生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
