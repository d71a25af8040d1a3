// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/linkman/internal/linking"
	"github.com/hitoshi/linkman/internal/metrics"
	"github.com/hitoshi/linkman/internal/middleware"
	"github.com/hitoshi/linkman/internal/model"
	"github.com/hitoshi/linkman/internal/security"
)

const (
	oauthStateCookie = "link_state"
	linkParamsCookie = "link_params"
)

// LinkServiceInterface はリンクハンドラーが必要とするサービスインターフェース。
type LinkServiceInterface interface {
	StartLink(ctx context.Context, code string, opts linking.StartOptions) (*linking.Outcome, error)
	SelectAudience(ctx context.Context, sessionToken, audienceID string) (*linking.Outcome, error)
	SelectSite(ctx context.Context, sessionToken, siteID string) (*linking.Outcome, error)
	CommitManual(ctx context.Context, input linking.ManualCommitInput) (*linking.Outcome, error)
}

// AuthorizeURLProvider はOAuth認可URLの生成インターフェース。
type AuthorizeURLProvider interface {
	AuthorizeURL(state string) string
}

// LinkHandlerConfig はリンクハンドラーの設定。
type LinkHandlerConfig struct {
	CookieSecure bool
}

// LinkHandler はリンクワークフローのHTTPハンドラー。
type LinkHandler struct {
	service   LinkServiceInterface
	authorize AuthorizeURLProvider
	guard     security.RedirectGuardService
	metrics   metrics.MetricsCollector
	config    LinkHandlerConfig
}

// NewLinkHandler はLinkHandlerを生成する。metricsはnilでもよい。
func NewLinkHandler(
	service LinkServiceInterface,
	authorize AuthorizeURLProvider,
	guard security.RedirectGuardService,
	collector metrics.MetricsCollector,
	config LinkHandlerConfig,
) *LinkHandler {
	return &LinkHandler{
		service:   service,
		authorize: authorize,
		guard:     guard,
		metrics:   collector,
		config:    config,
	}
}

// linkParams はOAuth往復をまたいで引き継ぐリンク開始パラメータ。
// stateと同じ寿命のCookieにJSONで保存する。
type linkParams struct {
	DeviceIdentifier string `json:"device,omitempty"`
	AudienceID       string `json:"audience_id,omitempty"`
	SourceTag        string `json:"source_tag,omitempty"`
	RedirectTarget   string `json:"redirect,omitempty"`
}

// outcomeResponse はリンク処理ステップのAPIレスポンス。
type outcomeResponse struct {
	Status         string                     `json:"status"`
	Mappings       []*model.LocationMapping   `json:"mappings,omitempty"`
	SessionToken   string                     `json:"session_token,omitempty"`
	Audiences      []model.Audience           `json:"audiences,omitempty"`
	Candidates     []candidateResponse        `json:"candidates,omitempty"`
	Manual         *manualEntryParamsResponse `json:"manual_entry,omitempty"`
	RedirectTarget string                     `json:"redirect_target,omitempty"`
}

// candidateResponse は候補サイト1件のAPIレスポンス。
// デバイス識別子の一覧そのものは返さず、件数だけを提示する。
type candidateResponse struct {
	SiteID      string  `json:"site_id"`
	DisplayName string  `json:"display_name"`
	Address     string  `json:"address,omitempty"`
	GroupName   string  `json:"group_name,omitempty"`
	DeviceCount int     `json:"device_count"`
	Score       float64 `json:"score"`
	Method      string  `json:"method"`
}

// manualEntryParamsResponse は手動入力フォームへ引き継ぐパラメータのレスポンス。
type manualEntryParamsResponse struct {
	AccountID    string `json:"account_id"`
	AccountName  string `json:"account_name"`
	AudienceID   string `json:"audience_id"`
	AudienceName string `json:"audience_name"`
	AccessToken  string `json:"access_token"`
	DataCenter   string `json:"data_center"`
	SiteName     string `json:"site_name,omitempty"`
}

// manualCommitRequest は手動入力フォームからの確定リクエストのボディ。
type manualCommitRequest struct {
	AccountID         string   `json:"account_id"`
	AccountName       string   `json:"account_name"`
	AccessToken       string   `json:"access_token"`
	DataCenter        string   `json:"data_center"`
	AudienceID        string   `json:"audience_id"`
	AudienceName      string   `json:"audience_name"`
	DeviceIdentifiers []string `json:"device_identifiers"`
	SourceTag         string   `json:"source_tag,omitempty"`
}

// selectRequest は選択往復のリクエストボディ。
type selectRequest struct {
	SessionToken string `json:"session_token"`
	AudienceID   string `json:"audience_id,omitempty"`
	SiteID       string `json:"site_id,omitempty"`
}

// Start はリンクワークフローを開始しOAuth認可画面へリダイレクトする。
// GET /link/start?device=xxx&audience_id=yyy&source_tag=zzz&redirect=uuu
func (h *LinkHandler) Start(w http.ResponseWriter, r *http.Request) {
	params := linkParams{
		DeviceIdentifier: r.URL.Query().Get("device"),
		AudienceID:       r.URL.Query().Get("audience_id"),
		SourceTag:        r.URL.Query().Get("source_tag"),
		RedirectTarget:   r.URL.Query().Get("redirect"),
	}

	// リダイレクト先はオープンリダイレクト防止のため開始時点で検証する
	if params.RedirectTarget != "" {
		if err := h.guard.ValidateRedirectTarget(params.RedirectTarget); err != nil {
			slog.Warn("redirect target rejected",
				slog.String("error", err.Error()),
			)
			middleware.WriteAPIError(w, model.NewValidationError("リダイレクト先のURLが許可されていません"))
			return
		}
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 開始パラメータをstateと同じ寿命のCookieで引き継ぐ
	data, err := json.Marshal(params)
	if err != nil {
		slog.Error("failed to encode link params", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     linkParamsCookie,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.authorize.AuthorizeURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理しリンクの初回遷移を実行する。
// GET /link/callback?code=xxx&state=yyy
func (h *LinkHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		middleware.WriteAPIError(w, model.NewValidationError("stateパラメータが一致しません"))
		return
	}

	// 2. 開始パラメータの復元
	var params linkParams
	if paramsCookie, err := r.Cookie(linkParamsCookie); err == nil {
		if data, err := base64.RawURLEncoding.DecodeString(paramsCookie.Value); err == nil {
			// 壊れたCookieはパラメータなしとして続行する
			_ = json.Unmarshal(data, &params)
		}
	}

	h.clearFlowCookies(w)

	// 3. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteAPIError(w, model.NewValidationError("認可コードがありません"))
		return
	}

	// 4. リンクの初回遷移
	outcome, err := h.service.StartLink(r.Context(), code, linking.StartOptions{
		DeviceIdentifier: params.DeviceIdentifier,
		AudienceID:       params.AudienceID,
		SourceTag:        params.SourceTag,
		RedirectTarget:   params.RedirectTarget,
	})
	if err != nil {
		h.writeLinkError(w, err)
		return
	}

	h.writeOutcome(w, http.StatusOK, outcome)
}

// SelectAudience はオーディエンス選択の往復を処理する。
// POST /link/select-audience
func (h *LinkHandler) SelectAudience(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.SessionToken == "" || req.AudienceID == "" {
		middleware.WriteAPIError(w, model.NewValidationError("session_tokenとaudience_idは必須です"))
		return
	}

	outcome, err := h.service.SelectAudience(r.Context(), req.SessionToken, req.AudienceID)
	if err != nil {
		h.writeLinkError(w, err)
		return
	}
	h.writeOutcome(w, http.StatusOK, outcome)
}

// SelectSite はロケーション選択の往復を処理する。
// POST /link/select-site
func (h *LinkHandler) SelectSite(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.SessionToken == "" || req.SiteID == "" {
		middleware.WriteAPIError(w, model.NewValidationError("session_tokenとsite_idは必須です"))
		return
	}

	outcome, err := h.service.SelectSite(r.Context(), req.SessionToken, req.SiteID)
	if err != nil {
		h.writeLinkError(w, err)
		return
	}
	h.writeOutcome(w, http.StatusOK, outcome)
}

// CommitManual は手動入力フォームからの確定を処理する。
// POST /link/manual
func (h *LinkHandler) CommitManual(w http.ResponseWriter, r *http.Request) {
	var req manualCommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	outcome, err := h.service.CommitManual(r.Context(), linking.ManualCommitInput{
		AccountID:         req.AccountID,
		AccountName:       req.AccountName,
		AccessToken:       req.AccessToken,
		DataCenter:        req.DataCenter,
		AudienceID:        req.AudienceID,
		AudienceName:      req.AudienceName,
		DeviceIdentifiers: req.DeviceIdentifiers,
		SourceTag:         req.SourceTag,
	})
	if err != nil {
		h.writeLinkError(w, err)
		return
	}
	h.writeOutcome(w, http.StatusCreated, outcome)
}

// clearFlowCookies はOAuth往復用のCookieを削除する。
func (h *LinkHandler) clearFlowCookies(w http.ResponseWriter) {
	for _, name := range []string{oauthStateCookie, linkParamsCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// writeOutcome はOutcomeをAPIレスポンスに変換して書き込む。
func (h *LinkHandler) writeOutcome(w http.ResponseWriter, statusCode int, outcome *linking.Outcome) {
	if h.metrics != nil {
		h.metrics.RecordLinkOutcome(string(outcome.Status))
		if outcome.MatchMethod != "" {
			h.metrics.RecordMatchMethod(outcome.MatchMethod)
		}
		if outcome.Status == linking.StatusCommitted {
			h.metrics.RecordMappingsUpserted(len(outcome.Mappings))
		}
	}

	resp := outcomeResponse{
		Status:         string(outcome.Status),
		Mappings:       outcome.Mappings,
		SessionToken:   outcome.SessionToken,
		Audiences:      outcome.Audiences,
		RedirectTarget: outcome.RedirectTarget,
	}
	for _, c := range outcome.Candidates {
		resp.Candidates = append(resp.Candidates, candidateResponse{
			SiteID:      c.Site.SiteID,
			DisplayName: c.Site.DisplayName,
			Address:     c.Site.Address,
			GroupName:   c.Site.GroupName,
			DeviceCount: len(c.Site.DeviceIdentifiers),
			Score:       c.Score,
			Method:      string(c.Method),
		})
	}
	if outcome.Manual != nil {
		resp.Manual = &manualEntryParamsResponse{
			AccountID:    outcome.Manual.AccountID,
			AccountName:  outcome.Manual.AccountName,
			AudienceID:   outcome.Manual.AudienceID,
			AudienceName: outcome.Manual.AudienceName,
			AccessToken:  outcome.Manual.AccessToken,
			DataCenter:   outcome.Manual.DataCenter,
			SiteName:     outcome.Manual.SiteName,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// writeLinkError はリンク処理のエラーを記録しつつレスポンスに変換する。
func (h *LinkHandler) writeLinkError(w http.ResponseWriter, err error) {
	if h.metrics != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			h.metrics.RecordLinkFailure(apiErr.Code)
		}
	}
	middleware.WriteAPIError(w, err)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
