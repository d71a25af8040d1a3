package marketing

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/linkman/internal/model"
)

const (
	defaultAuthorizeURL = "https://login.mailchimp.com/oauth2/authorize"
	defaultTokenURL     = "https://login.mailchimp.com/oauth2/token"
	defaultMetadataURL  = "https://login.mailchimp.com/oauth2/metadata"
)

// MailchimpConfig はMailchimpプロバイダーの設定。
type MailchimpConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthorizeURL string
	TokenURL     string
	MetadataURL  string
	// APIBase が設定されている場合、データセンターから導出する代わりに
	// このベースURLを使用する（テスト用）。
	APIBase string
}

// MailchimpClient はMailchimp Marketing APIのクライアント。
// データセンター（dc）ごとのAPIエンドポイントに対してリクエストを行う。
type MailchimpClient struct {
	config     MailchimpConfig
	httpClient *http.Client
}

// NewMailchimpClient はMailchimpClientを生成する。
// httpClientにはタイムアウトとSSRF防止を設定したクライアントを渡すことを想定している。
func NewMailchimpClient(config MailchimpConfig, httpClient *http.Client) *MailchimpClient {
	if config.AuthorizeURL == "" {
		config.AuthorizeURL = defaultAuthorizeURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	if config.MetadataURL == "" {
		config.MetadataURL = defaultMetadataURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &MailchimpClient{config: config, httpClient: httpClient}
}

// AuthorizeURL はOAuth認可画面のURLを生成する。
func (c *MailchimpClient) AuthorizeURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {c.config.RedirectURL},
		"state":         {state},
	}
	return c.config.AuthorizeURL + "?" + params.Encode()
}

// mailchimpTokenResponse はトークンエンドポイントのレスポンス。
type mailchimpTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (c *MailchimpClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"redirect_uri":  {c.config.RedirectURL},
		"code":          {code},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}

	var tokenResp mailchimpTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}

	return tokenResp.AccessToken, nil
}

// mailchimpMetadata はメタデータエンドポイントのレスポンス。
type mailchimpMetadata struct {
	DC          string `json:"dc"`
	AccountName string `json:"accountname"`
	UserID      int64  `json:"user_id"`
	Login       struct {
		Email      string `json:"email"`
		LoginEmail string `json:"login_email"`
	} `json:"login"`
}

// GetAccountMetadata はアクセストークンからアカウント情報を取得する。
func (c *MailchimpClient) GetAccountMetadata(ctx context.Context, accessToken string) (*model.AuthorizedAccount, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.MetadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata fetch failed: %w", err)
	}

	var meta mailchimpMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata response: %w", err)
	}
	if meta.DC == "" {
		return nil, fmt.Errorf("empty data center in metadata response")
	}

	loginEmail := meta.Login.LoginEmail
	if loginEmail == "" {
		loginEmail = meta.Login.Email
	}

	return &model.AuthorizedAccount{
		AccountID:   strconv.FormatInt(meta.UserID, 10),
		AccountName: meta.AccountName,
		LoginEmail:  loginEmail,
		DataCenter:  meta.DC,
		AccessToken: accessToken,
	}, nil
}

// mailchimpListsResponse はオーディエンス一覧エンドポイントのレスポンス。
type mailchimpListsResponse struct {
	Lists []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Stats struct {
			MemberCount int `json:"member_count"`
		} `json:"stats"`
	} `json:"lists"`
}

// ListAudiences はアカウントのオーディエンス一覧を取得する。
func (c *MailchimpClient) ListAudiences(ctx context.Context, accessToken, dataCenter string) ([]model.Audience, error) {
	endpoint := c.apiBase(dataCenter) + "/lists?count=100"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create lists request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("audience list fetch failed: %w", err)
	}

	var listsResp mailchimpListsResponse
	if err := json.Unmarshal(body, &listsResp); err != nil {
		return nil, fmt.Errorf("failed to parse lists response: %w", err)
	}

	audiences := make([]model.Audience, 0, len(listsResp.Lists))
	for _, l := range listsResp.Lists {
		audiences = append(audiences, model.Audience{
			ID:          l.ID,
			Name:        l.Name,
			MemberCount: l.Stats.MemberCount,
		})
	}
	return audiences, nil
}

// UpsertContact はコンタクトをオーディエンスに登録または更新する。
// メンバーIDは小文字化したメールアドレスのMD5ハッシュ。
func (c *MailchimpClient) UpsertContact(ctx context.Context, accessToken, dataCenter, audienceID string, contact Contact) error {
	if contact.Email == "" {
		return fmt.Errorf("contact email is required")
	}

	payload := map[string]any{
		"email_address": contact.Email,
		"status_if_new": "subscribed",
	}
	mergeFields := map[string]string{}
	if contact.FirstName != "" {
		mergeFields["FNAME"] = contact.FirstName
	}
	if contact.LastName != "" {
		mergeFields["LNAME"] = contact.LastName
	}
	if len(mergeFields) > 0 {
		payload["merge_fields"] = mergeFields
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode contact payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/lists/%s/members/%s",
		c.apiBase(dataCenter), url.PathEscape(audienceID), memberID(contact.Email))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create member request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("contact upsert failed: %w", err)
	}
	return nil
}

// AddTags はオーディエンス内のコンタクトにタグを付与する。
func (c *MailchimpClient) AddTags(ctx context.Context, accessToken, dataCenter, audienceID, email string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	type tagEntry struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	entries := make([]tagEntry, 0, len(tags))
	for _, t := range tags {
		entries = append(entries, tagEntry{Name: t, Status: "active"})
	}

	body, err := json.Marshal(map[string]any{"tags": entries})
	if err != nil {
		return fmt.Errorf("failed to encode tags payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/lists/%s/members/%s/tags",
		c.apiBase(dataCenter), url.PathEscape(audienceID), memberID(email))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create tags request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("tag update failed: %w", err)
	}
	return nil
}

// apiBase はデータセンターからAPIベースURLを導出する。
func (c *MailchimpClient) apiBase(dataCenter string) string {
	if c.config.APIBase != "" {
		return c.config.APIBase
	}
	return fmt.Sprintf("https://%s.api.mailchimp.com/3.0", dataCenter)
}

// do はリクエストを実行し、2xx以外のステータスをエラーとして扱う。
func (c *MailchimpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// memberID は小文字化したメールアドレスのMD5ハッシュを返す。
func memberID(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}

// compile-time interface check
var _ Provider = (*MailchimpClient)(nil)
