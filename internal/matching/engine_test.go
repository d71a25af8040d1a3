package matching

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/hitoshi/linkman/internal/model"
)

// --- インメモリのフェイク拠点レジストリ ---
// 類似度はトライグラム集合のJaccard係数で実装する。
// pg_trgmと同様に英数字以外を除去し、単語ごとに空白でパディングする。

type memorySiteFinder struct {
	sites []*model.CandidateSite
	err   error
}

func (f *memorySiteFinder) FindByContactEmail(_ context.Context, email string) ([]*model.CandidateSite, error) {
	if f.err != nil {
		return nil, f.err
	}
	var result []*model.CandidateSite
	for _, site := range f.sites {
		for _, e := range site.ContactEmails {
			if strings.EqualFold(e, email) {
				result = append(result, site)
				break
			}
		}
	}
	return result, nil
}

func (f *memorySiteFinder) FindByExactName(_ context.Context, name string) ([]*model.CandidateSite, error) {
	if f.err != nil {
		return nil, f.err
	}
	var result []*model.CandidateSite
	for _, site := range f.sites {
		if strings.EqualFold(site.DisplayName, name) {
			result = append(result, site)
		}
	}
	return result, nil
}

func (f *memorySiteFinder) FindBySimilarName(_ context.Context, name string, threshold float64) ([]model.SiteSimilarity, error) {
	if f.err != nil {
		return nil, f.err
	}
	var result []model.SiteSimilarity
	for _, site := range f.sites {
		score := trigramSimilarity(site.DisplayName, name)
		if score > threshold {
			result = append(result, model.SiteSimilarity{Site: site, Score: score})
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Score > result[j].Score })
	return result, nil
}

func (f *memorySiteFinder) FindByNameSubstring(_ context.Context, name string) ([]*model.CandidateSite, error) {
	if f.err != nil {
		return nil, f.err
	}
	lowered := strings.ToLower(name)
	var result []*model.CandidateSite
	for _, site := range f.sites {
		display := strings.ToLower(site.DisplayName)
		if strings.Contains(display, lowered) || strings.Contains(lowered, display) {
			result = append(result, site)
		}
	}
	return result, nil
}

var _ SiteFinder = (*memorySiteFinder)(nil)

// trigramSimilarity はトライグラム集合のJaccard係数を返す。
func trigramSimilarity(a, b string) float64 {
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for g := range ta {
		if tb[g] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

func trigrams(s string) map[string]bool {
	var cleaned strings.Builder
	for _, r := range strings.ToLower(s) {
		if r == ' ' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			cleaned.WriteRune(r)
		}
	}

	grams := make(map[string]bool)
	for _, word := range strings.Fields(cleaned.String()) {
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			grams[padded[i:i+3]] = true
		}
	}
	return grams
}

// --- テスト用レジストリ ---

func testSites() []*model.CandidateSite {
	return []*model.CandidateSite{
		{
			SiteID:            "site-1",
			DisplayName:       "Joe's Pizza",
			DeviceIdentifiers: []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"},
			ContactEmails:     []string{"owner@joespizza.example"},
		},
		{
			SiteID:            "site-2",
			DisplayName:       "Pizza Palace",
			DeviceIdentifiers: []string{"aa:bb:cc:dd:ee:03"},
			ContactEmails:     []string{"info@pizzapalace.example"},
		},
		{
			SiteID:            "site-3",
			DisplayName:       "Cafe Aroma",
			DeviceIdentifiers: nil,
			ContactEmails:     []string{"hello@cafearoma.example"},
		},
	}
}

// --- テスト ---

// メール一致がある場合は名前戦略に進まないことを検証
func TestResolveCandidates_EmailWinsOverName(t *testing.T) {
	finder := &memorySiteFinder{sites: testSites()}
	engine := NewEngine(finder, 0.3)

	// アカウント名は別の拠点（Pizza Palace）に一致するが、メールが優先される
	res, err := engine.ResolveCandidates(context.Background(), "Pizza Palace", "OWNER@joespizza.example")
	if err != nil {
		t.Fatalf("ResolveCandidates() error = %v", err)
	}

	if res.Method != MethodEmail {
		t.Errorf("Method = %q, want %q", res.Method, MethodEmail)
	}
	if len(res.Sites) != 1 {
		t.Fatalf("len(Sites) = %d, want 1", len(res.Sites))
	}
	if res.Sites[0].Site.SiteID != "site-1" {
		t.Errorf("SiteID = %q, want site-1", res.Sites[0].Site.SiteID)
	}
	if res.Sites[0].Method != model.MatchEmail {
		t.Errorf("match method = %q, want %q", res.Sites[0].Method, model.MatchEmail)
	}
}

// 完全一致のスコアが1.0であり、低信頼のマッチに上書きされないことを検証
func TestResolveCandidates_ExactMatchScoreIsOne(t *testing.T) {
	finder := &memorySiteFinder{sites: testSites()}
	engine := NewEngine(finder, 0.3)

	res, err := engine.ResolveCandidates(context.Background(), "pizza palace", "")
	if err != nil {
		t.Fatalf("ResolveCandidates() error = %v", err)
	}

	if res.Method != MethodName {
		t.Errorf("Method = %q, want %q", res.Method, MethodName)
	}

	seen := make(map[string]bool)
	for _, m := range res.Sites {
		if seen[m.Site.SiteID] {
			t.Errorf("duplicate siteID in result: %s", m.Site.SiteID)
		}
		seen[m.Site.SiteID] = true

		if m.Method == model.MatchExact && m.Score != 1.0 {
			t.Errorf("exact match score = %v, want 1.0", m.Score)
		}
	}

	// 完全一致したPizza Palaceは類似度や部分一致でもヒットするが、1エントリに潰れる
	if res.Sites[0].Site.SiteID != "site-2" || res.Sites[0].Method != model.MatchExact {
		t.Errorf("first result = %q/%q, want site-2/exact", res.Sites[0].Site.SiteID, res.Sites[0].Method)
	}
}

// アポストロフィ欠落のアカウント名がトライグラム類似度で解決されることを検証
func TestResolveCandidates_FuzzyApostrophe(t *testing.T) {
	finder := &memorySiteFinder{sites: testSites()}
	engine := NewEngine(finder, 0.3)

	res, err := engine.ResolveCandidates(context.Background(), "Joes Pizza", "")
	if err != nil {
		t.Fatalf("ResolveCandidates() error = %v", err)
	}

	if res.Method != MethodName {
		t.Errorf("Method = %q, want %q", res.Method, MethodName)
	}

	var joes *model.MatchResult
	for i := range res.Sites {
		if res.Sites[i].Site.SiteID == "site-1" {
			joes = &res.Sites[i]
		}
	}
	if joes == nil {
		t.Fatal("expected Joe's Pizza in fuzzy results")
	}
	if joes.Method != model.MatchFuzzy {
		t.Errorf("match method = %q, want %q", joes.Method, model.MatchFuzzy)
	}
	if len(joes.Site.DeviceIdentifiers) != 2 {
		t.Errorf("device identifiers = %d, want 2", len(joes.Site.DeviceIdentifiers))
	}
}

// 部分文字列マッチのスコアが固定値0.5であることを検証
func TestResolveCandidates_ContainsFixedScore(t *testing.T) {
	finder := &memorySiteFinder{sites: []*model.CandidateSite{
		{SiteID: "site-x", DisplayName: "Aroma"},
	}}
	engine := NewEngine(finder, 0.9) // 類似度は閾値を高くして無効化

	res, err := engine.ResolveCandidates(context.Background(), "Cafe Aroma Downtown", "")
	if err != nil {
		t.Fatalf("ResolveCandidates() error = %v", err)
	}

	if res.Method != MethodName {
		t.Fatalf("Method = %q, want %q", res.Method, MethodName)
	}
	if len(res.Sites) != 1 {
		t.Fatalf("len(Sites) = %d, want 1", len(res.Sites))
	}
	if res.Sites[0].Method != model.MatchContains {
		t.Errorf("match method = %q, want %q", res.Sites[0].Method, model.MatchContains)
	}
	if res.Sites[0].Score != 0.5 {
		t.Errorf("contains score = %v, want fixed 0.5", res.Sites[0].Score)
	}
}

// 結果がスコアの降順で整列されることを検証
func TestResolveCandidates_SortedByScore(t *testing.T) {
	finder := &memorySiteFinder{sites: testSites()}
	engine := NewEngine(finder, 0.1)

	res, err := engine.ResolveCandidates(context.Background(), "Pizza", "")
	if err != nil {
		t.Fatalf("ResolveCandidates() error = %v", err)
	}

	for i := 1; i < len(res.Sites); i++ {
		if res.Sites[i].Score > res.Sites[i-1].Score {
			t.Errorf("result not sorted: score[%d]=%v > score[%d]=%v",
				i, res.Sites[i].Score, i-1, res.Sites[i-1].Score)
		}
	}
}

// どの戦略でもヒットしない場合にMethodNoneが返ることを検証（エラーにはならない）
func TestResolveCandidates_NoMatch(t *testing.T) {
	finder := &memorySiteFinder{sites: testSites()}
	engine := NewEngine(finder, 0.3)

	res, err := engine.ResolveCandidates(context.Background(), "Sushi Express", "nobody@example.com")
	if err != nil {
		t.Fatalf("ResolveCandidates() error = %v", err)
	}

	if res.Method != MethodNone {
		t.Errorf("Method = %q, want %q", res.Method, MethodNone)
	}
	if len(res.Sites) != 0 {
		t.Errorf("len(Sites) = %d, want 0", len(res.Sites))
	}
}

// アカウント名が空の場合に名前戦略がスキップされることを検証
func TestResolveCandidates_EmptyAccountName(t *testing.T) {
	finder := &memorySiteFinder{sites: testSites()}
	engine := NewEngine(finder, 0.3)

	res, err := engine.ResolveCandidates(context.Background(), "", "unknown@example.com")
	if err != nil {
		t.Fatalf("ResolveCandidates() error = %v", err)
	}

	if res.Method != MethodNone {
		t.Errorf("Method = %q, want %q", res.Method, MethodNone)
	}
}

// 空のレジストリでは常にMethodNoneが返ることを検証
func TestResolveCandidates_EmptyRegistry(t *testing.T) {
	finder := &memorySiteFinder{}
	engine := NewEngine(finder, 0.3)

	res, err := engine.ResolveCandidates(context.Background(), "Joe's Pizza", "owner@joespizza.example")
	if err != nil {
		t.Fatalf("ResolveCandidates() error = %v", err)
	}

	if res.Method != MethodNone {
		t.Errorf("Method = %q, want %q", res.Method, MethodNone)
	}
}

// レジストリのエラーが呼び出し元に伝播することを検証
func TestResolveCandidates_PropagatesError(t *testing.T) {
	finder := &memorySiteFinder{err: errors.New("storage unreachable")}
	engine := NewEngine(finder, 0.3)

	if _, err := engine.ResolveCandidates(context.Background(), "Joe's Pizza", ""); err == nil {
		t.Fatal("expected error from finder")
	}
}

// しきい値が0以下の場合にデフォルト値が使われることを検証
func TestNewEngine_DefaultThreshold(t *testing.T) {
	engine := NewEngine(&memorySiteFinder{}, 0)
	if engine.threshold != DefaultSimilarityThreshold {
		t.Errorf("threshold = %v, want %v", engine.threshold, DefaultSimilarityThreshold)
	}
}
