// Package matching はアカウント情報から候補拠点を解決する純粋なマッチングロジックを提供する。
// 副作用を持たず、ランク付けされた候補を生成する。
package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hitoshi/linkman/internal/model"
)

// DefaultSimilarityThreshold はトライグラム類似度のデフォルト下限。
const DefaultSimilarityThreshold = 0.3

// containsScore は部分文字列マッチに与える固定スコア。
// 実際の重なり長に関わらず固定値とする。部分一致の序列に規範的な要件は
// 存在せず、既存挙動との互換性を優先する。
const containsScore = 0.5

// SiteFinder はマッチングエンジンが必要とする拠点レジストリの検索能力。
// 類似度関数はストレージ層が提供するため、テストではトライグラムの
// Jaccard係数などを実装したインメモリのフェイクを注入できる。
type SiteFinder interface {
	FindByContactEmail(ctx context.Context, email string) ([]*model.CandidateSite, error)
	FindByExactName(ctx context.Context, name string) ([]*model.CandidateSite, error)
	FindBySimilarName(ctx context.Context, name string, threshold float64) ([]model.SiteSimilarity, error)
	FindByNameSubstring(ctx context.Context, name string) ([]*model.CandidateSite, error)
}

// Method は解決に使用された戦略を表す。
type Method string

const (
	// MethodEmail はログインメールによる解決。
	MethodEmail Method = "email"
	// MethodName はアカウント名による解決。
	MethodName Method = "name"
	// MethodNone はどの戦略でも候補が得られなかったことを表す。
	MethodNone Method = "none"
)

// Resolution は候補解決1回分の結果を表す。
type Resolution struct {
	Method Method
	Sites  []model.MatchResult
}

// Engine は候補拠点の解決を行う。状態を持たず、複数リクエストから並行に
// 呼び出しても安全。
type Engine struct {
	finder    SiteFinder
	threshold float64
}

// NewEngine はEngineを生成する。thresholdが0以下の場合はデフォルト値0.3を使用する。
func NewEngine(finder SiteFinder, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Engine{finder: finder, threshold: threshold}
}

// ResolveCandidates はアカウント名とログインメールから候補拠点を解決する。
//
// 戦略は優先順で適用され、1件以上の結果を返した最初の戦略で打ち切る:
//
//  1. メール戦略: ログインメールの完全一致（大文字小文字を区別しない）。
//     ログインメールは命名が不揃いでも運営者を確実に特定できるため、
//     正解として扱う。
//  2. 名前戦略: 完全一致 → トライグラム類似度 → 部分文字列の3つの検索を
//     マージし、siteIDで重複排除する（先勝ち。完全一致のスコアが低信頼の
//     結果に上書きされることはない）。
//  3. どちらも空ならMethodNone。"マッチなし"はエラーではなく正常な結果。
func (e *Engine) ResolveCandidates(ctx context.Context, accountName, loginEmail string) (*Resolution, error) {
	// 1. メール戦略
	if loginEmail != "" {
		sites, err := e.finder.FindByContactEmail(ctx, loginEmail)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve by email: %w", err)
		}
		if len(sites) > 0 {
			matches := make([]model.MatchResult, 0, len(sites))
			for _, site := range sites {
				matches = append(matches, model.MatchResult{
					Site:   *site,
					Score:  1.0,
					Method: model.MatchEmail,
				})
			}
			return &Resolution{Method: MethodEmail, Sites: matches}, nil
		}
	}

	// 2. 名前戦略（アカウント名がない場合はスキップ）
	if strings.TrimSpace(accountName) == "" {
		return &Resolution{Method: MethodNone}, nil
	}

	matches, err := e.resolveByName(ctx, accountName)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return &Resolution{Method: MethodName, Sites: matches}, nil
	}

	return &Resolution{Method: MethodNone}, nil
}

// resolveByName は3つの独立した名前検索をマージする。
// 挿入の優先順位は exact → fuzzy → contains で、siteIDの重複は先勝ちで
// 排除する。最終結果はスコアの降順に整列する。
func (e *Engine) resolveByName(ctx context.Context, accountName string) ([]model.MatchResult, error) {
	var merged []model.MatchResult
	seen := make(map[string]bool)

	add := func(site *model.CandidateSite, score float64, method model.MatchMethod) {
		if seen[site.SiteID] {
			return
		}
		seen[site.SiteID] = true
		merged = append(merged, model.MatchResult{Site: *site, Score: score, Method: method})
	}

	exact, err := e.finder.FindByExactName(ctx, accountName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve by exact name: %w", err)
	}
	for _, site := range exact {
		add(site, 1.0, model.MatchExact)
	}

	similar, err := e.finder.FindBySimilarName(ctx, accountName, e.threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve by similarity: %w", err)
	}
	for _, s := range similar {
		add(s.Site, s.Score, model.MatchFuzzy)
	}

	contains, err := e.finder.FindByNameSubstring(ctx, accountName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve by substring: %w", err)
	}
	for _, site := range contains {
		add(site, containsScore, model.MatchContains)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	return merged, nil
}
