package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// リンクワークフロー
	LinkHandler *LinkHandler

	// マッピング管理
	MappingHandler *MappingHandler

	// コンタクトWebhook
	ContactHandler *ContactHandler

	// ヘルスチェック用DB。nilの場合はプロセス生存のみを報告する。
	DB *sql.DB
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → RateLimit
//
// リクエストロギングはサーバー起動側でルーター全体を包む形で適用する。
//
// レート制限はブラウザ向けリンクAPI（general）とデバイス向けWebhook（webhook）で
// 独立に適用する。/healthと/metricsは制限の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// ヘルスチェック（レート制限の外）
	r.Get("/health", healthHandler(deps.DB))

	// --- ブラウザ向けリンクワークフロー ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/link", func(r chi.Router) {
			r.Get("/start", deps.LinkHandler.Start)
			r.Get("/callback", deps.LinkHandler.Callback)
			r.Post("/select-audience", deps.LinkHandler.SelectAudience)
			r.Post("/select-site", deps.LinkHandler.SelectSite)
			r.Post("/manual", deps.LinkHandler.CommitManual)
		})

		// マッピング管理
		r.Route("/api/mappings", func(r chi.Router) {
			r.Get("/", deps.MappingHandler.ListByAccount)
			r.Delete("/{device}", deps.MappingHandler.Disconnect)
		})
	})

	// --- デバイス向けコンタクトWebhook ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.WebhookMiddleware())

		r.Post("/webhook/devices/{device}/contacts", deps.ContactHandler.Receive)
	})

	return r
}

// healthHandler はヘルスチェックのハンドラーを返す。
// DBが設定されている場合は接続確認も行う。
func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}
