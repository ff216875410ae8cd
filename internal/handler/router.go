package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pricewatch/internal/metrics"
	"github.com/hitoshi/pricewatch/internal/middleware"
)

// DBPinger はヘルスチェック用のデータベース疎通確認インターフェース。
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 取り込みと変更イベント
	ChangeService ChangeServiceInterface
	Fetcher       PageFetcherInterface

	// 配信
	DeliveryFinder    DeliveryFinder
	DeliveryProcessor DeliveryProcessor

	// 運用
	DB       DBPinger
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	ingestHandler := NewIngestHandler(deps.ChangeService, deps.Fetcher)
	eventHandler := NewEventHandler(deps.ChangeService)
	deliveryHandler := NewDeliveryHandler(deps.DeliveryFinder, deps.DeliveryProcessor)

	// --- 運用エンドポイント（レート制限の外） ---

	r.Get("/health", newHealthHandler(deps.DB))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.SetupMetricsRoute(deps.Gatherer))
	}

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// POST /api/ingest - 取り込み（取り込み専用レート制限を追加）
		r.With(deps.RateLimiter.IngestMiddleware()).Post("/api/ingest", ingestHandler.Ingest)

		// 変更イベント管理
		r.Route("/api/events/{id}", func(r chi.Router) {
			r.Post("/recompute", eventHandler.Recompute)
			r.Post("/dispatch", eventHandler.Redispatch)
		})

		// GET /api/companies/{id}/events - 企業ごとの変更イベント一覧
		r.Get("/api/companies/{id}/events", eventHandler.ListCompanyEvents)

		// 配信管理
		r.Route("/api/deliveries/{id}", func(r chi.Router) {
			r.Get("/", deliveryHandler.GetDelivery)
			r.Post("/process", deliveryHandler.ProcessDelivery)
		})

		// GET /api/notifications/{id}/deliveries - 通知イベントごとの配信一覧
		r.Get("/api/notifications/{id}/deliveries", deliveryHandler.ListEventDeliveries)
	})

	return r
}

// newHealthHandler はデータベース疎通を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(db DBPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "unhealthy",
					"reason": "database unreachable",
				})
				return
			}
		}

		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
