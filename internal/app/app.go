// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/pricewatch/internal/cache"
	"github.com/hitoshi/pricewatch/internal/config"
	"github.com/hitoshi/pricewatch/internal/database"
	"github.com/hitoshi/pricewatch/internal/fetch"
	"github.com/hitoshi/pricewatch/internal/handler"
	"github.com/hitoshi/pricewatch/internal/ingest"
	"github.com/hitoshi/pricewatch/internal/lock"
	"github.com/hitoshi/pricewatch/internal/logger"
	"github.com/hitoshi/pricewatch/internal/metrics"
	"github.com/hitoshi/pricewatch/internal/middleware"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/nlp"
	"github.com/hitoshi/pricewatch/internal/notify"
	"github.com/hitoshi/pricewatch/internal/pricing"
	"github.com/hitoshi/pricewatch/internal/repository"
	"github.com/hitoshi/pricewatch/internal/security"
	"github.com/hitoshi/pricewatch/internal/throttle"
	"github.com/hitoshi/pricewatch/internal/worker/crawl"
	"github.com/hitoshi/pricewatch/internal/worker/delivery"
	"github.com/hitoshi/pricewatch/internal/worker/news"
)

// userAgent はアウトバウンドクロールで名乗るUser-Agent。
const userAgent = "pricewatch-bot/1.0"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// coordination はプロセス間協調のための依存（ソースロックと通知重複排除）を束ねる。
// REDIS_ADDRが設定されていればRedis実装、なければインメモリ実装を使う。
type coordination struct {
	locker lock.SourceLocker
	dedup  cache.TTLStore
	client *redis.Client
}

func (c *coordination) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// newCoordination はロックと重複排除ストアを構築する。
func newCoordination(cfg *config.Config) *coordination {
	if cfg.RedisAddr == "" {
		slog.Info("using in-memory coordination (REDIS_ADDR not set)")
		return &coordination{
			locker: lock.NewMemoryLock(),
			dedup:  cache.NewMemoryStore(cfg.DedupTTL),
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	slog.Info("using redis coordination", slog.String("addr", cfg.RedisAddr))
	return &coordination{
		locker: lock.NewRedisLock(client, "pricewatch:lock:", slog.Default()),
		dedup:  cache.NewRedisStore(client, "pricewatch:dedup:", slog.Default()),
		client: client,
	}
}

// newRateLimiter は設定値（req/min）からAPIレート制限を構築する。
func newRateLimiter(cfg *config.Config) *middleware.RateLimiter {
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitIngest > 0 {
		rlCfg.IngestRate = rate.Limit(float64(cfg.RateLimitIngest) / 60.0)
		rlCfg.IngestBurst = cfg.RateLimitIngest
	}
	return middleware.NewRateLimiter(rlCfg)
}

// newPageFetcher はSSRF防止クライアントとホスト単位スロットル付きのフェッチャーを構築する。
func newPageFetcher(cfg *config.Config, guard security.SSRFGuardService) *fetch.PageFetcher {
	client := guard.NewSafeClient(cfg.CrawlTimeout)
	throttler := throttle.NewLimiter(cfg.ThrottleMaxRequests, cfg.ThrottlePeriod)
	return fetch.NewPageFetcher(client, guard, throttler, slog.Default(), cfg.CrawlMaxSize, userAgent)
}

// newDeliveryExecutor はチャネルトランスポートを登録した配信エグゼキュータを構築する。
func newDeliveryExecutor(cfg *config.Config, notificationRepo repository.NotificationRepository) *notify.DeliveryExecutor {
	transportClient := &http.Client{Timeout: 10 * time.Second}
	telegram := notify.NewTelegramTransport(transportClient, cfg.TelegramBotToken)
	webhook := notify.NewWebhookTransport(transportClient)
	email := notify.NewEmailTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	return notify.NewDeliveryExecutor(notificationRepo, telegram, webhook, email, slog.Default())
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	snapshotRepo := repository.NewPostgresSnapshotRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)
	subscriberRepo := repository.NewPostgresSubscriberRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	// 3. プロセス間協調（ソースロック・通知重複排除）
	coord := newCoordination(cfg)
	defer coord.Close()

	// 4. ドメインサービスの初期化
	dispatcher := notify.NewNotificationDispatcher(
		subscriberRepo, notificationRepo, coord.dedup,
		slog.Default(), cfg.DedupTTL, cfg.DeliveryMaxAttempts,
	)
	changeService := ingest.NewChangeService(
		coord.locker, pricing.NewParser(), snapshotRepo, eventRepo, dispatcher,
		slog.Default(), cfg.SourceLockTTL(),
	)
	executor := newDeliveryExecutor(cfg, notificationRepo)

	// 5. フェッチャーの初期化（html省略リクエストのサーバー側フェッチ用）
	guard := security.NewSSRFGuard()
	fetcher := newPageFetcher(cfg, guard)

	// 6. メトリクスレジストリ
	registry := prometheus.NewRegistry()

	// 7. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       newRateLimiter(cfg),

		ChangeService: changeService,
		Fetcher:       fetcher,

		DeliveryFinder:    notificationRepo,
		DeliveryProcessor: executor,

		DB:       db,
		Gatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// クロールスケジューラと配信スケジューラを起動し、メトリクスを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	companyRepo := repository.NewPostgresCompanyRepo(db)
	sourceRepo := repository.NewPostgresSourceRepo(db)
	snapshotRepo := repository.NewPostgresSnapshotRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)
	newsRepo := repository.NewPostgresNewsRepo(db)
	subscriberRepo := repository.NewPostgresSubscriberRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	// 3. プロセス間協調とメトリクス
	coord := newCoordination(cfg)
	defer coord.Close()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 通知パイプラインの初期化
	dispatcher := notify.NewNotificationDispatcher(
		subscriberRepo, notificationRepo, coord.dedup,
		slog.Default(), cfg.DedupTTL, cfg.DeliveryMaxAttempts,
	)
	executor := newDeliveryExecutor(cfg, notificationRepo)

	// 5. 取り込みサービスの初期化
	changeService := ingest.NewChangeService(
		coord.locker, pricing.NewParser(), snapshotRepo, eventRepo, dispatcher,
		slog.Default(), cfg.SourceLockTTL(),
	)
	sanitizer := security.NewContentSanitizer()
	enricher := nlp.NewHeuristicEnricher(nil)
	newsIngestor := news.NewIngestor(newsRepo, sanitizer, enricher, dispatcher, slog.Default())
	pricingIngestor := crawl.NewPricingIngestor(changeService, collector)

	// 6. クローラーの初期化
	guard := security.NewSSRFGuard()
	fetcher := newPageFetcher(cfg, guard)

	ingestors := map[model.SourceType]crawl.ContentIngestor{
		model.SourceTypePricing:  pricingIngestor,
		model.SourceTypeNewsSite: newsIngestor,
		model.SourceTypeBlog:     newsIngestor,
	}
	crawler := crawl.NewCrawler(sourceRepo, fetcher, ingestors, collector, slog.Default(), cfg.PricingCrawlInterval)
	crawler.SetSourceInterval(model.SourceTypeNewsSite, cfg.NewsCrawlInterval)
	crawler.SetSourceInterval(model.SourceTypeBlog, cfg.NewsCrawlInterval)

	crawlScheduler := crawl.NewScheduler(sourceRepo, crawler, slog.Default(), cfg.CrawlMaxConcurrent)
	deliveryScheduler := delivery.NewScheduler(
		notificationRepo, executor, collector, slog.Default(),
		cfg.DeliveryMaxConcurrent, 100,
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 7. ソースカタログのシード
	catalog, err := config.LoadSourceCatalog(cfg.SourcesFile)
	if err != nil {
		return fmt.Errorf("failed to load source catalog: %w", err)
	}
	if err := seedSources(ctx, catalog, companyRepo, sourceRepo, slog.Default()); err != nil {
		return fmt.Errorf("failed to seed sources: %w", err)
	}

	// 8. メトリクスサーバーをバックグラウンドで起動
	metricsServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: newWorkerMux(registry),
	}
	go func() {
		slog.Info("worker metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker starting",
		slog.Duration("crawl_interval", cfg.CrawlInterval),
		slog.Duration("delivery_interval", cfg.DeliveryInterval),
		slog.Int("crawl_max_concurrent", cfg.CrawlMaxConcurrent),
	)

	// 配信スケジューラをバックグラウンドで起動
	go deliveryScheduler.Start(ctx, cfg.DeliveryInterval)

	// クロールスケジューラをメインgoroutineで実行（ブロッキング）
	crawlScheduler.Start(ctx, cfg.CrawlInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerMux はワーカーの運用エンドポイント（/health, /metrics）を返す。
func newWorkerMux(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.SetupMetricsRoute(gatherer))
	return mux
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
