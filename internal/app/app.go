package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/merchantfeed/internal/config"
	"github.com/hitoshi/merchantfeed/internal/currency"
	"github.com/hitoshi/merchantfeed/internal/database"
	"github.com/hitoshi/merchantfeed/internal/feed"
	"github.com/hitoshi/merchantfeed/internal/feedgen"
	"github.com/hitoshi/merchantfeed/internal/handler"
	"github.com/hitoshi/merchantfeed/internal/logger"
	"github.com/hitoshi/merchantfeed/internal/metrics"
	"github.com/hitoshi/merchantfeed/internal/middleware"
	"github.com/hitoshi/merchantfeed/internal/notify"
	"github.com/hitoshi/merchantfeed/internal/publisher"
	"github.com/hitoshi/merchantfeed/internal/repository"
	"github.com/hitoshi/merchantfeed/internal/security"
	"github.com/hitoshi/merchantfeed/internal/selector"
	"github.com/hitoshi/merchantfeed/internal/validator"
	"github.com/hitoshi/merchantfeed/internal/worker/schedule"
)

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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandGenerate:
		return runGenerate(cfg)
	case CommandValidate:
		return runValidate(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// components はserve/worker/generate/validateで共有する依存関係の束。
type components struct {
	db           *sql.DB
	redis        *redis.Client
	products     *repository.PostgresProductRepo
	scheduleRepo *repository.PostgresScheduleRepo
	settings     *repository.PostgresSettingsRepo
	store        *publisher.MinioStore
	keys         *publisher.KeyManager
	registry     *prometheus.Registry
	collector    *metrics.Collector
	generator    *feedgen.Generator
	validator    *validator.Validator
	urlChecker   *validator.URLChecker
	notifier     notify.Notifier
}

// close は保持しているコネクションを閉じる。
func (c *components) close() {
	if c.redis != nil {
		c.redis.Close()
	}
	if c.db != nil {
		c.db.Close()
	}
}

// buildComponents はDB・ストレージ・キャッシュに接続し、全依存関係をワイヤリングする。
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	productRepo := repository.NewPostgresProductRepo(db)
	categoryRepo := repository.NewPostgresCategoryRepo(db)
	scheduleRepo := repository.NewPostgresScheduleRepo(db)
	settingsRepo := repository.NewPostgresSettingsRepo(db)

	// 3. 成果物ストレージの初期化
	minioClient, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
		Secure: cfg.Minio.UseSSL,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	store := publisher.NewMinioStore(minioClient, cfg.Minio.Bucket)
	if err := store.EnsureBucket(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure feed bucket: %w", err)
	}

	// 4. 為替レートキャッシュの初期化
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 5. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 6. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	stripper := security.NewMarkupStripper()

	// 7. 為替レートプロバイダの初期化
	rateCache := currency.NewRedisRateCache(redisClient)
	rateFetcher := currency.NewExchangeRateAPIFetcher(ssrfGuard, cfg.RateFetchTimeout)
	rateProvider := currency.NewRateProvider(
		rateCache, rateFetcher, cfg.FallbackRates, cfg.RateCacheTTL,
		slog.Default(), collector,
	)

	// 8. フィード生成パイプラインの初期化
	renderer := feed.NewRenderer(stripper, rateProvider, feed.ChannelConfig{
		Title:         cfg.FeedTitle,
		Description:   cfg.FeedDescription,
		Link:          cfg.BaseURL,
		Language:      cfg.FeedLanguage,
		StoreCurrency: cfg.StoreCurrency,
	}, slog.Default())

	sel := selector.NewSelector(productRepo, categoryRepo, slog.Default())
	keys := publisher.NewKeyManager(settingsRepo)

	generator := feedgen.NewGenerator(
		sel, renderer, categoryRepo, settingsRepo, store, keys,
		cfg, collector, slog.Default(),
	)

	// 9. 通知の初期化
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.NotifyEnabled && cfg.NotifyEmail != "" {
		notifier = notify.NewSMTPNotifier(cfg.SMTP.Addr, cfg.SMTP.From, cfg.NotifyEmail, slog.Default())
	}

	return &components{
		db:           db,
		redis:        redisClient,
		products:     productRepo,
		scheduleRepo: scheduleRepo,
		settings:     settingsRepo,
		store:        store,
		keys:         keys,
		registry:     registry,
		collector:    collector,
		generator:    generator,
		validator:    validator.NewValidator(store),
		urlChecker:   validator.NewURLChecker(ssrfGuard, 10*time.Second),
		notifier:     notifier,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	// フィードキーは起動時に発行しておく（初回起動時のみ生成される）
	if _, err := c.keys.Ensure(ctx); err != nil {
		return fmt.Errorf("failed to ensure feed key: %w", err)
	}

	deps := &handler.RouterDeps{
		RateLimiter: middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitAdmin)),
		Logger:      slog.Default(),

		Store:      c.store,
		KeyManager: c.keys,

		Generator:  c.generator,
		Validator:  c.validator,
		URLChecker: c.urlChecker,
		Schedule:   c.scheduleRepo,
		Settings:   c.settings,
		Notifier:   c.notifier,
		Config:     cfg,

		Collector: c.collector,
		Gatherer:  c.registry,
		DB:        c.products,
	}

	router := handler.NewRouter(deps)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はスケジュールワーカーモードで起動する。
// スケジュールコントローラーを起動し、設定された頻度でフィードを自動生成する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	controller := schedule.NewController(
		c.scheduleRepo, c.products, c.generator, c.notifier,
		c.collector, cfg, slog.Default(),
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.String("frequency", string(cfg.UpdateFrequency)),
	)

	// コントローラーをメインgoroutineで実行（ブロッキング）
	controller.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runGenerate はフィード生成を1回実行して終了する。
// スケジュール状態には影響しない。cronからの実行を想定している。
func runGenerate(cfg *config.Config) error {
	ctx := context.Background()

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	report, err := c.generator.Generate(ctx)
	if err != nil {
		return fmt.Errorf("feed generation failed: %w", err)
	}

	fmt.Printf("generated %d slot(s) with %d product(s) in %s\n",
		report.SlotCount, report.ProductCount, report.Duration.Round(time.Millisecond))
	for _, slot := range report.Slots {
		fmt.Printf("  %s (%d items)\n", slot.Filename, slot.ItemCount)
	}
	return nil
}

// runValidate はデフォルトスロットの保存済みフィードを検証し、
// レポートをJSONで標準出力に書き出す。検証エラーがあっても終了コードは0。
func runValidate(cfg *config.Config) error {
	ctx := context.Background()

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	report, err := c.validator.Validate(ctx, publisher.Slot{}.Filename())
	if err != nil {
		return fmt.Errorf("feed validation failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode validation report: %w", err)
	}
	return nil
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
