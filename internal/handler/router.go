package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/merchantfeed/internal/config"
	"github.com/hitoshi/merchantfeed/internal/metrics"
	"github.com/hitoshi/merchantfeed/internal/middleware"
	"github.com/hitoshi/merchantfeed/internal/notify"
	"github.com/hitoshi/merchantfeed/internal/publisher"
	"github.com/hitoshi/merchantfeed/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger

	// フィード配信
	Store      publisher.Store
	KeyManager *publisher.KeyManager

	// 管理API
	Generator  GeneratorInterface
	Validator  ValidatorInterface
	URLChecker URLCheckerInterface
	Schedule   repository.ScheduleRepository
	Settings   repository.SettingsRepository
	Notifier   notify.Notifier
	Config     *config.Config

	// 監視
	Collector metrics.MetricsCollector
	Gatherer  prometheus.Gatherer
	DB        Pinger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	SecurityHeaders → Logging → Recovery（全ルート）、RateLimit（管理APIのみ）
//
// フィード配信（/feed/*）はキー検証がアクセス制御を担うため、
// レート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())

	deliveryHandler := NewDeliveryHandler(deps.Store, deps.KeyManager, deps.Collector, deps.Logger)
	adminHandler := NewAdminHandler(
		deps.Generator, deps.Validator, deps.URLChecker, deps.Store, deps.KeyManager,
		deps.Schedule, deps.Settings, deps.Notifier, deps.Config, deps.Logger,
	)
	healthHandler := NewHealthHandler(deps.DB)

	// フィード配信（ケイパビリティURL）
	r.Route("/feed/{key}", func(r chi.Router) {
		r.Get("/", deliveryHandler.ServeFeed)
		r.Get("/{filename}", deliveryHandler.ServeFeed)
	})

	// 管理API
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AdminMiddleware())

		r.Route("/api/feed", func(r chi.Router) {
			r.Post("/generate", adminHandler.Generate)
			r.Post("/test", adminHandler.GenerateTest)
			r.Post("/validate", adminHandler.Validate)
			r.Post("/check-url", adminHandler.CheckURL)
			r.Get("/status", adminHandler.Status)
			r.Post("/rotate-key", adminHandler.RotateKey)
		})
	})

	// 監視
	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", metrics.Handler(deps.Gatherer))

	return r
}
