// Package schedule はフィード自動生成のスケジュール制御を提供する。
// コントローラー、リトライ/バックオフ戦略、失敗通知のヒステリシスを含む。
package schedule

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hitoshi/merchantfeed/internal/config"
	"github.com/hitoshi/merchantfeed/internal/metrics"
	"github.com/hitoshi/merchantfeed/internal/model"
	"github.com/hitoshi/merchantfeed/internal/notify"
	"github.com/hitoshi/merchantfeed/internal/repository"
)

// tickInterval はスケジュール判定の周期。
const tickInterval = time.Minute

// GeneratorService はフィード生成の実行インターフェース。
type GeneratorService interface {
	// Generate は全スロットのフィードを生成して保存する。
	Generate(ctx context.Context) (*model.RunReport, error)
}

// Controller はフィード自動生成のスケジュールを制御する。
// feed_scheduleの状態を更新するのはこのコントローラーだけであり、
// 手動生成はスケジュール状態に影響しない。
type Controller struct {
	scheduleRepo repository.ScheduleRepository
	productRepo  repository.ProductRepository
	generator    GeneratorService
	notifier     notify.Notifier
	collector    metrics.MetricsCollector
	cfg          *config.Config
	logger       *slog.Logger
	now          func() time.Time
}

// NewController はControllerの新しいインスタンスを生成する。
func NewController(
	scheduleRepo repository.ScheduleRepository,
	productRepo repository.ProductRepository,
	generator GeneratorService,
	notifier notify.Notifier,
	collector metrics.MetricsCollector,
	cfg *config.Config,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		scheduleRepo: scheduleRepo,
		productRepo:  productRepo,
		generator:    generator,
		notifier:     notifier,
		collector:    collector,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// Start は1分間隔のティッカーでコントローラーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (c *Controller) Start(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	c.logger.Info("スケジュールコントローラーを開始しました",
		slog.String("frequency", string(c.cfg.UpdateFrequency)),
	)

	// 起動直後に1回判定
	if err := c.RunOnce(ctx); err != nil {
		c.logger.Error("スケジュール判定に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("スケジュールコントローラーを停止しました")
			return
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil {
				c.logger.Error("スケジュール判定に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce はスケジュール状態を1回判定し、実行時刻に達していれば生成を実行する。
func (c *Controller) RunOnce(ctx context.Context) error {
	state, err := c.scheduleRepo.Get(ctx)
	if err != nil {
		return err
	}

	// manual設定の場合、自動生成は行わない
	if c.cfg.UpdateFrequency == config.FrequencyManual {
		return nil
	}

	now := c.now()
	if state.NextRunAt.After(now) {
		return nil
	}

	// スキップ条件の確認。スキップは状態を一切変更しない。
	if reason := c.skipReason(ctx); reason != "" {
		c.collector.RecordGenerationSkipped(reason)
		c.logger.Info("スケジュール実行をスキップしました", slog.String("reason", reason))
		return nil
	}

	interval, ok := c.cfg.UpdateFrequency.Interval()
	if !ok {
		// manual以外でIntervalが引けないのは設定バグ
		c.logger.Error("未知の更新頻度です", slog.String("frequency", string(c.cfg.UpdateFrequency)))
		return nil
	}

	report, err := c.generator.Generate(ctx)
	now = c.now()
	if err != nil {
		ApplyFailure(state, err.Error(), now)
		c.logger.Warn("スケジュール生成が失敗しました",
			slog.Int("consecutive_failures", state.ConsecutiveFailures),
			slog.Time("next_run_at", state.NextRunAt),
			slog.String("error", err.Error()),
		)

		if ShouldNotify(state.ConsecutiveFailures) {
			if notifyErr := c.notifier.NotifyFailure(ctx, state.ConsecutiveFailures, err.Error()); notifyErr != nil {
				c.logger.Error("失敗通知の送信に失敗しました", slog.String("error", notifyErr.Error()))
			}
		}

		return c.scheduleRepo.Update(ctx, state)
	}

	ApplySuccess(state, interval, now)
	c.logger.Info("スケジュール生成が完了しました",
		slog.String("run_id", report.RunID),
		slog.Int("product_count", report.ProductCount),
		slog.Time("next_run_at", state.NextRunAt),
	)

	return c.scheduleRepo.Update(ctx, state)
}

// skipReason は実行をスキップすべき場合にその理由を返す。該当なしは空文字列。
// スキップ条件: メンテナンスファイルの存在、自動生成の無効化フラグ、
// カタログへの疎通不可。
func (c *Controller) skipReason(ctx context.Context) string {
	if c.cfg.DisableSchedule {
		return "disabled"
	}
	if c.cfg.MaintenanceFile != "" {
		if _, err := os.Stat(c.cfg.MaintenanceFile); err == nil {
			return "maintenance"
		}
	}
	if err := c.productRepo.Ping(ctx); err != nil {
		return "catalog_unreachable"
	}
	return ""
}
