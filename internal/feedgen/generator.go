// Package feedgen はフィード生成の実行単位を提供する。
//
// 1回の実行は「商品の選別 → スロットごとのレンダリング → 保存」を
// まとめたもので、スケジュールコントローラーと手動生成の両方が
// 同じ実行単位を使う。途中で失敗した場合、保存は成果物単位で
// アトミックなため既存のフィードが壊れることはない。
package feedgen

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/merchantfeed/internal/config"
	"github.com/hitoshi/merchantfeed/internal/feed"
	"github.com/hitoshi/merchantfeed/internal/metrics"
	"github.com/hitoshi/merchantfeed/internal/model"
	"github.com/hitoshi/merchantfeed/internal/publisher"
	"github.com/hitoshi/merchantfeed/internal/repository"
	"github.com/hitoshi/merchantfeed/internal/selector"
)

// testFeedLimit はテスト生成で出力する商品数の上限。
const testFeedLimit = 10

// previewLength はテスト生成レポートに含めるXMLプレビューの最大文字数。
const previewLength = 2000

// Generator はフィード生成のオーケストレーター。
type Generator struct {
	selector   *selector.Selector
	renderer   *feed.Renderer
	categories repository.CategoryRepository
	settings   repository.SettingsRepository
	store      publisher.Store
	keys       *publisher.KeyManager
	cfg        *config.Config
	collector  metrics.MetricsCollector
	logger     *slog.Logger
}

// NewGenerator はGeneratorを生成する。
func NewGenerator(
	sel *selector.Selector,
	renderer *feed.Renderer,
	categories repository.CategoryRepository,
	settings repository.SettingsRepository,
	store publisher.Store,
	keys *publisher.KeyManager,
	cfg *config.Config,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Generator {
	return &Generator{
		selector:   sel,
		renderer:   renderer,
		categories: categories,
		settings:   settings,
		store:      store,
		keys:       keys,
		cfg:        cfg,
		collector:  collector,
		logger:     logger,
	}
}

// Slots は設定から生成対象のスロット一覧を導出する。
// 先頭は常にデフォルトスロット（ストア通貨、サフィックスなし）。
// 通貨変換が有効な場合はストア通貨以外の変換先通貨ごとにスロットが増え、
// 言語が設定されている場合はさらに通貨×言語の組に展開される。
func (g *Generator) Slots() []publisher.Slot {
	currencies := []string{""}
	if g.cfg.CurrencyConversion {
		for _, cur := range g.cfg.TargetCurrencies {
			if cur != g.cfg.StoreCurrency {
				currencies = append(currencies, cur)
			}
		}
	}

	languages := []string{""}
	languages = append(languages, g.cfg.TargetLanguages...)

	var slots []publisher.Slot
	for _, cur := range currencies {
		for _, lang := range languages {
			slots = append(slots, publisher.Slot{Currency: cur, Language: lang})
		}
	}
	return slots
}

// Generate は全スロットのフィードを生成して保存する。
// フィルタ設定の検証から始まり、違反があれば生成前に同期的にエラーを返す。
func (g *Generator) Generate(ctx context.Context) (*model.RunReport, error) {
	runID := uuid.New().String()
	start := time.Now()
	logger := g.logger.With(slog.String("run_id", runID))

	report, err := g.run(ctx, logger, 0, g.Slots())
	g.collector.RecordGenerationLatency(time.Since(start))
	if err != nil {
		g.collector.RecordGenerationFailure()
		logger.Error("feed_generation_failed", slog.String("error", err.Error()))
		return nil, err
	}

	report.RunID = runID
	report.Duration = time.Since(start)
	g.collector.RecordGenerationSuccess()

	// ステータスAPI用に直近の商品数を残す
	if err := g.settings.SetValue(ctx, repository.SettingLastProductCount, strconv.Itoa(report.ProductCount)); err != nil {
		logger.Warn("product_count_save_failed", slog.String("error", err.Error()))
	}

	logger.Info("feed_generation_completed",
		slog.Int("product_count", report.ProductCount),
		slog.Int("slot_count", report.SlotCount),
		slog.Float64("duration_ms", float64(report.Duration.Nanoseconds())/float64(time.Millisecond)),
	)
	return report, nil
}

// TestReport はテスト生成の結果。XMLプレビューを含む。
type TestReport struct {
	model.RunReport
	Preview string `json:"preview"`
}

// GenerateTest は商品数を絞ったテストフィードを専用スロットに生成する。
// 本番スロットには一切触れない。
func (g *Generator) GenerateTest(ctx context.Context) (*TestReport, error) {
	runID := uuid.New().String()
	start := time.Now()
	logger := g.logger.With(slog.String("run_id", runID), slog.Bool("test", true))

	if err := g.selector.ValidateFilter(ctx, g.cfg.Filter); err != nil {
		return nil, err
	}

	products, err := g.selector.Select(ctx, g.cfg.Filter, testFeedLimit)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, model.ErrNoEligibleProducts
	}

	index, err := g.categoryIndex(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := g.renderer.Render(ctx, products, index, g.cfg.StoreCurrency, "")
	if err != nil {
		return nil, err
	}

	data, err := doc.Encode()
	if err != nil {
		return nil, fmt.Errorf("フィードのエンコードに失敗しました: %w", err)
	}

	if err := g.store.Put(ctx, publisher.TestFeedFilename, data); err != nil {
		return nil, err
	}

	preview := string(data)
	if runes := []rune(preview); len(runes) > previewLength {
		preview = string(runes[:previewLength])
	}

	logger.Info("test_feed_generated", slog.Int("product_count", len(doc.Channel.Items)))

	return &TestReport{
		RunReport: model.RunReport{
			RunID:        runID,
			ProductCount: len(doc.Channel.Items),
			SlotCount:    1,
			Duration:     time.Since(start),
			GeneratedAt:  start,
			Slots: []model.SlotResult{{
				Filename:  publisher.TestFeedFilename,
				Currency:  g.cfg.StoreCurrency,
				ItemCount: len(doc.Channel.Items),
			}},
		},
		Preview: preview,
	}, nil
}

// run は選別からスロット保存までの本体処理。
func (g *Generator) run(ctx context.Context, logger *slog.Logger, limit int, slots []publisher.Slot) (*model.RunReport, error) {
	if err := g.selector.ValidateFilter(ctx, g.cfg.Filter); err != nil {
		return nil, err
	}

	products, err := g.selector.Select(ctx, g.cfg.Filter, limit)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, model.ErrNoEligibleProducts
	}

	index, err := g.categoryIndex(ctx)
	if err != nil {
		return nil, err
	}

	feedKey, err := g.keys.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	report := &model.RunReport{
		ProductCount: len(products),
		GeneratedAt:  time.Now(),
	}

	for _, slot := range slots {
		currency := slot.Currency
		if currency == "" {
			currency = g.cfg.StoreCurrency
		}

		doc, err := g.renderer.Render(ctx, products, index, currency, slot.Language)
		if err != nil {
			return nil, fmt.Errorf("スロット%sの生成に失敗しました: %w", slot.Filename(), err)
		}

		data, err := doc.Encode()
		if err != nil {
			return nil, fmt.Errorf("スロット%sのエンコードに失敗しました: %w", slot.Filename(), err)
		}

		if err := g.store.Put(ctx, slot.Filename(), data); err != nil {
			return nil, err
		}

		itemCount := len(doc.Channel.Items)
		g.collector.RecordItemsRendered(itemCount)
		if skipped := len(products) - itemCount; skipped > 0 {
			for i := 0; i < skipped; i++ {
				g.collector.RecordItemRenderFailure()
			}
		}

		report.Slots = append(report.Slots, model.SlotResult{
			Filename:  slot.Filename(),
			Currency:  currency,
			Language:  slot.Language,
			ItemCount: itemCount,
			URL:       publisher.FeedURL(g.cfg.BaseURL, feedKey, slot.Filename()),
		})

		logger.Info("feed_slot_published",
			slog.String("filename", slot.Filename()),
			slog.String("currency", currency),
			slog.Int("item_count", itemCount),
		)
	}

	report.SlotCount = len(report.Slots)
	return report, nil
}

// categoryIndex は全カテゴリを読み込んで索引を構築する。
func (g *Generator) categoryIndex(ctx context.Context) (feed.CategoryIndex, error) {
	categories, err := g.categories.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return feed.NewCategoryIndex(categories), nil
}
