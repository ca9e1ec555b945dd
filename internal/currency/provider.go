package currency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/merchantfeed/internal/metrics"
	"github.com/hitoshi/merchantfeed/internal/model"
)

// Provider は為替レートの取得インターフェース。
// フィードレンダラーが価格変換時に使用する。
type Provider interface {
	// Rate はfromからtoへの為替レートを返す。
	// 同一通貨の場合はI/Oを伴わず1.0を返す。
	// キャッシュ → 外部API → 静的フォールバック表の順に解決を試み、
	// いずれも失敗した場合はmodel.ErrRateUnavailableを返す。
	Rate(ctx context.Context, from, to string) (float64, error)
}

// RateProvider はProviderの実装。
type RateProvider struct {
	cache     RateCache
	fetcher   RateFetcher
	fallback  map[string]float64
	cacheTTL  time.Duration
	logger    *slog.Logger
	collector metrics.MetricsCollector
}

// NewRateProvider はRateProviderを生成する。
// fallbackは "FROM_TO" をキーとする静的レート表。
func NewRateProvider(cache RateCache, fetcher RateFetcher, fallback map[string]float64, cacheTTL time.Duration, logger *slog.Logger, collector metrics.MetricsCollector) *RateProvider {
	return &RateProvider{
		cache:     cache,
		fetcher:   fetcher,
		fallback:  fallback,
		cacheTTL:  cacheTTL,
		logger:    logger,
		collector: collector,
	}
}

// Rate はfromからtoへの為替レートを返す。
func (p *RateProvider) Rate(ctx context.Context, from, to string) (float64, error) {
	if from == to {
		return 1.0, nil
	}

	// 1. キャッシュ
	if rate, ok, err := p.cache.Get(ctx, from, to); err != nil {
		// キャッシュ障害はミス扱いで続行する
		p.logger.Warn("rate_cache_error", slog.String("error", err.Error()))
	} else if ok {
		p.collector.RecordRateCacheHit()
		return rate, nil
	}
	p.collector.RecordRateCacheMiss()

	// 2. 外部API
	if rates, err := p.fetcher.FetchRates(ctx, from); err != nil {
		p.logger.Warn("rate_fetch_failed",
			slog.String("from", from),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
	} else if rate, ok := rates[to]; ok && rate > 0 {
		if err := p.cache.Set(ctx, from, to, rate, p.cacheTTL); err != nil {
			p.logger.Warn("rate_cache_error", slog.String("error", err.Error()))
		}
		return rate, nil
	}

	// 3. 静的フォールバック表
	if rate, ok := p.fallbackRate(from, to); ok {
		p.collector.RecordRateFallbackUsed()
		p.logger.Info("rate_fallback_used",
			slog.String("from", from),
			slog.String("to", to),
			slog.Float64("rate", rate),
		)
		return rate, nil
	}

	return 0, fmt.Errorf("%w: %s->%s", model.ErrRateUnavailable, from, to)
}

// fallbackRate は静的レート表からレートを解決する。
// 直接レート → 逆レート（1/r） → 基軸通貨（USD、EUR）経由の合成の順に試す。
func (p *RateProvider) fallbackRate(from, to string) (float64, bool) {
	if rate, ok := p.fallback[from+"_"+to]; ok && rate > 0 {
		return rate, true
	}

	if inverse, ok := p.fallback[to+"_"+from]; ok && inverse > 0 {
		return 1 / inverse, true
	}

	for _, base := range []string{"USD", "EUR"} {
		if base == from || base == to {
			continue
		}
		fromToBase, ok1 := p.fallback[from+"_"+base]
		baseToTo, ok2 := p.fallback[base+"_"+to]
		if ok1 && ok2 && fromToBase > 0 && baseToTo > 0 {
			return fromToBase * baseToTo, true
		}
	}

	return 0, false
}

// compile-time interface check
var _ Provider = (*RateProvider)(nil)
