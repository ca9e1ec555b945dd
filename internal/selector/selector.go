// Package selector はフィードに載せる商品の選別を提供する。
//
// 選別は2段階で行う。ステータス・在庫・カテゴリの絞り込みはSQLに
// プッシュダウンし（repository.ProductFilter）、行単位の適格性判定は
// 取得後にここで行う。
package selector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/merchantfeed/internal/config"
	"github.com/hitoshi/merchantfeed/internal/model"
	"github.com/hitoshi/merchantfeed/internal/repository"
)

// validProductStatuses はフィルタ設定で指定できる商品ステータス。
var validProductStatuses = map[string]bool{
	string(model.ProductStatusPublish): true,
	string(model.ProductStatusPrivate): true,
	string(model.ProductStatusDraft):   true,
}

// validStockStatuses はフィルタ設定で指定できる在庫状態。
var validStockStatuses = map[string]bool{
	string(model.StockStatusInStock):     true,
	string(model.StockStatusOutOfStock):  true,
	string(model.StockStatusOnBackorder): true,
}

// Selector は商品の選別を行う。
type Selector struct {
	products   repository.ProductRepository
	categories repository.CategoryRepository
	logger     *slog.Logger
}

// NewSelector はSelectorを生成する。
func NewSelector(products repository.ProductRepository, categories repository.CategoryRepository, logger *slog.Logger) *Selector {
	return &Selector{
		products:   products,
		categories: categories,
		logger:     logger,
	}
}

// ValidateFilter はフィルタ設定を検証する。生成実行の前に必ず呼ぶ。
// 違反は設定エラー（model.APIError）として同期的に返す。
func (s *Selector) ValidateFilter(ctx context.Context, filter config.FilterConfig) error {
	if len(filter.ProductStatuses) == 0 {
		return model.NewInvalidFilterError("商品ステータスを1つ以上指定してください")
	}
	for _, status := range filter.ProductStatuses {
		if !validProductStatuses[status] {
			return model.NewInvalidFilterError(fmt.Sprintf("未知の商品ステータスです: %s", status))
		}
	}
	for _, status := range filter.StockStatuses {
		if !validStockStatuses[status] {
			return model.NewInvalidFilterError(fmt.Sprintf("未知の在庫状態です: %s", status))
		}
	}

	included := make(map[int64]bool, len(filter.IncludeCategories))
	for _, id := range filter.IncludeCategories {
		included[id] = true
	}
	for _, id := range filter.ExcludeCategories {
		if included[id] {
			return model.NewInvalidFilterError(fmt.Sprintf("カテゴリ%dが含める側と除外側の両方に指定されています", id))
		}
	}

	allIDs := append(append([]int64{}, filter.IncludeCategories...), filter.ExcludeCategories...)
	ok, missingID, err := s.categories.Exists(ctx, allIDs)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewInvalidFilterError(fmt.Sprintf("存在しないカテゴリIDです: %d", missingID))
	}

	return nil
}

// Select はフィルタ条件に一致し、かつ掲載可能な商品を新しい順に返す。
// limitが0以下の場合は全件が対象。掲載不可の商品は黙って除外する
// （件数だけデバッグログに残す）。
func (s *Selector) Select(ctx context.Context, filter config.FilterConfig, limit int) ([]*model.Product, error) {
	products, err := s.products.ListForFeed(ctx, repository.ProductFilter{
		Statuses:          filter.ProductStatuses,
		StockStatuses:     filter.StockStatuses,
		IncludeCategories: filter.IncludeCategories,
		ExcludeCategories: filter.ExcludeCategories,
	}, limit)
	if err != nil {
		return nil, err
	}

	eligible := make([]*model.Product, 0, len(products))
	for _, p := range products {
		if Eligible(p) {
			eligible = append(eligible, p)
		}
	}

	if skipped := len(products) - len(eligible); skipped > 0 {
		s.logger.Debug("ineligible_products_skipped", slog.Int("count", skipped))
	}

	return eligible, nil
}

// Eligible は商品が掲載可能かを判定する。
// 掲載には可視であること、価格・画像・商品名があること、
// 説明（短い説明または長い説明のいずれか）があることが必要。
func Eligible(p *model.Product) bool {
	if !p.Visible {
		return false
	}
	if p.RegularPrice == "" {
		return false
	}
	if p.ImageURL == "" {
		return false
	}
	if p.Name == "" {
		return false
	}
	if p.ShortDescription == "" && p.Description == "" {
		return false
	}
	return true
}
