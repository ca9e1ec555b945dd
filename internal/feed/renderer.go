package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/merchantfeed/internal/currency"
	"github.com/hitoshi/merchantfeed/internal/model"
	"github.com/hitoshi/merchantfeed/internal/security"
)

const (
	// maxDescriptionLength はMerchant Centerのdescription上限（文字数）。
	maxDescriptionLength = 5000
	// maxAdditionalImages はadditional_image_linkの上限数。
	maxAdditionalImages = 10
	// generatorName はchannelのgenerator要素に出力する識別子。
	generatorName = "merchantfeed/1.0"
)

// availabilityLabels は在庫状態とMerchant Centerのavailability値の対応表。
// 対応表にない状態は安全側に倒して "out of stock" とする。
var availabilityLabels = map[model.StockStatus]string{
	model.StockStatusInStock:     "in stock",
	model.StockStatusOutOfStock:  "out of stock",
	model.StockStatusOnBackorder: "preorder",
}

// ChannelConfig はチャンネルメタデータの設定。
type ChannelConfig struct {
	Title         string
	Description   string
	Link          string
	Language      string
	StoreCurrency string
}

// Renderer は商品リストからフィードドキュメントを組み立てる。
type Renderer struct {
	stripper security.MarkupStripperService
	rates    currency.Provider
	channel  ChannelConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewRenderer はRendererを生成する。
func NewRenderer(stripper security.MarkupStripperService, rates currency.Provider, channel ChannelConfig, logger *slog.Logger) *Renderer {
	return &Renderer{
		stripper: stripper,
		rates:    rates,
		channel:  channel,
		logger:   logger,
		now:      time.Now,
	}
}

// Render は商品リストを指定通貨・言語のフィードドキュメントに変換する。
// 個々の商品の変換失敗はログに残してスキップし、ドキュメント全体は継続する。
// 変換後のアイテムが0件の場合はmodel.ErrNoEligibleProductsを返す。
func (r *Renderer) Render(ctx context.Context, products []*model.Product, categories CategoryIndex, targetCurrency, language string) (*Document, error) {
	// レートは実行の先頭で1回だけ解決する。取得できない場合は
	// 変換を諦めてストア通貨のまま出力する（生成自体は止めない）。
	priceCurrency := targetCurrency
	rate := decimal.NewFromInt(1)
	if targetCurrency != r.channel.StoreCurrency {
		raw, err := r.rates.Rate(ctx, r.channel.StoreCurrency, targetCurrency)
		if err != nil {
			r.logger.Warn("currency_conversion_skipped",
				slog.String("from", r.channel.StoreCurrency),
				slog.String("to", targetCurrency),
				slog.String("error", err.Error()),
			)
			priceCurrency = r.channel.StoreCurrency
		} else {
			rate = decimal.NewFromFloat(raw)
		}
	}

	items := make([]Item, 0, len(products))
	for _, p := range products {
		item, err := r.renderItem(p, categories, rate, priceCurrency)
		if err != nil {
			r.logger.Warn("item_render_failed",
				slog.Int64("product_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, model.ErrNoEligibleProducts
	}

	title := r.channel.Title
	if targetCurrency != r.channel.StoreCurrency {
		title = fmt.Sprintf("%s (%s)", title, targetCurrency)
	}
	channelLanguage := r.channel.Language
	if language != "" {
		channelLanguage = language
	}

	return &Document{
		Version: "2.0",
		XmlnsG:  GoogleNamespace,
		Channel: Channel{
			Title:         title,
			Link:          r.channel.Link,
			Description:   r.channel.Description,
			Language:      channelLanguage,
			LastBuildDate: r.now().Format(time.RFC1123Z),
			Generator:     generatorName,
			Items:         items,
		},
	}, nil
}

// renderItem は1商品をフィードアイテムに変換する。
func (r *Renderer) renderItem(p *model.Product, categories CategoryIndex, rate decimal.Decimal, priceCurrency string) (Item, error) {
	id := p.SKU
	if id == "" {
		id = fmt.Sprintf("%d", p.ID)
	}

	price, err := r.formatPrice(p.RegularPrice, rate, priceCurrency)
	if err != nil {
		return Item{}, fmt.Errorf("通常価格を変換できません: %w", err)
	}

	// セール価格はセール中のみ出力する
	salePrice := ""
	if p.OnSale && p.SalePrice != "" {
		salePrice, err = r.formatPrice(p.SalePrice, rate, priceCurrency)
		if err != nil {
			return Item{}, fmt.Errorf("セール価格を変換できません: %w", err)
		}
	}

	// MPN未設定の場合はSKUで代用する
	mpn := p.MPN
	if mpn == "" {
		mpn = p.SKU
	}

	gallery := p.GalleryImages
	if len(gallery) > maxAdditionalImages {
		gallery = gallery[:maxAdditionalImages]
	}

	return Item{
		ID:                   id,
		Title:                r.stripper.Strip(p.Name),
		Description:          r.description(p),
		Link:                 p.Permalink,
		ImageLink:            p.ImageURL,
		AdditionalImageLinks: gallery,
		Availability:         availability(p.StockStatus),
		Price:                price,
		SalePrice:            salePrice,
		Condition:            "new",
		Brand:                p.Brand,
		GTIN:                 p.GTIN,
		MPN:                  mpn,
		ProductType:          categories.DeepestPath(p.CategoryIDs),
	}, nil
}

// description は短い説明を優先して整形済みの説明文を返す。
// マークアップを除去し、上限文字数で切り詰める。
func (r *Renderer) description(p *model.Product) string {
	raw := p.ShortDescription
	if raw == "" {
		raw = p.Description
	}

	text := r.stripper.Strip(raw)

	runes := []rune(text)
	if len(runes) > maxDescriptionLength {
		text = string(runes[:maxDescriptionLength])
	}
	return text
}

// formatPrice は価格文字列をレートで変換し "12.34 EUR" 形式に整形する。
func (r *Renderer) formatPrice(raw string, rate decimal.Decimal, currencyCode string) (string, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return "", fmt.Errorf("価格の形式が不正です: %q", raw)
	}
	converted := amount.Mul(rate)
	return fmt.Sprintf("%s %s", converted.StringFixed(2), currencyCode), nil
}

// availability は在庫状態をMerchant Centerのavailability値に変換する。
func availability(status model.StockStatus) string {
	if label, ok := availabilityLabels[status]; ok {
		return label
	}
	return "out of stock"
}
