package validator

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/merchantfeed/internal/feed"
	"github.com/hitoshi/merchantfeed/internal/model"
)

// identityStripper はレンダラー用のマークアップ除去フェイク。
type identityStripper struct{}

func (identityStripper) Strip(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// fixedRates は固定レートを返すレートプロバイダのフェイク。
type fixedRates struct {
	rate float64
}

func (f *fixedRates) Rate(ctx context.Context, from, to string) (float64, error) {
	if from == to {
		return 1.0, nil
	}
	return f.rate, nil
}

func roundTripProducts() []*model.Product {
	return []*model.Product{
		{
			ID:           101,
			SKU:          "SKU-101",
			Name:         "Fjellstøvel Pro",
			Description:  "頑丈で防水性に優れた登山靴です。",
			Permalink:    "https://shop.example.com/p/101",
			ImageURL:     "https://shop.example.com/img/101.jpg",
			StockStatus:  model.StockStatusInStock,
			RegularPrice: "100.00",
			Brand:        "Fjellsport",
			GTIN:         "7031234567890",
			MPN:          "FS-101",
			CategoryIDs:  []int64{2},
		},
		{
			ID:           102,
			SKU:          "SKU-102",
			Name:         "Turrygg 40L",
			Description:  "日帰りから小屋泊まで対応するバックパックです。",
			Permalink:    "https://shop.example.com/p/102",
			ImageURL:     "https://shop.example.com/img/102.jpg",
			StockStatus:  model.StockStatusOutOfStock,
			RegularPrice: "250.00",
			Brand:        "Fjellsport",
			GTIN:         "7031234567891",
			MPN:          "FS-102",
			CategoryIDs:  []int64{2},
		},
	}
}

func roundTripRenderer(rate float64) (*feed.Renderer, feed.CategoryIndex) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	renderer := feed.NewRenderer(identityStripper{}, &fixedRates{rate: rate}, feed.ChannelConfig{
		Title:         "Fjellsport",
		Description:   "登山用品のオンラインストア",
		Link:          "https://shop.example.com",
		Language:      "nb-NO",
		StoreCurrency: "NOK",
	}, logger)
	index := feed.NewCategoryIndex([]*model.Category{
		{ID: 1, Name: "アウトドア"},
		{ID: 2, Name: "登山", ParentID: 1},
	})
	return renderer, index
}

// TestValidate_RenderedFeedPassesValidation はレンダラーの出力をそのまま
// 検証にかけ、エラー0件で通ることを検証する。レンダラーのタグ出力と
// 検証側のフィールド参照がずれると、ここで検出される。
func TestValidate_RenderedFeedPassesValidation(t *testing.T) {
	renderer, index := roundTripRenderer(0)
	doc, err := renderer.Render(context.Background(), roundTripProducts(), index, "NOK", "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	data, err := doc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	store := newFakeStore(testNow)
	if err := store.Put(context.Background(), "product-feed.xml", data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v := NewValidator(store)
	v.now = func() time.Time { return testNow }

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if !report.Valid {
		t.Errorf("valid = false, errors: %v", report.Errors)
	}
	if report.ErrorCount != 0 {
		t.Errorf("error_count = %d, want 0: %v", report.ErrorCount, report.Errors)
	}
	if report.ProductCount != 2 {
		t.Errorf("product_count = %d, want 2", report.ProductCount)
	}
}

// TestValidate_RenderedConvertedFeedPassesValidation は通貨変換付きの
// レンダリング結果も検証を通ることを検証する。
func TestValidate_RenderedConvertedFeedPassesValidation(t *testing.T) {
	renderer, index := roundTripRenderer(0.086)
	doc, err := renderer.Render(context.Background(), roundTripProducts(), index, "EUR", "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	data, err := doc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// 100.00 NOK × 0.086 = 8.60 EUR
	if !strings.Contains(string(data), "<g:price>8.60 EUR</g:price>") {
		t.Errorf("変換後の価格が出力に含まれるべき:\n%s", data)
	}

	store := newFakeStore(testNow)
	store.files["product-feed-eur.xml"] = data
	v := NewValidator(store)
	v.now = func() time.Time { return testNow }

	report, err := v.Validate(context.Background(), "product-feed-eur.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.ErrorCount != 0 {
		t.Errorf("error_count = %d, want 0: %v", report.ErrorCount, report.Errors)
	}
}
