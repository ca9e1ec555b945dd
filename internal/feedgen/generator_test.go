package feedgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/merchantfeed/internal/config"
	"github.com/hitoshi/merchantfeed/internal/feed"
	"github.com/hitoshi/merchantfeed/internal/model"
	"github.com/hitoshi/merchantfeed/internal/publisher"
	"github.com/hitoshi/merchantfeed/internal/repository"
	"github.com/hitoshi/merchantfeed/internal/selector"
)

// --- テスト用のフェイク実装 ---

type fakeProductRepo struct {
	products []*model.Product
	listErr  error
}

func (f *fakeProductRepo) ListForFeed(ctx context.Context, filter repository.ProductFilter, limit int) ([]*model.Product, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit > 0 && len(f.products) > limit {
		return f.products[:limit], nil
	}
	return f.products, nil
}

func (f *fakeProductRepo) Count(ctx context.Context, filter repository.ProductFilter) (int, error) {
	return len(f.products), nil
}

func (f *fakeProductRepo) Ping(ctx context.Context) error { return nil }

type fakeCategoryRepo struct{}

func (fakeCategoryRepo) Exists(ctx context.Context, ids []int64) (bool, int64, error) {
	return true, 0, nil
}

func (fakeCategoryRepo) ListAll(ctx context.Context) ([]*model.Category, error) {
	return nil, nil
}

type fakeSettingsRepo struct {
	values map[string]string
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{values: map[string]string{}}
}

func (f *fakeSettingsRepo) GetValue(ctx context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeSettingsRepo) SetValue(ctx context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

type fakeStore struct {
	files  map[string][]byte
	putErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: map[string][]byte{}}
}

func (s *fakeStore) Put(ctx context.Context, filename string, data []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.files[filename] = data
	return nil
}

func (s *fakeStore) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	data, ok := s.files[filename]
	if !ok {
		return nil, model.ErrArtifactNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Stat(ctx context.Context, filename string) (*publisher.ArtifactInfo, error) {
	data, ok := s.files[filename]
	if !ok {
		return nil, model.ErrArtifactNotFound
	}
	return &publisher.ArtifactInfo{Filename: filename, SizeBytes: int64(len(data))}, nil
}

type passthroughStripper struct{}

func (passthroughStripper) Strip(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

type fixedRates struct{ rate float64 }

func (f fixedRates) Rate(ctx context.Context, from, to string) (float64, error) {
	if from == to {
		return 1.0, nil
	}
	return f.rate, nil
}

type nopCollector struct{}

func (nopCollector) RecordGenerationSuccess()              {}
func (nopCollector) RecordGenerationFailure()              {}
func (nopCollector) RecordGenerationSkipped(string)        {}
func (nopCollector) RecordGenerationLatency(time.Duration) {}
func (nopCollector) RecordItemsRendered(int)               {}
func (nopCollector) RecordItemRenderFailure()              {}
func (nopCollector) RecordDeliveryStatus(int)              {}
func (nopCollector) RecordRateCacheHit()                   {}
func (nopCollector) RecordRateCacheMiss()                  {}
func (nopCollector) RecordRateFallbackUsed()               {}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:         "https://shop.example.com",
		FeedTitle:       "Fjellsport",
		FeedDescription: "登山用品のオンラインストア",
		FeedLanguage:    "nb-NO",
		StoreCurrency:   "NOK",
		Filter: config.FilterConfig{
			ProductStatuses: []string{"publish"},
			StockStatuses:   []string{"instock"},
		},
	}
}

func eligibleProduct(id int64) *model.Product {
	return &model.Product{
		ID:           id,
		SKU:          fmt.Sprintf("SKU-%d", id),
		Name:         "Test Product",
		Description:  "テスト商品の説明です。",
		Permalink:    "https://shop.example.com/p/1",
		ImageURL:     "https://shop.example.com/img/1.jpg",
		StockStatus:  model.StockStatusInStock,
		Visible:      true,
		RegularPrice: "100.00",
	}
}

// newTestGenerator はフェイク一式を組み込んだGeneratorを生成する。
func newTestGenerator(cfg *config.Config, products *fakeProductRepo, store *fakeStore) (*Generator, *fakeSettingsRepo) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	categories := fakeCategoryRepo{}
	settings := newFakeSettingsRepo()

	sel := selector.NewSelector(products, categories, logger)
	renderer := feed.NewRenderer(passthroughStripper{}, fixedRates{rate: 0.086}, feed.ChannelConfig{
		Title:         cfg.FeedTitle,
		Description:   cfg.FeedDescription,
		Link:          cfg.BaseURL,
		Language:      cfg.FeedLanguage,
		StoreCurrency: cfg.StoreCurrency,
	}, logger)
	keys := publisher.NewKeyManager(settings)

	g := NewGenerator(sel, renderer, categories, settings, store, keys, cfg, nopCollector{}, logger)
	return g, settings
}

// --- Slots のテスト ---

func TestSlots_DefaultOnly(t *testing.T) {
	g, _ := newTestGenerator(testConfig(), &fakeProductRepo{}, newFakeStore())

	slots := g.Slots()
	if len(slots) != 1 {
		t.Fatalf("slots = %d, want 1", len(slots))
	}
	if slots[0].Filename() != "product-feed.xml" {
		t.Errorf("filename = %q, want %q", slots[0].Filename(), "product-feed.xml")
	}
}

func TestSlots_WithCurrencyConversion(t *testing.T) {
	cfg := testConfig()
	cfg.CurrencyConversion = true
	cfg.TargetCurrencies = []string{"EUR", "USD", "NOK"} // ストア通貨は除外される
	g, _ := newTestGenerator(cfg, &fakeProductRepo{}, newFakeStore())

	slots := g.Slots()
	if len(slots) != 3 {
		t.Fatalf("slots = %d, want 3", len(slots))
	}
	// 先頭は常にデフォルトスロット
	if slots[0].Filename() != "product-feed.xml" {
		t.Errorf("先頭のスロットはデフォルトであるべき: %q", slots[0].Filename())
	}

	filenames := map[string]bool{}
	for _, s := range slots {
		filenames[s.Filename()] = true
	}
	for _, want := range []string{"product-feed.xml", "product-feed-eur.xml", "product-feed-usd.xml"} {
		if !filenames[want] {
			t.Errorf("スロット %q が含まれるべき: %v", want, filenames)
		}
	}
}

func TestSlots_WithLanguages(t *testing.T) {
	cfg := testConfig()
	cfg.CurrencyConversion = true
	cfg.TargetCurrencies = []string{"EUR"}
	cfg.TargetLanguages = []string{"en-US"}
	g, _ := newTestGenerator(cfg, &fakeProductRepo{}, newFakeStore())

	slots := g.Slots()
	// (デフォルト通貨, EUR) × (デフォルト言語, en-US) = 4スロット
	if len(slots) != 4 {
		t.Fatalf("slots = %d, want 4", len(slots))
	}

	filenames := map[string]bool{}
	for _, s := range slots {
		filenames[s.Filename()] = true
	}
	for _, want := range []string{
		"product-feed.xml",
		"product-feed-en-us.xml",
		"product-feed-eur.xml",
		"product-feed-eur-en-us.xml",
	} {
		if !filenames[want] {
			t.Errorf("スロット %q が含まれるべき: %v", want, filenames)
		}
	}
}

// --- Generate のテスト ---

func TestGenerate_HappyPath(t *testing.T) {
	store := newFakeStore()
	products := &fakeProductRepo{products: []*model.Product{eligibleProduct(1), eligibleProduct(2)}}
	g, settings := newTestGenerator(testConfig(), products, store)

	report, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if report.RunID == "" {
		t.Error("run_idが設定されるべき")
	}
	if report.ProductCount != 2 {
		t.Errorf("product_count = %d, want 2", report.ProductCount)
	}
	if report.SlotCount != 1 {
		t.Errorf("slot_count = %d, want 1", report.SlotCount)
	}

	data, ok := store.files["product-feed.xml"]
	if !ok {
		t.Fatal("product-feed.xmlが保存されるべき")
	}
	if !bytes.Contains(data, []byte("<g:price>100.00 NOK</g:price>")) {
		t.Errorf("保存されたフィードに価格が含まれるべき:\n%s", data)
	}

	// 配信URLにはフィードキーが埋め込まれる
	key := settings.values[repository.SettingFeedKey]
	if key == "" {
		t.Fatal("フィードキーが発行されるべき")
	}
	wantURL := "https://shop.example.com/feed/" + key + "/product-feed.xml"
	if report.Slots[0].URL != wantURL {
		t.Errorf("slot URL = %q, want %q", report.Slots[0].URL, wantURL)
	}

	// ステータスAPI用の商品数が保存される
	if settings.values[repository.SettingLastProductCount] != "2" {
		t.Errorf("last_product_count = %q, want %q", settings.values[repository.SettingLastProductCount], "2")
	}
}

func TestGenerate_MultiCurrencyWritesAllSlots(t *testing.T) {
	cfg := testConfig()
	cfg.CurrencyConversion = true
	cfg.TargetCurrencies = []string{"EUR"}
	store := newFakeStore()
	products := &fakeProductRepo{products: []*model.Product{eligibleProduct(1)}}
	g, _ := newTestGenerator(cfg, products, store)

	report, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if report.SlotCount != 2 {
		t.Fatalf("slot_count = %d, want 2", report.SlotCount)
	}
	if _, ok := store.files["product-feed.xml"]; !ok {
		t.Error("デフォルトスロットが保存されるべき")
	}
	eurData, ok := store.files["product-feed-eur.xml"]
	if !ok {
		t.Fatal("EURスロットが保存されるべき")
	}
	// 100.00 NOK × 0.086 = 8.60 EUR
	if !bytes.Contains(eurData, []byte("<g:price>8.60 EUR</g:price>")) {
		t.Errorf("EURスロットは変換後の価格を含むべき:\n%s", eurData)
	}
}

func TestGenerate_NoProductsReturnsError(t *testing.T) {
	g, _ := newTestGenerator(testConfig(), &fakeProductRepo{}, newFakeStore())

	_, err := g.Generate(context.Background())
	if !errors.Is(err, model.ErrNoEligibleProducts) {
		t.Errorf("error = %v, want ErrNoEligibleProducts", err)
	}
}

func TestGenerate_InvalidFilterFailsBeforeGeneration(t *testing.T) {
	cfg := testConfig()
	cfg.Filter.ProductStatuses = nil
	store := newFakeStore()
	products := &fakeProductRepo{products: []*model.Product{eligibleProduct(1)}}
	g, _ := newTestGenerator(cfg, products, store)

	_, err := g.Generate(context.Background())
	if err == nil {
		t.Fatal("フィルタ違反はエラーになるべき")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidFilter {
		t.Errorf("error = %v, want INVALID_FILTER", err)
	}
	if len(store.files) != 0 {
		t.Error("フィルタ違反時は何も保存されないべき")
	}
}

func TestGenerate_StoreErrorKeepsNothingPartial(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("storage unavailable")
	products := &fakeProductRepo{products: []*model.Product{eligibleProduct(1)}}
	g, _ := newTestGenerator(testConfig(), products, store)

	if _, err := g.Generate(context.Background()); err == nil {
		t.Fatal("ストレージ障害はエラーになるべき")
	}
	if len(store.files) != 0 {
		t.Error("保存失敗時にファイルが残らないべき")
	}
}

// --- GenerateTest のテスト ---

func TestGenerateTest_WritesOnlyTestSlot(t *testing.T) {
	store := newFakeStore()
	products := &fakeProductRepo{products: []*model.Product{eligibleProduct(1)}}
	g, _ := newTestGenerator(testConfig(), products, store)

	report, err := g.GenerateTest(context.Background())
	if err != nil {
		t.Fatalf("GenerateTest: %v", err)
	}

	if _, ok := store.files[publisher.TestFeedFilename]; !ok {
		t.Error("test-feed.xmlが保存されるべき")
	}
	if _, ok := store.files["product-feed.xml"]; ok {
		t.Error("テスト生成は本番スロットに触れないべき")
	}
	if report.Preview == "" {
		t.Error("プレビューが含まれるべき")
	}
	if !strings.HasPrefix(report.Preview, `<?xml version="1.0"`) {
		t.Errorf("プレビューはXML宣言で始まるべき: %q", report.Preview[:40])
	}
}

func TestGenerateTest_LimitsProductCount(t *testing.T) {
	var many []*model.Product
	for i := int64(1); i <= 25; i++ {
		many = append(many, eligibleProduct(i))
	}
	store := newFakeStore()
	g, _ := newTestGenerator(testConfig(), &fakeProductRepo{products: many}, store)

	report, err := g.GenerateTest(context.Background())
	if err != nil {
		t.Fatalf("GenerateTest: %v", err)
	}
	if report.ProductCount != 10 {
		t.Errorf("product_count = %d, want 10（テスト生成は10件まで）", report.ProductCount)
	}
}
