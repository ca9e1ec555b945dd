package validator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/merchantfeed/internal/model"
	"github.com/hitoshi/merchantfeed/internal/publisher"
)

// fakeStore はインメモリのpublisher.Store実装。
type fakeStore struct {
	files   map[string][]byte
	modTime time.Time
	statErr error
}

func newFakeStore(modTime time.Time) *fakeStore {
	return &fakeStore{files: map[string][]byte{}, modTime: modTime}
}

func (s *fakeStore) Put(ctx context.Context, filename string, data []byte) error {
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
	if s.statErr != nil {
		return nil, s.statErr
	}
	data, ok := s.files[filename]
	if !ok {
		return nil, model.ErrArtifactNotFound
	}
	return &publisher.ArtifactInfo{
		Filename:     filename,
		SizeBytes:    int64(len(data)),
		LastModified: s.modTime,
	}, nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// validItemXML は全必須フィールドを満たすアイテムのXML断片を返す。
func validItemXML(id string) string {
	return `<item>
		<g:id>` + id + `</g:id>
		<g:title>Fjellstøvel Pro</g:title>
		<g:description>頑丈で防水性に優れた登山靴です。</g:description>
		<g:link>https://shop.example.com/p/101</g:link>
		<g:image_link>https://shop.example.com/img/101.jpg</g:image_link>
		<g:availability>in stock</g:availability>
		<g:price>100.00 NOK</g:price>
		<g:condition>new</g:condition>
		<g:brand>Fjellsport</g:brand>
		<g:gtin>7031234567890</g:gtin>
		<g:mpn>FS-101</g:mpn>
		<g:product_type>アウトドア &gt; 登山靴</g:product_type>
	</item>`
}

// feedXML は指定のアイテム群を含むフィードXMLを組み立てる。
func feedXML(items ...string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:g="http://base.google.com/ns/1.0">
  <channel>
    <title>Fjellsport</title>
    <link>https://shop.example.com</link>
    <description>登山用品のオンラインストア</description>
    <language>nb-NO</language>
    <lastBuildDate>Sun, 01 Jun 2025 12:00:00 +0000</lastBuildDate>
    ` + strings.Join(items, "\n") + `
  </channel>
</rss>
`)
}

// newTestValidator はフィードデータを保存済みのValidatorを生成する。
func newTestValidator(t *testing.T, data []byte) (*Validator, *fakeStore) {
	t.Helper()
	store := newFakeStore(testNow)
	if data != nil {
		store.files["product-feed.xml"] = data
	}
	v := NewValidator(store)
	v.now = func() time.Time { return testNow }
	return v, store
}

// --- Validate のテスト ---

// TestValidate_ValidFeed は適合するフィードでvalid=trueになることを検証する。
func TestValidate_ValidFeed(t *testing.T) {
	v, _ := newTestValidator(t, feedXML(validItemXML("SKU-101"), validItemXML("SKU-102")))

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if !report.Valid {
		t.Errorf("valid = false, errors: %v", report.Errors)
	}
	if report.ErrorCount != 0 {
		t.Errorf("error_count = %d, want 0", report.ErrorCount)
	}
	if report.ProductCount != 2 {
		t.Errorf("product_count = %d, want 2", report.ProductCount)
	}
}

// TestValidate_ArtifactNotFound はフィード未生成でエラー1件のレポートが返ることを検証する。
func TestValidate_ArtifactNotFound(t *testing.T) {
	v, _ := newTestValidator(t, nil)

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("未生成はレポートとして返すべきでエラーではない: %v", err)
	}

	if report.Valid {
		t.Error("valid = true, want false")
	}
	if report.ErrorCount != 1 {
		t.Fatalf("error_count = %d, want 1", report.ErrorCount)
	}
	if !strings.Contains(report.Errors[0], "フィードファイルが存在しません") {
		t.Errorf("error = %q", report.Errors[0])
	}
}

// TestValidate_StorageErrorIsReturned はストレージ障害でerrorが返ることを検証する。
func TestValidate_StorageErrorIsReturned(t *testing.T) {
	v, store := newTestValidator(t, feedXML(validItemXML("SKU-101")))
	store.statErr = errors.New("connection refused")

	if _, err := v.Validate(context.Background(), "product-feed.xml"); err == nil {
		t.Fatal("ストレージ障害はerrorとして返すべき")
	}
}

// TestValidate_UnparsableXML は解析不能なXMLがエラーとして報告されることを検証する。
func TestValidate_UnparsableXML(t *testing.T) {
	v, _ := newTestValidator(t, []byte("this is not xml at all"))

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Valid {
		t.Error("valid = true, want false")
	}
	if !containsError(report, "XMLとして解析できません") {
		t.Errorf("errors = %v", report.Errors)
	}
}

// TestValidate_MissingGoogleNamespace はxmlns:g宣言がない場合にエラーになることを検証する。
func TestValidate_MissingGoogleNamespace(t *testing.T) {
	data := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Fjellsport</title>
    <link>https://shop.example.com</link>
    <description>登山用品のオンラインストア</description>
    <item><title>item</title></item>
  </channel>
</rss>
`)
	v, _ := newTestValidator(t, data)

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !containsError(report, "xmlns:g") {
		t.Errorf("errors = %v", report.Errors)
	}
}

// TestValidate_MissingRequiredFields は必須フィールドの欠落がアイテム番号付きで報告されることを検証する。
func TestValidate_MissingRequiredFields(t *testing.T) {
	item := `<item>
		<g:id>SKU-101</g:id>
		<g:title>Fjellstøvel Pro</g:title>
	</item>`
	v, _ := newTestValidator(t, feedXML(item))

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	wantMissing := []string{"g:description", "g:link", "g:image_link", "g:availability", "g:price", "g:condition"}
	for _, field := range wantMissing {
		if !containsError(report, "商品1: 必須フィールドがありません: "+field) {
			t.Errorf("必須フィールド%sの欠落が報告されるべき: %v", field, report.Errors)
		}
	}
}

// TestValidate_InvalidPriceFormat は通貨コードなしの価格がエラーになることを検証する。
func TestValidate_InvalidPriceFormat(t *testing.T) {
	tests := []struct {
		name  string
		price string
		valid bool
	}{
		{"通貨コードとスペース区切りは有効", "29.99 NOK", true},
		{"整数価格も有効", "30 NOK", true},
		{"スペースなしは無効", "29.99NOK", false},
		{"通貨コードなしは無効", "29.99", false},
		{"小文字の通貨コードは無効", "29.99 nok", false},
		{"小数3桁は無効", "29.999 NOK", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := strings.Replace(validItemXML("SKU-101"), "<g:price>100.00 NOK</g:price>", "<g:price>"+tt.price+"</g:price>", 1)
			v, _ := newTestValidator(t, feedXML(item))

			report, err := v.Validate(context.Background(), "product-feed.xml")
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}

			hasError := containsError(report, "無効な価格形式です")
			if tt.valid && hasError {
				t.Errorf("価格%qは有効なはず: %v", tt.price, report.Errors)
			}
			if !tt.valid && !hasError {
				t.Errorf("価格%qはエラーになるべき", tt.price)
			}
		})
	}
}

// TestValidate_InvalidAvailability はavailabilityの許容外の値がエラーになることを検証する。
func TestValidate_InvalidAvailability(t *testing.T) {
	item := strings.Replace(validItemXML("SKU-101"),
		"<g:availability>in stock</g:availability>",
		"<g:availability>backorder</g:availability>", 1)
	v, _ := newTestValidator(t, feedXML(item))

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !containsError(report, "無効なavailabilityです: backorder") {
		t.Errorf("errors = %v", report.Errors)
	}
}

// TestValidate_InvalidCondition はconditionの許容外の値がエラーになることを検証する。
func TestValidate_InvalidCondition(t *testing.T) {
	item := strings.Replace(validItemXML("SKU-101"),
		"<g:condition>new</g:condition>",
		"<g:condition>mint</g:condition>", 1)
	v, _ := newTestValidator(t, feedXML(item))

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !containsError(report, "無効なconditionです: mint") {
		t.Errorf("errors = %v", report.Errors)
	}
}

// TestValidate_InvalidGTINIsWarning は不正なGTINがエラーではなく警告になることを検証する。
func TestValidate_InvalidGTINIsWarning(t *testing.T) {
	item := strings.Replace(validItemXML("SKU-101"),
		"<g:gtin>7031234567890</g:gtin>",
		"<g:gtin>12345</g:gtin>", 1)
	v, _ := newTestValidator(t, feedXML(item))

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if report.ErrorCount != 0 {
		t.Errorf("GTIN不正はエラーにならないべき: %v", report.Errors)
	}
	if !containsWarning(report, "無効なGTIN形式です: 12345") {
		t.Errorf("warnings = %v", report.Warnings)
	}
}

// TestValidate_RecommendedCoverageWarning は推奨フィールドの充足率が50%未満で警告になることを検証する。
func TestValidate_RecommendedCoverageWarning(t *testing.T) {
	// 3商品のうちbrandを持つのは1商品（33%）
	withBrand := validItemXML("SKU-101")
	noBrand1 := strings.Replace(validItemXML("SKU-102"), "<g:brand>Fjellsport</g:brand>", "", 1)
	noBrand2 := strings.Replace(validItemXML("SKU-103"), "<g:brand>Fjellsport</g:brand>", "", 1)
	v, _ := newTestValidator(t, feedXML(withBrand, noBrand1, noBrand2))

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !containsWarning(report, "推奨フィールドg:brand") {
		t.Errorf("warnings = %v", report.Warnings)
	}
}

// TestValidate_IDLengthCountsRunes はidの長さ判定が文字数基準であることを検証する。
// マルチバイト文字のidはバイト数では50を超えても、50文字以内なら警告しない。
func TestValidate_IDLengthCountsRunes(t *testing.T) {
	tests := []struct {
		name string
		id   string
		warn bool
	}{
		{"50文字ちょうどは警告なし", strings.Repeat("あ", 50), false},
		{"51文字は警告", strings.Repeat("あ", 51), true},
		{"ASCII 50文字は警告なし", strings.Repeat("a", 50), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestValidator(t, feedXML(validItemXML(tt.id)))

			report, err := v.Validate(context.Background(), "product-feed.xml")
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}

			hasWarning := containsWarning(report, "idが推奨上限")
			if hasWarning != tt.warn {
				t.Errorf("warn = %v, want %v: %v", hasWarning, tt.warn, report.Warnings)
			}
		})
	}
}

// TestValidate_RecommendedCoverageAboveThresholdNoWarning は
// 推奨フィールドの充足率が50%以上なら警告しないことを検証する。
func TestValidate_RecommendedCoverageAboveThresholdNoWarning(t *testing.T) {
	// 3商品のうちbrandを持つのは2商品（67%）
	withBrand1 := validItemXML("SKU-101")
	withBrand2 := validItemXML("SKU-102")
	noBrand := strings.Replace(validItemXML("SKU-103"), "<g:brand>Fjellsport</g:brand>", "", 1)
	v, _ := newTestValidator(t, feedXML(withBrand1, withBrand2, noBrand))

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if containsWarning(report, "推奨フィールドg:brand") {
		t.Errorf("充足率67%%では警告されないべき: %v", report.Warnings)
	}
}

// TestValidate_EmptyFeedIsError は商品0件のフィードがエラーになることを検証する。
func TestValidate_EmptyFeedIsError(t *testing.T) {
	v, _ := newTestValidator(t, feedXML())

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !containsError(report, "商品が1件もありません") {
		t.Errorf("errors = %v", report.Errors)
	}
}

// TestValidate_StaleFeedWarning は24時間以上古いフィードに鮮度警告が出ることを検証する。
func TestValidate_StaleFeedWarning(t *testing.T) {
	store := newFakeStore(testNow.Add(-48 * time.Hour))
	store.files["product-feed.xml"] = feedXML(validItemXML("SKU-101"))
	v := NewValidator(store)
	v.now = func() time.Time { return testNow }

	report, err := v.Validate(context.Background(), "product-feed.xml")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !containsWarning(report, "48時間更新されていません") {
		t.Errorf("warnings = %v", report.Warnings)
	}
}

// --- ヘルパー ---

func containsError(r *Report, substr string) bool {
	for _, e := range r.Errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func containsWarning(r *Report, substr string) bool {
	for _, w := range r.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
