// Package validator は生成済みフィードのMerchant Center適合性検証を提供する。
//
// 検証は保存済み成果物の再解析のみを行う読み取り専用の処理で、
// フィードの変更や再生成は一切行わない。
package validator

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/merchantfeed/internal/feed"
	"github.com/hitoshi/merchantfeed/internal/model"
	"github.com/hitoshi/merchantfeed/internal/publisher"
)

const (
	// maxFeedSizeBytes はサイズ警告のしきい値（100MB）。
	maxFeedSizeBytes = 100 * 1024 * 1024
	// maxFeedAge は鮮度警告のしきい値。
	maxFeedAge = 24 * time.Hour
	// recommendedCoverageThreshold は推奨フィールドの充足率警告のしきい値（%）。
	recommendedCoverageThreshold = 50.0
)

// requiredFields は全アイテムに必須のg:フィールド。
var requiredFields = []string{
	"id", "title", "description", "link", "image_link",
	"availability", "price", "condition",
}

// recommendedFields は任意だが推奨されるg:フィールド。
var recommendedFields = []string{
	"brand", "product_type", "google_product_category", "gtin", "mpn",
}

var (
	// priceFormat は "29.99 NOK" 形式の価格表記。
	priceFormat = regexp.MustCompile(`^\d+(\.\d{1,2})?\s+[A-Z]{3}$`)
	// gtinFormat はGTINの有効桁数（8、12、13、14桁）。
	gtinFormat = regexp.MustCompile(`^(\d{8}|\d{12}|\d{13}|\d{14})$`)
)

// validAvailability はavailabilityの許容値。
var validAvailability = map[string]bool{
	"in stock": true, "out of stock": true, "preorder": true,
}

// validConditions はconditionの許容値。
var validConditions = map[string]bool{
	"new": true, "refurbished": true, "used": true,
}

// Report はフィード検証の結果。
type Report struct {
	Valid        bool      `json:"valid"`
	Errors       []string  `json:"errors"`
	Warnings     []string  `json:"warnings"`
	ErrorCount   int       `json:"error_count"`
	WarningCount int       `json:"warning_count"`
	ProductCount int       `json:"product_count"`
	CheckedAt    time.Time `json:"checked_at"`
}

func (r *Report) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Report) finalize() {
	r.ErrorCount = len(r.Errors)
	r.WarningCount = len(r.Warnings)
	r.Valid = r.ErrorCount == 0
}

// Validator は保存済みフィードの検証を行う。
type Validator struct {
	store publisher.Store
	now   func() time.Time
}

// NewValidator はValidatorを生成する。
func NewValidator(store publisher.Store) *Validator {
	return &Validator{store: store, now: time.Now}
}

// Validate は指定ファイル名の成果物を再解析して検証レポートを返す。
// フィード未生成の場合もエラー1件のレポートとして返す。
// errorを返すのはストレージ障害など検証を実行できなかった場合のみ。
func (v *Validator) Validate(ctx context.Context, filename string) (*Report, error) {
	report := &Report{CheckedAt: v.now()}
	defer report.finalize()

	info, err := v.store.Stat(ctx, filename)
	if err == model.ErrArtifactNotFound {
		report.addError("フィードファイルが存在しません: %s", filename)
		return report, nil
	}
	if err != nil {
		return nil, err
	}

	reader, err := v.store.Open(ctx, filename)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("フィードの読み取りに失敗しました: %w", err)
	}

	// (a) XMLとして解析できること
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		report.addError("フィードをXMLとして解析できません: %v", err)
		return report, nil
	}

	// (b) RSS 2.0 + Google商品データ名前空間
	if parsed.FeedType != "rss" || parsed.FeedVersion != "2.0" {
		report.addError("フィードはRSS 2.0である必要があります（検出: %s %s）", parsed.FeedType, parsed.FeedVersion)
	}
	if !hasGoogleNamespace(data) {
		report.addError("Google商品データ名前空間（xmlns:g）が宣言されていません")
	}

	// (c) チャンネルメタデータ
	v.checkChannel(parsed, report)

	// (d)(e) アイテムごとの必須フィールドと内容規則
	report.ProductCount = len(parsed.Items)
	if len(parsed.Items) == 0 {
		report.addError("フィードに商品が1件もありません")
	}
	for i, item := range parsed.Items {
		checkItem(i+1, item, report)
	}

	// (f) 推奨フィールドの充足率
	if len(parsed.Items) > 0 {
		checkRecommendedCoverage(parsed.Items, report)
	}

	// (g) サイズと鮮度
	if info.SizeBytes > maxFeedSizeBytes {
		report.addWarning("フィードファイルが大きすぎます（%dバイト）。配信性能に影響する可能性があります", info.SizeBytes)
	}
	if age := v.now().Sub(info.LastModified); age > maxFeedAge {
		report.addWarning("フィードファイルが%d時間更新されていません", int(age.Hours()))
	}

	return report, nil
}

// hasGoogleNamespace はルート要素にxmlns:g宣言があるかを調べる。
// gofeedは名前空間宣言を保持しないため、生のXMLトークンを走査する。
func hasGoogleNamespace(data []byte) bool {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		token, err := decoder.Token()
		if err != nil {
			return false
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		for _, attr := range start.Attr {
			if attr.Name.Space == "xmlns" && attr.Name.Local == "g" && attr.Value == feed.GoogleNamespace {
				return true
			}
		}
		// 名前空間宣言はルート要素にしか現れない
		return false
	}
}

// checkChannel はチャンネルメタデータを検証する。
func (v *Validator) checkChannel(parsed *gofeed.Feed, report *Report) {
	if parsed.Title == "" {
		report.addError("チャンネルのtitleが空です")
	}
	if parsed.Link == "" {
		report.addError("チャンネルのlinkが空です")
	} else if !isValidURL(parsed.Link) {
		report.addError("チャンネルのlinkが有効なURLではありません: %s", parsed.Link)
	}
	if parsed.Description == "" {
		report.addError("チャンネルのdescriptionが空です")
	}
	if parsed.Language == "" {
		report.addWarning("推奨チャンネル要素がありません: language")
	}
	if parsed.Updated == "" {
		report.addWarning("推奨チャンネル要素がありません: lastBuildDate")
	}
}

// checkItem は1アイテムの必須フィールドと内容規則を検証する。
// numは1始まりのアイテム番号（レポートの文言用）。
func checkItem(num int, item *gofeed.Item, report *Report) {
	for _, field := range requiredFields {
		if _, ok := fieldValue(item, field); !ok {
			report.addError("商品%d: 必須フィールドがありません: g:%s", num, field)
		}
	}

	if id, ok := fieldValue(item, "id"); ok {
		if id == "" {
			report.addError("商品%d: idが空です", num)
		} else if len([]rune(id)) > 50 {
			report.addWarning("商品%d: idが推奨上限（50文字）を超えています", num)
		}
	}

	if title, ok := fieldValue(item, "title"); ok {
		if title == "" {
			report.addError("商品%d: titleが空です", num)
		} else if len([]rune(title)) > 150 {
			report.addWarning("商品%d: titleが推奨上限（150文字）を超えています", num)
		}
	}

	if desc, ok := fieldValue(item, "description"); ok {
		length := len([]rune(desc))
		switch {
		case desc == "":
			report.addError("商品%d: descriptionが空です", num)
		case length > 5000:
			report.addError("商品%d: descriptionが長すぎます（上限5000文字）", num)
		case length < 10:
			report.addWarning("商品%d: descriptionが極端に短いです", num)
		}
	}

	if link, ok := fieldValue(item, "link"); ok && !isValidURL(link) {
		report.addError("商品%d: linkが有効なURLではありません: %s", num, link)
	}
	if imageLink, ok := fieldValue(item, "image_link"); ok && !isValidURL(imageLink) {
		report.addError("商品%d: image_linkが有効なURLではありません: %s", num, imageLink)
	}

	if availability, ok := fieldValue(item, "availability"); ok && !validAvailability[availability] {
		report.addError("商品%d: 無効なavailabilityです: %s", num, availability)
	}

	if price, ok := fieldValue(item, "price"); ok && !priceFormat.MatchString(price) {
		report.addError("商品%d: 無効な価格形式です: %s", num, price)
	}

	if condition, ok := fieldValue(item, "condition"); ok && !validConditions[condition] {
		report.addError("商品%d: 無効なconditionです: %s", num, condition)
	}

	if gtin, ok := fieldValue(item, "gtin"); ok && !gtinFormat.MatchString(gtin) {
		report.addWarning("商品%d: 無効なGTIN形式です: %s", num, gtin)
	}
}

// checkRecommendedCoverage は推奨フィールドの全商品に対する充足率を検証する。
func checkRecommendedCoverage(items []*gofeed.Item, report *Report) {
	total := len(items)
	for _, field := range recommendedFields {
		count := 0
		for _, item := range items {
			if _, ok := fieldValue(item, field); ok {
				count++
			}
		}
		percentage := float64(count) / float64(total) * 100
		if percentage < recommendedCoverageThreshold {
			report.addWarning("推奨フィールドg:%sが商品の%.0f%%にありません", field, 100-percentage)
		}
	}
}

// fieldValue はアイテムからg:名前空間のフィールド値を取り出す。
func fieldValue(item *gofeed.Item, name string) (string, bool) {
	ext, ok := item.Extensions["g"]
	if !ok {
		return "", false
	}
	values, ok := ext[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0].Value, true
}

// isValidURL はhttp/httpsの絶対URLかを検証する。
func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
