package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Frequency はフィード自動生成の更新頻度を表す。
type Frequency string

const (
	// FrequencyManual は自動生成を行わないことを示す。
	FrequencyManual Frequency = "manual"
	// FrequencyEvery15Minutes は15分間隔の自動生成を示す。
	FrequencyEvery15Minutes Frequency = "every_15_minutes"
	// FrequencyEvery30Minutes は30分間隔の自動生成を示す。
	FrequencyEvery30Minutes Frequency = "every_30_minutes"
	// FrequencyHourly は1時間間隔の自動生成を示す。
	FrequencyHourly Frequency = "hourly"
	// FrequencyEvery2Hours は2時間間隔の自動生成を示す。
	FrequencyEvery2Hours Frequency = "every_2_hours"
	// FrequencyEvery6Hours は6時間間隔の自動生成を示す。
	FrequencyEvery6Hours Frequency = "every_6_hours"
	// FrequencyEvery12Hours は12時間間隔の自動生成を示す。
	FrequencyEvery12Hours Frequency = "every_12_hours"
	// FrequencyDaily は日次の自動生成を示す。
	FrequencyDaily Frequency = "daily"
	// FrequencyWeekly は週次の自動生成を示す。
	FrequencyWeekly Frequency = "weekly"
)

// frequencyIntervals は更新頻度と実時間間隔の対応表。
var frequencyIntervals = map[Frequency]time.Duration{
	FrequencyEvery15Minutes: 15 * time.Minute,
	FrequencyEvery30Minutes: 30 * time.Minute,
	FrequencyHourly:         time.Hour,
	FrequencyEvery2Hours:    2 * time.Hour,
	FrequencyEvery6Hours:    6 * time.Hour,
	FrequencyEvery12Hours:   12 * time.Hour,
	FrequencyDaily:          24 * time.Hour,
	FrequencyWeekly:         7 * 24 * time.Hour,
}

// Interval は更新頻度に対応する実時間間隔を返す。
// manualまたは未知の頻度の場合は0とfalseを返す。
func (f Frequency) Interval() (time.Duration, bool) {
	d, ok := frequencyIntervals[f]
	return d, ok
}

// Valid は更新頻度が定義済みの値かを返す。
func (f Frequency) Valid() bool {
	if f == FrequencyManual {
		return true
	}
	_, ok := frequencyIntervals[f]
	return ok
}

// supportedCurrencies はフィードで扱える通貨コードの一覧。
var supportedCurrencies = map[string]bool{
	"NOK": true, "EUR": true, "USD": true, "SEK": true, "DKK": true,
	"GBP": true, "CHF": true, "JPY": true, "CAD": true, "AUD": true,
}

// SupportedCurrency は通貨コードがサポート対象かを返す。
func SupportedCurrency(code string) bool {
	return supportedCurrencies[code]
}

// FilterConfig はフィードに含める商品の絞り込み条件を保持する。
// 生成実行前にselector.ValidateFilterで検証される。
type FilterConfig struct {
	ProductStatuses   []string // publish / private / draft
	StockStatuses     []string // instock / outofstock / onbackorder
	IncludeCategories []int64  // 空の場合は全カテゴリが対象
	ExcludeCategories []int64  // IncludeCategoriesと交差してはならない
}

// MinioConfig はフィード成果物ストレージ（MinIO）の接続設定を保持する。
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// RedisConfig は為替レートキャッシュ（Redis）の接続設定を保持する。
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SMTPConfig は通知メールの送信設定を保持する。
type SMTPConfig struct {
	Addr string // host:port
	From string
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Storage
	Minio MinioConfig

	// Rate cache
	Redis RedisConfig

	// Feed
	FeedTitle       string
	FeedDescription string
	FeedLanguage    string
	StoreCurrency   string

	// Currency conversion
	CurrencyConversion bool
	TargetCurrencies   []string
	TargetLanguages    []string
	RateFetchTimeout   time.Duration
	RateCacheTTL       time.Duration
	FallbackRates      map[string]float64

	// Filter
	Filter FilterConfig

	// Schedule
	UpdateFrequency Frequency
	MaintenanceFile string
	DisableSchedule bool

	// Notification
	NotifyEnabled bool
	NotifyEmail   string
	SMTP          SMTPConfig

	// Rate Limit
	RateLimitAdmin int

	// Server
	ServerPort string
	BaseURL    string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.Minio.Endpoint = os.Getenv("MINIO_ENDPOINT")
	if cfg.Minio.Endpoint == "" {
		missing = append(missing, "MINIO_ENDPOINT")
	}

	cfg.Minio.AccessKey = os.Getenv("MINIO_ACCESS_KEY")
	if cfg.Minio.AccessKey == "" {
		missing = append(missing, "MINIO_ACCESS_KEY")
	}

	cfg.Minio.SecretKey = os.Getenv("MINIO_SECRET_KEY")
	if cfg.Minio.SecretKey == "" {
		missing = append(missing, "MINIO_SECRET_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	// Optional fields with defaults
	cfg.Minio.Bucket = getEnvString("FEED_BUCKET", "feeds")
	cfg.Minio.UseSSL = getEnvBool("MINIO_USE_SSL", false)

	cfg.Redis.Addr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.FeedTitle = getEnvString("FEED_TITLE", "Product Feed")
	cfg.FeedDescription = getEnvString("FEED_DESCRIPTION", "Product feed for Google Merchant Center")
	cfg.FeedLanguage = getEnvString("FEED_LANGUAGE", "nb-NO")
	cfg.StoreCurrency = getEnvString("STORE_CURRENCY", "NOK")

	cfg.CurrencyConversion = getEnvBool("CURRENCY_CONVERSION", false)
	cfg.TargetCurrencies = getEnvList("TARGET_CURRENCIES", []string{"EUR", "USD"})
	cfg.TargetLanguages = getEnvList("TARGET_LANGUAGES", nil)
	cfg.RateFetchTimeout = getEnvDuration("RATE_FETCH_TIMEOUT", 10*time.Second)
	cfg.RateCacheTTL = getEnvDuration("RATE_CACHE_TTL", 24*time.Hour)

	fallback, err := parseFallbackRates(os.Getenv("FALLBACK_RATES"))
	if err != nil {
		return nil, fmt.Errorf("invalid FALLBACK_RATES: %w", err)
	}
	cfg.FallbackRates = fallback

	cfg.Filter.ProductStatuses = getEnvList("PRODUCT_STATUSES", []string{"publish"})
	cfg.Filter.StockStatuses = getEnvList("STOCK_STATUSES", []string{"instock"})
	cfg.Filter.IncludeCategories, err = getEnvInt64List("INCLUDE_CATEGORIES")
	if err != nil {
		return nil, fmt.Errorf("invalid INCLUDE_CATEGORIES: %w", err)
	}
	cfg.Filter.ExcludeCategories, err = getEnvInt64List("EXCLUDE_CATEGORIES")
	if err != nil {
		return nil, fmt.Errorf("invalid EXCLUDE_CATEGORIES: %w", err)
	}

	cfg.UpdateFrequency = Frequency(getEnvString("UPDATE_FREQUENCY", string(FrequencyDaily)))
	if !cfg.UpdateFrequency.Valid() {
		return nil, fmt.Errorf("invalid UPDATE_FREQUENCY: %s", cfg.UpdateFrequency)
	}
	cfg.MaintenanceFile = getEnvString("MAINTENANCE_FILE", ".maintenance")
	cfg.DisableSchedule = getEnvBool("DISABLE_SCHEDULE", false)

	cfg.NotifyEnabled = getEnvBool("NOTIFY_ENABLED", true)
	cfg.NotifyEmail = os.Getenv("NOTIFY_EMAIL")
	cfg.SMTP.Addr = getEnvString("SMTP_ADDR", "localhost:25")
	cfg.SMTP.From = getEnvString("SMTP_FROM", "feed@localhost")

	cfg.RateLimitAdmin = getEnvInt("RATE_LIMIT_ADMIN", 60)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	// 通貨はサポート一覧に含まれている必要がある
	if !SupportedCurrency(cfg.StoreCurrency) {
		return nil, fmt.Errorf("unsupported store currency: %s", cfg.StoreCurrency)
	}
	for _, cur := range cfg.TargetCurrencies {
		if !SupportedCurrency(cur) {
			return nil, fmt.Errorf("unsupported target currency: %s", cur)
		}
	}

	return cfg, nil
}

// parseFallbackRates は "NOK_EUR=0.086,USD_EUR=0.92" 形式の静的レート表をパースする。
func parseFallbackRates(raw string) (map[string]float64, error) {
	rates := make(map[string]float64)
	if raw == "" {
		return rates, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("malformed entry: %s", pair)
		}
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed rate in entry %s: %w", pair, err)
		}
		if rate <= 0 {
			return nil, fmt.Errorf("rate must be positive in entry: %s", pair)
		}
		rates[strings.TrimSpace(key)] = rate
	}

	return rates, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を文字列スライスとして読み込む。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var list []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			list = append(list, item)
		}
	}
	if len(list) == 0 {
		return defaultVal
	}
	return list
}

// getEnvInt64List はカンマ区切りの環境変数をint64スライスとして読み込む。
func getEnvInt64List(key string) ([]int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	var list []int64
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed id %q: %w", item, err)
		}
		list = append(list, id)
	}
	return list, nil
}
