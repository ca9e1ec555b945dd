package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/merchantfeed/internal/security"
)

// maxRateResponseSize は為替レートAPIレスポンスの最大サイズ（1MB）。
const maxRateResponseSize = 1 << 20

// RateFetcher は外部APIからの為替レート取得インターフェース。
// 実装を差し替えることで別のレートプロバイダーに切り替えられる。
type RateFetcher interface {
	// FetchRates は基準通貨に対する全通貨のレート表を取得する。
	FetchRates(ctx context.Context, base string) (map[string]float64, error)
}

// ExchangeRateAPIFetcher はExchangeRate-API（v4無料枠）を使用したレート取得。
// エンドポイント: https://api.exchangerate-api.com/v4/latest/{base}
type ExchangeRateAPIFetcher struct {
	client  *http.Client
	baseURL string
}

// NewExchangeRateAPIFetcher はExchangeRateAPIFetcherを生成する。
// HTTPクライアントはSSRF防止ガード付きで生成される。
func NewExchangeRateAPIFetcher(guard security.SSRFGuardService, timeout time.Duration) *ExchangeRateAPIFetcher {
	return &ExchangeRateAPIFetcher{
		client:  guard.NewSafeClient(timeout),
		baseURL: "https://api.exchangerate-api.com/v4/latest",
	}
}

// rateResponse はExchangeRate-API v4のレスポンス形式。
type rateResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// FetchRates は基準通貨に対する全通貨のレート表を取得する。
func (f *ExchangeRateAPIFetcher) FetchRates(ctx context.Context, base string) (map[string]float64, error) {
	url := fmt.Sprintf("%s/%s", f.baseURL, base)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("レートAPIリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "merchantfeed/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("レートAPIへのリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("レートAPIがHTTP %dを返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRateResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レートAPIレスポンスの読み取りに失敗しました: %w", err)
	}

	var parsed rateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("レートAPIレスポンスの解析に失敗しました: %w", err)
	}
	if len(parsed.Rates) == 0 {
		return nil, fmt.Errorf("レートAPIレスポンスにレート表がありません")
	}

	return parsed.Rates, nil
}

// compile-time interface check
var _ RateFetcher = (*ExchangeRateAPIFetcher)(nil)
