package validator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/merchantfeed/internal/security"
)

// URLCheckResult は公開フィードURLの到達確認結果。
type URLCheckResult struct {
	Accessible  bool   `json:"accessible"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Message     string `json:"message,omitempty"`
}

// URLChecker は公開フィードURLの到達確認を行う。
// 外部のMerchant Centerから見たときにフィードが取得できるかの簡易確認で、
// 内容の検証はValidator.Validateが担当する。
type URLChecker struct {
	guard  security.SSRFGuardService
	client *http.Client
}

// NewURLChecker はURLCheckerを生成する。
func NewURLChecker(guard security.SSRFGuardService, timeout time.Duration) *URLChecker {
	return &URLChecker{
		guard:  guard,
		client: guard.NewSafeClient(timeout),
	}
}

// Check は指定URLへGETリクエストを送り、到達可否とContent-Typeを報告する。
func (c *URLChecker) Check(ctx context.Context, feedURL string) (*URLCheckResult, error) {
	if err := c.guard.ValidateURL(feedURL); err != nil {
		return &URLCheckResult{
			Accessible: false,
			Message:    fmt.Sprintf("URLが許可されていません: %v", err),
		}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &URLCheckResult{
			Accessible: false,
			Message:    fmt.Sprintf("フィードURLに到達できません: %v", err),
		}, nil
	}
	defer resp.Body.Close()

	result := &URLCheckResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Accessible:  resp.StatusCode == http.StatusOK,
	}
	if resp.StatusCode != http.StatusOK {
		result.Message = fmt.Sprintf("フィードURLがHTTP %dを返しました", resp.StatusCode)
	} else if !strings.Contains(result.ContentType, "xml") {
		result.Message = fmt.Sprintf("Content-TypeがXMLではありません: %s", result.ContentType)
	}

	return result, nil
}
