// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// センチネルエラー。呼び出し側はerrors.Isで分岐する。
var (
	// ErrRateUnavailable は為替レートがキャッシュ・API・フォールバックの
	// いずれからも取得できなかったことを示す。
	ErrRateUnavailable = errors.New("exchange rate unavailable")
	// ErrNoEligibleProducts はフィルタ適用後に対象商品が1件も残らなかったことを示す。
	ErrNoEligibleProducts = errors.New("no eligible products")
	// ErrFeedKeyMismatch は配信URLのフィードキーが一致しなかったことを示す。
	ErrFeedKeyMismatch = errors.New("feed key mismatch")
	// ErrArtifactNotFound はフィード成果物がまだ生成されていないことを示す。
	ErrArtifactNotFound = errors.New("feed artifact not found")
	// ErrScheduleNotFound はスケジュール状態の行が存在しないことを示す。
	ErrScheduleNotFound = errors.New("schedule state not found")
)

// APIError は統一エラーフォーマットを表す。
// 管理APIのレスポンスに載せる原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, feed, currency, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidFilter       = "INVALID_FILTER"
	ErrCodeNoProducts          = "NO_PRODUCTS"
	ErrCodeGenerationFailed    = "GENERATION_FAILED"
	ErrCodeArtifactNotFound    = "ARTIFACT_NOT_FOUND"
	ErrCodeRateUnavailable     = "RATE_UNAVAILABLE"
	ErrCodeUnsupportedCurrency = "UNSUPPORTED_CURRENCY"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
)

// NewInvalidFilterError は商品フィルタ設定の検証エラーを生成する。
func NewInvalidFilterError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("商品フィルタの設定が不正です: %s", reason),
		Category: "validation",
		Action:   "フィルタ設定（商品ステータス、在庫状態、カテゴリID）を見直してください。",
	}
}

// NewNoProductsError は対象商品ゼロ件エラーを生成する。
func NewNoProductsError() *APIError {
	return &APIError{
		Code:     ErrCodeNoProducts,
		Message:  "フィルタ条件に一致する商品がありません。",
		Category: "feed",
		Action:   "フィルタ条件を緩めるか、商品が公開されているか確認してください。",
	}
}

// NewGenerationFailedError はフィード生成失敗エラーを生成する。
func NewGenerationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeGenerationFailed,
		Message:  fmt.Sprintf("フィードの生成に失敗しました: %s", reason),
		Category: "feed",
		Action:   "ログを確認し、しばらく待ってから再度実行してください。既存のフィードはそのまま配信されます。",
	}
}

// NewArtifactNotFoundError はフィード未生成エラーを生成する。
func NewArtifactNotFoundError(filename string) *APIError {
	return &APIError{
		Code:     ErrCodeArtifactNotFound,
		Message:  fmt.Sprintf("フィードファイルが見つかりません: %s", filename),
		Category: "feed",
		Action:   "先にフィードを生成してください。",
	}
}

// NewRateUnavailableError は為替レート取得不能エラーを生成する。
func NewRateUnavailableError(from, to string) *APIError {
	return &APIError{
		Code:     ErrCodeRateUnavailable,
		Message:  fmt.Sprintf("為替レートを取得できませんでした: %s→%s", from, to),
		Category: "currency",
		Action:   "レートAPIの疎通とフォールバックレート設定を確認してください。",
	}
}

// NewUnsupportedCurrencyError はサポート外通貨エラーを生成する。
func NewUnsupportedCurrencyError(code string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedCurrency,
		Message:  fmt.Sprintf("サポート外の通貨コードです: %s", code),
		Category: "validation",
		Action:   "サポート対象の通貨コード（NOK、EUR、USDなど）を指定してください。",
	}
}

// NewValidationFailedError はフィード検証の実行自体が失敗した場合のエラーを生成する。
func NewValidationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("フィードの検証を実行できませんでした: %s", reason),
		Category: "system",
		Action:   "ストレージへの接続を確認してください。",
	}
}
