package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/merchantfeed/internal/config"
	"github.com/hitoshi/merchantfeed/internal/feedgen"
	"github.com/hitoshi/merchantfeed/internal/middleware"
	"github.com/hitoshi/merchantfeed/internal/model"
	"github.com/hitoshi/merchantfeed/internal/notify"
	"github.com/hitoshi/merchantfeed/internal/publisher"
	"github.com/hitoshi/merchantfeed/internal/repository"
	"github.com/hitoshi/merchantfeed/internal/validator"
)

// GeneratorInterface は管理ハンドラーが必要とする生成サービスのインターフェース。
type GeneratorInterface interface {
	Generate(ctx context.Context) (*model.RunReport, error)
	GenerateTest(ctx context.Context) (*feedgen.TestReport, error)
}

// ValidatorInterface は管理ハンドラーが必要とする検証サービスのインターフェース。
type ValidatorInterface interface {
	Validate(ctx context.Context, filename string) (*validator.Report, error)
}

// URLCheckerInterface は公開フィードURLの到達確認サービスのインターフェース。
type URLCheckerInterface interface {
	Check(ctx context.Context, feedURL string) (*validator.URLCheckResult, error)
}

// AdminHandler はフィード管理APIのHTTPハンドラー。
// 管理APIは内部ネットワーク向けの面で、フィードキーは要求しない
// （配信URLのキーとは独立）。レート制限は全エンドポイントにかかる。
type AdminHandler struct {
	generator  GeneratorInterface
	validator  ValidatorInterface
	urlChecker URLCheckerInterface
	store      publisher.Store
	keys       *publisher.KeyManager
	schedule   repository.ScheduleRepository
	settings   repository.SettingsRepository
	notifier   notify.Notifier
	cfg        *config.Config
	logger     *slog.Logger
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(
	generator GeneratorInterface,
	v ValidatorInterface,
	urlChecker URLCheckerInterface,
	store publisher.Store,
	keys *publisher.KeyManager,
	schedule repository.ScheduleRepository,
	settings repository.SettingsRepository,
	notifier notify.Notifier,
	cfg *config.Config,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		generator:  generator,
		validator:  v,
		urlChecker: urlChecker,
		store:      store,
		keys:       keys,
		schedule:   schedule,
		settings:   settings,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// generateResponse は生成APIのレスポンス。
type generateResponse struct {
	RunID        string             `json:"run_id"`
	ProductCount int                `json:"product_count"`
	SlotCount    int                `json:"slot_count"`
	DurationMs   int64              `json:"duration_ms"`
	Slots        []slotResponse     `json:"slots"`
	GeneratedAt  time.Time          `json:"generated_at"`
	Message      string             `json:"message"`
}

// slotResponse は1スロットの生成結果。
type slotResponse struct {
	Filename  string `json:"filename"`
	Currency  string `json:"currency"`
	Language  string `json:"language,omitempty"`
	ItemCount int    `json:"item_count"`
	URL       string `json:"url"`
}

// Generate は手動のフィード生成を処理する。
// POST /api/feed/generate
func (h *AdminHandler) Generate(w http.ResponseWriter, r *http.Request) {
	report, err := h.generator.Generate(r.Context())
	if err != nil {
		h.handleGenerationError(w, err)
		return
	}

	// 手動生成の成功は通知対象（スケジュール生成の成功は通知しない）
	if err := h.notifier.NotifySuccess(r.Context(), report); err != nil {
		h.logger.Warn("success_notification_failed", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, toGenerateResponse(report, "フィードを生成しました。"))
}

// GenerateTest はテストフィードの生成を処理する。
// POST /api/feed/test
func (h *AdminHandler) GenerateTest(w http.ResponseWriter, r *http.Request) {
	report, err := h.generator.GenerateTest(r.Context())
	if err != nil {
		h.handleGenerationError(w, err)
		return
	}

	resp := struct {
		generateResponse
		Preview string `json:"preview"`
	}{
		generateResponse: toGenerateResponse(&report.RunReport, "テストフィードを生成しました。"),
		Preview:          report.Preview,
	}
	writeJSON(w, http.StatusOK, resp)
}

// Validate は保存済みフィードの検証を処理する。
// POST /api/feed/validate
// ボディで対象ファイル名を指定できる。省略時はデフォルトスロット。
func (h *AdminHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
	}
	// ボディなしも許容する
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Filename == "" {
		req.Filename = publisher.Slot{}.Filename()
	}

	report, err := h.validator.Validate(r.Context(), req.Filename)
	if err != nil {
		h.logger.Error("validation_failed", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewValidationFailedError(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// CheckURL は公開フィードURLの到達確認を処理する。
// POST /api/feed/check-url
// Merchant Center側から見たときにフィードURLが取得できるかの簡易確認。
func (h *AdminHandler) CheckURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key, err := h.keys.Ensure(ctx)
	if err != nil {
		h.logger.Error("url_check_key_failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	feedURL := publisher.FeedURL(h.cfg.BaseURL, key, publisher.Slot{}.Filename())
	result, err := h.urlChecker.Check(ctx, feedURL)
	if err != nil {
		h.logger.Error("url_check_failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		FeedURL string `json:"feed_url"`
		*validator.URLCheckResult
	}{
		FeedURL:        feedURL,
		URLCheckResult: result,
	})
}

// statusResponse はステータスAPIのレスポンス。
type statusResponse struct {
	Exists              bool       `json:"exists"`
	Filename            string     `json:"filename"`
	SizeBytes           int64      `json:"size_bytes,omitempty"`
	LastGenerated       *time.Time `json:"last_generated,omitempty"`
	ProductCount        int        `json:"product_count"`
	FeedURL             string     `json:"feed_url,omitempty"`
	Frequency           string     `json:"frequency"`
	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// Status はフィードの現在状態を返す。
// GET /api/feed/status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filename := publisher.Slot{}.Filename()

	resp := statusResponse{Filename: filename}

	info, err := h.store.Stat(ctx, filename)
	switch {
	case errors.Is(err, model.ErrArtifactNotFound):
		resp.Exists = false
	case err != nil:
		h.logger.Error("status_stat_failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	default:
		resp.Exists = true
		resp.SizeBytes = info.SizeBytes
		resp.LastGenerated = &info.LastModified
	}

	if countStr, err := h.settings.GetValue(ctx, repository.SettingLastProductCount); err == nil && countStr != "" {
		if count, err := strconv.Atoi(countStr); err == nil {
			resp.ProductCount = count
		}
	}

	if key, err := h.keys.Ensure(ctx); err == nil {
		resp.FeedURL = publisher.FeedURL(h.cfg.BaseURL, key, filename)
	}

	state, err := h.schedule.Get(ctx)
	if err != nil && !errors.Is(err, model.ErrScheduleNotFound) {
		h.logger.Error("status_schedule_failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if state != nil {
		resp.Frequency = state.Frequency
		resp.NextRunAt = &state.NextRunAt
		resp.LastSuccessAt = state.LastSuccessAt
		resp.LastFailureAt = state.LastFailureAt
		resp.ConsecutiveFailures = state.ConsecutiveFailures
	}

	writeJSON(w, http.StatusOK, resp)
}

// RotateKey はフィードキーをローテーションする。
// POST /api/feed/rotate-key
// 旧キーのURLは即座に無効になるため、Merchant Center側のURL更新が必要。
func (h *AdminHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Rotate(r.Context())
	if err != nil {
		h.logger.Error("key_rotation_failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.logger.Info("feed_key_rotated")
	writeJSON(w, http.StatusOK, map[string]string{
		"feed_url": publisher.FeedURL(h.cfg.BaseURL, key, publisher.Slot{}.Filename()),
		"message":  "フィードキーを更新しました。古いURLは使用できなくなります。",
	})
}

// handleGenerationError は生成エラーをHTTPレスポンスに変換する。
func (h *AdminHandler) handleGenerationError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusInternalServerError
		switch apiErr.Category {
		case "validation":
			status = http.StatusBadRequest
		case "feed":
			status = http.StatusUnprocessableEntity
		}
		writeAPIErrorResponse(w, status, apiErr)
		return
	}

	if errors.Is(err, model.ErrNoEligibleProducts) {
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity, model.NewNoProductsError())
		return
	}

	h.logger.Error("generation_failed", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewGenerationFailedError(err.Error()))
}

// toGenerateResponse はRunReportをAPIレスポンスに変換する。
func toGenerateResponse(report *model.RunReport, message string) generateResponse {
	slots := make([]slotResponse, 0, len(report.Slots))
	for _, s := range report.Slots {
		slots = append(slots, slotResponse{
			Filename:  s.Filename,
			Currency:  s.Currency,
			Language:  s.Language,
			ItemCount: s.ItemCount,
			URL:       s.URL,
		})
	}
	return generateResponse{
		RunID:        report.RunID,
		ProductCount: report.ProductCount,
		SlotCount:    report.SlotCount,
		DurationMs:   report.Duration.Milliseconds(),
		Slots:        slots,
		GeneratedAt:  report.GeneratedAt,
		Message:      message,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}
