// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/merchantfeed/internal/metrics"
	"github.com/hitoshi/merchantfeed/internal/model"
	"github.com/hitoshi/merchantfeed/internal/publisher"
)

// DeliveryHandler はフィード配信のHTTPハンドラー。
// 配信URLはフィードキーを含むケイパビリティURLで、キーを知っている
// 外部サービス（Merchant Center）だけがフィードを取得できる。
type DeliveryHandler struct {
	store     publisher.Store
	keys      *publisher.KeyManager
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewDeliveryHandler はDeliveryHandlerを生成する。
func NewDeliveryHandler(store publisher.Store, keys *publisher.KeyManager, collector metrics.MetricsCollector, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{
		store:     store,
		keys:      keys,
		collector: collector,
		logger:    logger,
	}
}

// ServeFeed はフィード成果物を配信する。
// GET /feed/{key}/{filename}
//
// キーの検証はファイルの存在確認より先に行う。誤ったキーには
// ファイルの有無にかかわらず403を返し、成果物名の探索を許さない。
func (h *DeliveryHandler) ServeFeed(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	filename := chi.URLParam(r, "filename")
	if filename == "" {
		// ファイル名省略時はデフォルトスロット
		filename = publisher.Slot{}.Filename()
	}

	ok, err := h.keys.Verify(r.Context(), key)
	if err != nil {
		h.logger.Error("feed_key_verification_failed", slog.String("error", err.Error()))
		h.writeStatus(w, http.StatusInternalServerError)
		return
	}
	if !ok {
		h.writeStatus(w, http.StatusForbidden)
		return
	}

	// オブジェクト名の探索を防ぐため、想定された形のファイル名だけを許可する
	if !validFeedFilename(filename) {
		h.writeStatus(w, http.StatusNotFound)
		return
	}

	reader, err := h.store.Open(r.Context(), filename)
	if err != nil {
		if errors.Is(err, model.ErrArtifactNotFound) {
			h.writeStatus(w, http.StatusNotFound)
			return
		}
		h.logger.Error("feed_open_failed",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		h.writeStatus(w, http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	h.collector.RecordDeliveryStatus(http.StatusOK)

	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Warn("feed_delivery_interrupted",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
	}
}

// writeStatus はボディなしのエラーステータスを書き込み、メトリクスに記録する。
func (h *DeliveryHandler) writeStatus(w http.ResponseWriter, statusCode int) {
	h.collector.RecordDeliveryStatus(statusCode)
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// validFeedFilename は配信可能なファイル名かを検証する。
// "product-feed*.xml" とテストスロットのみ許可する。
func validFeedFilename(filename string) bool {
	if filename == publisher.TestFeedFilename {
		return true
	}
	return strings.HasPrefix(filename, "product-feed") &&
		strings.HasSuffix(filename, ".xml") &&
		!strings.ContainsAny(filename, "/\\")
}
