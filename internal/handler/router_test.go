package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/merchantfeed/internal/config"
	"github.com/hitoshi/merchantfeed/internal/middleware"
	"github.com/hitoshi/merchantfeed/internal/notify"
	"github.com/hitoshi/merchantfeed/internal/publisher"
	"github.com/hitoshi/merchantfeed/internal/validator"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

// newTestRouter は全エンドポイントを登録したルーターを構築する。
func newTestRouter(t *testing.T, pinger *fakePinger) http.Handler {
	t.Helper()

	settings := newFakeSettingsRepo()
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(600))
	t.Cleanup(rl.Stop)

	deps := &RouterDeps{
		RateLimiter: rl,
		Logger:      testLogger(),

		Store:      newFakeStore(),
		KeyManager: publisher.NewKeyManager(settings),

		Generator:  &fakeGeneratorService{report: sampleRunReport()},
		Validator:  &fakeValidatorService{report: &validator.Report{Valid: true}},
		URLChecker: &fakeURLCheckerService{result: &validator.URLCheckResult{Accessible: true}},
		Schedule:   &fakeScheduleRepo{},
		Settings:   settings,
		Notifier:   notify.NopNotifier{},
		Config: &config.Config{
			BaseURL:       "https://shop.example.com",
			StoreCurrency: "NOK",
		},

		Collector: &fakeCollector{},
		Gatherer:  prometheus.NewRegistry(),
		DB:        pinger,
	}
	return NewRouter(deps)
}

// TestNewRouter_AdminEndpoints は管理APIの全エンドポイントが登録されていることを検証する。
func TestNewRouter_AdminEndpoints(t *testing.T) {
	router := newTestRouter(t, &fakePinger{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/feed/generate"},
		{http.MethodPost, "/api/feed/test"},
		{http.MethodPost, "/api/feed/validate"},
		{http.MethodPost, "/api/feed/check-url"},
		{http.MethodGet, "/api/feed/status"},
		{http.MethodPost, "/api/feed/rotate-key"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Result().StatusCode == http.StatusNotFound {
			t.Errorf("%s %s が登録されていない", tt.method, tt.path)
		}
		if w.Result().StatusCode == http.StatusMethodNotAllowed {
			t.Errorf("%s %s のメソッドが一致しない", tt.method, tt.path)
		}
	}
}

// TestNewRouter_HealthEndpoint は /health がDB疎通に応じた結果を返すことを検証する。
func TestNewRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestNewRouter_HealthEndpointUnhealthy(t *testing.T) {
	router := newTestRouter(t, &fakePinger{err: errors.New("データベースに接続できません")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusServiceUnavailable)
	}
}

// TestNewRouter_MetricsEndpoint は /metrics が登録されていることを検証する。
func TestNewRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// TestNewRouter_SecurityHeadersApplied は全ルートにセキュリティヘッダーが付与されることを検証する。
func TestNewRouter_SecurityHeadersApplied(t *testing.T) {
	router := newTestRouter(t, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Result().Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
}

// TestNewRouter_FeedDeliveryOutsideRateLimit はフィード配信がレート制限の外にあることを検証する。
// 配信URLはMerchant Centerの定期取得先であり、管理APIの制限と共有してはならない。
func TestNewRouter_FeedDeliveryOutsideRateLimit(t *testing.T) {
	settings := newFakeSettingsRepo()
	keys := publisher.NewKeyManager(settings)
	key, err := keys.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	store := newFakeStore()
	store.files["product-feed.xml"] = []byte(feedBody)

	// バースト1の厳しい制限でも配信は影響を受けない
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		AdminRate:       1,
		AdminBurst:      1,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	deps := &RouterDeps{
		RateLimiter: rl,
		Logger:      testLogger(),
		Store:       store,
		KeyManager:  keys,
		Generator:   &fakeGeneratorService{},
		Validator:   &fakeValidatorService{},
		URLChecker:  &fakeURLCheckerService{},
		Schedule:    &fakeScheduleRepo{},
		Settings:    settings,
		Notifier:    notify.NopNotifier{},
		Config:      &config.Config{BaseURL: "https://shop.example.com"},
		Collector:   &fakeCollector{},
		Gatherer:    prometheus.NewRegistry(),
		DB:          &fakePinger{},
	}
	router := NewRouter(deps)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/feed/"+key+"/product-feed.xml", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Result().StatusCode, http.StatusOK)
		}
	}
}
