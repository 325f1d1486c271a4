package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradingroad_backend/controllers"
	"tradingroad_backend/middleware"
	"tradingroad_backend/models"
	"tradingroad_backend/services/archive"
	"tradingroad_backend/services/marketdata"
	"tradingroad_backend/services/realtime"
)

// stubDriver returns ascending hourly candles ending at a fixed time
type stubDriver struct{}

func (stubDriver) FetchOHLCV(_ context.Context, _, timeframe string, limit int, _ *int64) ([]marketdata.OHLCV, error) {
	step := marketdata.TimeframeDuration(timeframe).Milliseconds()
	end := int64(1_700_000_000_000)
	rows := make([]marketdata.OHLCV, limit)
	for i := range rows {
		price := 100 + float64(i)
		rows[i] = marketdata.OHLCV{float64(end - int64(limit-1-i)*step), price, price + 2, price - 1, price + 1, 10}
	}
	return rows, nil
}

func (stubDriver) FetchMarkets(context.Context) ([]marketdata.Market, error) {
	return []marketdata.Market{
		{Symbol: "ETH/USDT", Base: "ETH", Quote: "USDT", Active: true},
		{Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", Active: true},
		{Symbol: "BTC/EUR", Base: "BTC", Quote: "EUR", Active: true},
	}, nil
}

type testApp struct {
	router *gin.Engine
	store  archive.Store
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "app.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hash, _ := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err := models.SeedAdminUser(db, "admin", string(hash)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store, err := archive.OpenSQLite(filepath.Join(t.TempDir(), "candles.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })

	factory := func(id string, creds marketdata.Credentials, hc *http.Client) (*marketdata.ExchangeClient, error) {
		if id == "binance" {
			return marketdata.NewClientWithDriver(id, stubDriver{}, map[string]bool{
				marketdata.FeatureFetchOHLCV:   true,
				marketdata.FeatureFetchMarkets: true,
			}), nil
		}
		return marketdata.NewExchangeClient(id, creds, hc)
	}
	registry := marketdata.NewRegistry(log, marketdata.WithClientFactory(factory))
	service := marketdata.NewService(registry, log, marketdata.WithArchive(store))

	hub := realtime.NewRegistry(log)
	broadcaster := realtime.NewBroadcaster(hub, service, realtime.BroadcasterConfig{Interval: time.Hour}, log)
	t.Cleanup(broadcaster.Stop)

	issuer := middleware.NewTokenIssuer("test-secret", time.Hour)
	limiter := middleware.NewRateLimiter(5, time.Minute, time.Minute)

	router := gin.New()
	SetupRoutes(router, Controllers{
		Market:          controllers.NewMarketController(service, store, log),
		Exchange:        controllers.NewExchangeController(service),
		Indicator:       controllers.NewIndicatorController(service, log),
		Realtime:        controllers.NewRealtimeController(context.Background(), hub, realtime.NewHandler(hub, 10, log), broadcaster, log),
		Auth:            controllers.NewAuthController(models.NewAdminUserRepository(db), issuer, limiter, log),
		ExchangeAccount: controllers.NewExchangeAccountController(models.NewExchangeAccountRepository(db), registry, log),
		Issuer:          issuer,
		LoginLimiter:    limiter,
	})
	return &testApp{router: router, store: store}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (a *testApp) login(t *testing.T) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/auth/token", "", map[string]string{"username": "admin", "password": "s3cret"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	return decode(t, w)["access_token"].(string)
}

func TestKlinesEndpoints(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/api/v1/klines?symbol=btc/usdt&interval=60&limit=5", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("klines status = %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["symbol"] != "BTC/USDT" || body["interval"] != "1h" || body["exchange"] != "binance" || body["source"] != "live" {
		t.Errorf("klines header = %v", body)
	}
	if data := body["data"].([]any); len(data) != 5 {
		t.Errorf("klines rows = %d, want 5", len(data))
	}

	for _, path := range []string{
		"/api/v1/klines",
		"/api/v1/klines?symbol=BTC/USDT&limit=0",
		"/api/v1/klines?symbol=BTC/USDT&limit=5000",
	} {
		if w := app.do(t, http.MethodGet, path, "", nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", path, w.Code)
		}
	}

	// unsupported exchanges still answer with synthetic candles
	w = app.do(t, http.MethodGet, "/api/v1/klines?symbol=ETH/USDT&exchange=kraken&limit=3", "", nil)
	if body := decode(t, w); body["source"] != "synthetic" || body["exchange"] != "kraken" {
		t.Errorf("kraken klines = %v", body)
	}

	w = app.do(t, http.MethodGet, "/api/v1/klines/export?symbol=BTC/USDT&limit=3", "", nil)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if w.Code != http.StatusOK || len(lines) != 4 || lines[0] != "timestamp,open,high,low,close,volume" {
		t.Errorf("csv export = %d %q", w.Code, w.Body.String())
	}
	if w := app.do(t, http.MethodGet, "/api/v1/klines/export?symbol=BTC/USDT&format=xml", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("xml export status = %d", w.Code)
	}

	w = app.do(t, http.MethodGet, "/api/v1/klines/archive?symbol=BTC/USDT&interval=1h&limit=10", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("archive status = %d: %s", w.Code, w.Body.String())
	}
	if n := decode(t, w)["count"].(float64); n != 5 {
		t.Errorf("archived candles = %v, want 5", n)
	}
	if w := app.do(t, http.MethodGet, "/api/v1/klines/archive?symbol=DOGE/USDT", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("empty archive status = %d", w.Code)
	}
}

func TestExchangeEndpoints(t *testing.T) {
	app := newTestApp(t)

	body := decode(t, app.do(t, http.MethodGet, "/api/v1/exchanges", "", nil))
	list := body["exchanges"].([]any)
	if len(list) == 0 || list[0] != "binance" {
		t.Errorf("exchanges = %v", list)
	}

	body = decode(t, app.do(t, http.MethodGet, "/api/v1/exchanges/binance/pairs", "", nil))
	pairs := body["pairs"].([]any)
	if len(pairs) != 2 || pairs[0] != "BTC/USDT" {
		t.Errorf("pairs = %v", pairs)
	}
	if _, ok := body["categorized"].(map[string]any)["ETH"]; !ok {
		t.Errorf("categorized = %v", body["categorized"])
	}

	body = decode(t, app.do(t, http.MethodGet, "/api/v1/exchanges/KRAKEN/info", "", nil))
	features := body["supported_features"].(map[string]any)
	if body["id"] != "kraken" || features["fetchOHLCV"] != false {
		t.Errorf("kraken info = %v", body)
	}
	if w := app.do(t, http.MethodGet, "/api/v1/exchanges/nope/info", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown info status = %d", w.Code)
	}
}

func TestIndicatorEndpoints(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/indicators/all?symbol=BTC/USDT", http.StatusOK},
		{"/api/v1/indicators/all?symbol=BTC/USDT&limit=30", http.StatusNotFound},
		{"/api/v1/indicators/sma?symbol=BTC/USDT&periods=20,50", http.StatusOK},
		{"/api/v1/indicators/sma?symbol=BTC/USDT&periods=abc", http.StatusBadRequest},
		{"/api/v1/indicators/rsi?symbol=BTC/USDT&period=14", http.StatusOK},
		{"/api/v1/indicators/macd?symbol=BTC/USDT", http.StatusOK},
		{"/api/v1/indicators/macd?symbol=BTC/USDT&fast=30&slow=10", http.StatusBadRequest},
		{"/api/v1/indicators/bollinger?symbol=BTC/USDT&std_dev=2.5", http.StatusOK},
		{"/api/v1/indicators/bollinger?symbol=BTC/USDT&std_dev=9", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := app.do(t, http.MethodGet, tt.path, "", nil); w.Code != tt.want {
			t.Errorf("%s status = %d, want %d: %s", tt.path, w.Code, tt.want, w.Body.String())
		}
	}

	body := decode(t, app.do(t, http.MethodGet, "/api/v1/indicators/all?symbol=BTC/USDT", "", nil))
	ma := body["moving_averages"].(map[string]any)
	if ma["trend"] != "bullish" {
		t.Errorf("rising series trend = %v", ma["trend"])
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	app := newTestApp(t)

	if w := app.do(t, http.MethodGet, "/api/v1/realtime/broadcaster/status", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", w.Code)
	}
	w := app.do(t, http.MethodPost, "/api/v1/auth/token", "", map[string]string{"username": "admin", "password": "nope"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d", w.Code)
	}

	token := app.login(t)

	w = app.do(t, http.MethodPost, "/api/v1/realtime/broadcaster/start", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", w.Code, w.Body.String())
	}
	if w := app.do(t, http.MethodPost, "/api/v1/realtime/broadcaster/start", token, nil); w.Code != http.StatusConflict {
		t.Errorf("second start status = %d", w.Code)
	}
	body := decode(t, app.do(t, http.MethodPost, "/api/v1/realtime/broadcaster/stop", token, nil))
	if body["status"].(map[string]any)["running"] != false {
		t.Errorf("stop = %v", body)
	}
}

func TestExchangeAccountEndpoints(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t)

	w := app.do(t, http.MethodPost, "/api/v1/exchange-accounts", token, map[string]any{
		"exchange_id": "Bybit", "api_key": "abcd1234efgh5678", "api_secret": "secret",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", w.Code, w.Body.String())
	}
	if w := app.do(t, http.MethodPost, "/api/v1/exchange-accounts", token, map[string]any{
		"exchange_id": "nowhere", "api_key": "k",
	}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown exchange status = %d", w.Code)
	}

	body := decode(t, app.do(t, http.MethodGet, "/api/v1/exchange-accounts", token, nil))
	data := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("accounts = %v", data)
	}
	account := data[0].(map[string]any)
	if account["exchange_id"] != "bybit" || account["api_key"] != "abcd****5678" || account["has_secret"] != true {
		t.Errorf("account = %v", account)
	}

	if w := app.do(t, http.MethodDelete, "/api/v1/exchange-accounts/bybit", token, nil); w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := app.do(t, http.MethodDelete, "/api/v1/exchange-accounts/bybit", token, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", w.Code)
	}
}

func TestWebSocketStats(t *testing.T) {
	app := newTestApp(t)
	body := decode(t, app.do(t, http.MethodGet, "/ws/stats", "", nil))
	if body["total_connections"] != float64(0) || body["active_symbols"] != float64(0) {
		t.Errorf("stats = %v", body)
	}
}
