package probe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klineKit/internal/echo"
	"klineKit/internal/ports"
)

func newRunner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerConfig{Timeout: 2 * time.Second, Logger: ports.NopLogger{}})
	require.NoError(t, err)
	return r
}

func TestExtract(t *testing.T) {
	var doc interface{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"data": {"status": "ok", "items": [{"price": 42.5}, {"price": 43}], "flag": true},
		"count": 2
	}`), &doc))

	tests := []struct {
		path    string
		want    string
		wantErr error
	}{
		{"data.status", "ok", nil},
		{"data.items.1.price", "43", nil},
		{"data.items.0", `{"price":42.5}`, nil},
		{"data.flag", "true", nil},
		{"count", "2", nil},
		{"data.missing", "", ports.ErrNotFound},
		{"data.items.5", "", ports.ErrNotFound},
		{"data.items.first", "", ports.ErrInvalidRequest},
		{"data.status.deeper", "", ports.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v, err := Extract(doc, tt.path)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, FormatValue(v))
		})
	}

	whole, err := Extract(doc, "")
	require.NoError(t, err)
	assert.Equal(t, doc, whole)
	assert.Equal(t, "null", FormatValue(nil))
}

func TestParseCatalog(t *testing.T) {
	t.Setenv("PROBE_HOST", "api.internal:8000")
	t.Setenv("PROBE_KEY", "secret")

	cat, err := ParseCatalog([]byte(`
timeout_seconds: 3
probes:
  - name: health
    url: http://${PROBE_HOST}/health
    headers: {X-Api-Key: "${PROBE_KEY}"}
    extract: status
  - name: predict
    kind: HTTP
    method: post
    url: http://${PROBE_HOST}/predict
    body: {symbol: BTCUSDT, horizon: 3}
  - name: btc-dominance
    kind: dominance
`))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cat.Timeout())
	require.Len(t, cat.Probes, 3)

	health := cat.Probes[0]
	assert.Equal(t, KindHTTP, health.Kind)
	assert.Equal(t, "GET", health.Method)
	assert.Equal(t, "http://api.internal:8000/health", health.URL)
	assert.Equal(t, "secret", health.Headers["X-Api-Key"])

	predict := cat.Probes[1]
	assert.Equal(t, KindHTTP, predict.Kind)
	assert.Equal(t, "POST", predict.Method)
	assert.Equal(t, map[string]interface{}{"symbol": "BTCUSDT", "horizon": 3}, predict.Body)

	assert.Equal(t, KindDominance, cat.Probes[2].Kind)
	assert.Empty(t, cat.Probes[2].URL)
}

func TestParseCatalog_Invalid(t *testing.T) {
	for name, doc := range map[string]string{
		"no name":      "probes:\n  - url: http://x\n",
		"duplicate":    "probes:\n  - {name: a, url: http://x}\n  - {name: a, url: http://y}\n",
		"unknown kind": "probes:\n  - {name: a, kind: grpc, url: http://x}\n",
		"no url":       "probes:\n  - {name: a}\n",
		"bad yaml":     "probes: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.True(t, errors.Is(err, ports.ErrConfigurationError), "got %v", err)
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("probes:\n  - {name: a, url: http://x}\n"), 0o600))
	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, cat.Timeout())

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, ports.ErrConfigurationError))
}

func TestRunner_HTTPProbes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			if r.Header.Get("X-Api-Key") != "k" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"data":{"status":"ok"}}`))
		case "/predict":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"method": r.Method,
				"echo":   body["symbol"],
				"scores": []float64{0.1, 0.9},
			})
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	probes := []Probe{
		{Name: "health", Kind: KindHTTP, Method: "GET", URL: srv.URL + "/health",
			Headers: map[string]string{"X-Api-Key": "k"}, Extract: "data.status", ExpectValue: "ok"},
		{Name: "no-key", Kind: KindHTTP, Method: "GET", URL: srv.URL + "/health"},
		{Name: "predict", Kind: KindHTTP, Method: "POST", URL: srv.URL + "/predict",
			Body: map[string]interface{}{"symbol": "BTCUSDT"}, Extract: "scores.1"},
		{Name: "wrong-value", Kind: KindHTTP, Method: "POST", URL: srv.URL + "/predict",
			Body: map[string]interface{}{"symbol": "ETHUSDT"}, Extract: "echo", ExpectValue: "BTCUSDT"},
		{Name: "down-expected", Kind: KindHTTP, Method: "GET", URL: srv.URL + "/down", ExpectStatus: 503},
		{Name: "missing-field", Kind: KindHTTP, Method: "GET", URL: srv.URL + "/predict", Extract: "nope"},
	}
	results := newRunner(t).Run(context.Background(), probes)
	require.Len(t, results, len(probes))

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Name] = r
	}

	assert.True(t, byName["health"].OK)
	assert.Equal(t, "ok", byName["health"].Value)
	assert.Equal(t, 200, byName["health"].Status)

	assert.False(t, byName["no-key"].OK)
	assert.Equal(t, 401, byName["no-key"].Status)
	assert.True(t, errors.Is(byName["no-key"].Err, ports.ErrProbeFailed))

	assert.True(t, byName["predict"].OK)
	assert.Equal(t, "0.9", byName["predict"].Value)

	assert.False(t, byName["wrong-value"].OK)
	assert.Equal(t, "ETHUSDT", byName["wrong-value"].Value)

	assert.True(t, byName["down-expected"].OK)

	assert.False(t, byName["missing-field"].OK)
	assert.True(t, errors.Is(byName["missing-field"].Err, ports.ErrNotFound))
}

func TestRunner_ConnectionFailureDoesNotStopOthers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	dead := srv.URL
	srv.Close()

	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer live.Close()

	results := newRunner(t).Run(context.Background(), []Probe{
		{Name: "dead", Kind: KindHTTP, Method: "GET", URL: dead},
		{Name: "live", Kind: KindHTTP, Method: "GET", URL: live.URL},
	})
	require.Len(t, results, 2)
	assert.False(t, results[0].OK)
	assert.True(t, results[1].OK)
}

func TestRunner_WebSocketProbe(t *testing.T) {
	server, err := echo.New(echo.Config{Logger: ports.NopLogger{}})
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	// Replies with a fixed message instead of echoing.
	upgrader := websocket.Upgrader{}
	liar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, _, _ = c.ReadMessage()
		_ = c.WriteMessage(websocket.TextMessage, []byte("something else"))
	}))
	defer liar.Close()

	wsURL := func(u string) string { return "ws" + strings.TrimPrefix(u, "http") }
	results := newRunner(t).Run(context.Background(), []Probe{
		{Name: "echo", Kind: KindWebSocket, URL: wsURL(ts.URL) + "/ws"},
		{Name: "liar", Kind: KindWebSocket, URL: wsURL(liar.URL)},
	})
	require.Len(t, results, 2)

	assert.True(t, results[0].OK, "err: %v", results[0].Err)
	assert.Equal(t, http.StatusSwitchingProtocols, results[0].Status)
	assert.True(t, strings.HasPrefix(results[0].Value, "probe-"))

	assert.False(t, results[1].OK)
	assert.Equal(t, "something else", results[1].Value)
}

func dominanceServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/global" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchDominance(t *testing.T) {
	srv := dominanceServer(t, http.StatusOK, `{"data":{
		"market_cap_percentage":{"btc":52.25,"eth":17.1,"usdt":4.2},
		"total_market_cap":{"usd":2500000000000,"eur":2300000000000},
		"updated_at":1700000000}}`)

	d, err := FetchDominance(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, 52.25, d.BTC)
	assert.Equal(t, 17.1, d.ETH)
	assert.Equal(t, 2.5e12, d.TotalMarketCapUSD)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), d.UpdatedAt)

	results := newRunner(t).Run(context.Background(), []Probe{{Name: "dom", Kind: KindDominance, URL: srv.URL}})
	require.True(t, results[0].OK)
	assert.Equal(t, "BTC 52.25% ETH 17.10%", results[0].Value)
}

func TestFetchDominance_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, ports.ErrRateLimited},
		{"server error", http.StatusBadGateway, `{}`, ports.ErrProviderUnavailable},
		{"bad json", http.StatusOK, `{"data":`, ports.ErrCorruptRecord},
		{"missing btc", http.StatusOK, `{"data":{"market_cap_percentage":{"eth":17}}}`, ports.ErrCorruptRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := dominanceServer(t, tt.status, tt.body)
			_, err := FetchDominance(context.Background(), srv.URL)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
