package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"klineKit/internal/domain"
	"klineKit/internal/ports"
)

// DefaultDominanceURL is the CoinGecko-compatible API root used when a
// dominance probe has no url.
const DefaultDominanceURL = "https://api.coingecko.com"

// Result is the outcome of one probe.
type Result struct {
	Name     string
	Kind     string
	OK       bool
	Status   int
	Value    string
	Duration time.Duration
	Err      error
}

// Runner executes probes one after another.
type Runner struct {
	http    *resty.Client
	dialer  *websocket.Dialer
	logger  ports.Logger
	timeout time.Duration
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Timeout time.Duration // per probe unless the probe overrides it
	Logger  ports.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for probe runner")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Runner{
		http:    resty.New().SetHeader("Accept", "application/json"),
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		logger:  cfg.Logger,
		timeout: timeout,
	}, nil
}

// Run executes every probe in order. A failing probe does not stop the rest.
func (r *Runner) Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, 0, len(probes))
	for _, p := range probes {
		res := r.runOne(ctx, p)
		fields := map[string]interface{}{
			"probe":    res.Name,
			"kind":     res.Kind,
			"status":   res.Status,
			"value":    res.Value,
			"duration": res.Duration.String(),
		}
		if res.OK {
			r.logger.Info(ctx, "Probe passed", fields)
		} else {
			r.logger.Warn(ctx, "Probe failed", fields, map[string]interface{}{"error": res.Err.Error()})
		}
		results = append(results, res)
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, p Probe) Result {
	res := Result{Name: p.Name, Kind: p.Kind}
	timeout := r.timeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var err error
	switch p.Kind {
	case KindWebSocket:
		err = r.probeWebSocket(pctx, p, &res)
	case KindDominance:
		err = r.probeDominance(pctx, p, &res)
	default:
		err = r.probeHTTP(pctx, p, &res)
	}
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ports.ErrProbeFailed, err)
	}
	res.OK = res.Err == nil
	return res
}

func (r *Runner) probeHTTP(ctx context.Context, p Probe, res *Result) error {
	req := r.http.R().SetContext(ctx).SetHeaders(p.Headers)
	if p.Body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(p.Body)
	}
	resp, err := req.Execute(p.Method, p.URL)
	if err != nil {
		return err
	}
	res.Status = resp.StatusCode()

	if p.ExpectStatus != 0 {
		if res.Status != p.ExpectStatus {
			return fmt.Errorf("status %d, want %d", res.Status, p.ExpectStatus)
		}
	} else if res.Status < 200 || res.Status >= 300 {
		return fmt.Errorf("status %d", res.Status)
	}

	if p.Extract == "" && p.ExpectValue == "" {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	v, err := Extract(doc, p.Extract)
	if err != nil {
		return err
	}
	res.Value = FormatValue(v)
	if p.ExpectValue != "" && res.Value != p.ExpectValue {
		return fmt.Errorf("value %q, want %q", res.Value, p.ExpectValue)
	}
	return nil
}

func (r *Runner) probeWebSocket(ctx context.Context, p Probe, res *Result) error {
	header := http.Header{}
	for k, v := range p.Headers {
		header.Set(k, v)
	}
	conn, resp, err := r.dialer.DialContext(ctx, p.URL, header)
	if resp != nil {
		res.Status = resp.StatusCode
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	nonce := "probe-" + uuid.NewString()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(nonce)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	res.Value = string(msg)
	if res.Value != nonce {
		return fmt.Errorf("echo mismatch: got %q", res.Value)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return nil
}

func (r *Runner) probeDominance(ctx context.Context, p Probe, res *Result) error {
	baseURL := p.URL
	if baseURL == "" {
		baseURL = DefaultDominanceURL
	}
	d, status, err := fetchDominance(ctx, r.http, baseURL, p.Headers)
	res.Status = status
	if err != nil {
		return err
	}
	res.Value = fmt.Sprintf("BTC %.2f%% ETH %.2f%%", d.BTC, d.ETH)
	return nil
}

type globalResponse struct {
	Data struct {
		MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
		TotalMarketCap      map[string]float64 `json:"total_market_cap"`
		UpdatedAt           int64              `json:"updated_at"`
	} `json:"data"`
}

// FetchDominance reads market cap shares from GET {baseURL}/api/v3/global.
func FetchDominance(ctx context.Context, baseURL string) (domain.Dominance, error) {
	d, _, err := fetchDominance(ctx, resty.New().SetTimeout(defaultTimeout), baseURL, nil)
	return d, err
}

func fetchDominance(ctx context.Context, client *resty.Client, baseURL string, headers map[string]string) (domain.Dominance, int, error) {
	var d domain.Dominance
	resp, err := client.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(strings.TrimRight(baseURL, "/") + "/api/v3/global")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return d, 0, fmt.Errorf("%w: %w", ports.ErrTimeout, err)
		}
		return d, 0, fmt.Errorf("%w: %w", ports.ErrConnectionFailed, err)
	}
	status := resp.StatusCode()
	switch {
	case status == http.StatusTooManyRequests:
		return d, status, fmt.Errorf("%w: status %d", ports.ErrRateLimited, status)
	case status >= 300:
		return d, status, fmt.Errorf("%w: status %d", ports.ErrProviderUnavailable, status)
	}

	var body globalResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return d, status, fmt.Errorf("%w: %w", ports.ErrCorruptRecord, err)
	}
	btc, ok := body.Data.MarketCapPercentage["btc"]
	if !ok {
		return d, status, fmt.Errorf("%w: market_cap_percentage.btc missing", ports.ErrCorruptRecord)
	}
	d.BTC = btc
	d.ETH = body.Data.MarketCapPercentage["eth"]
	d.TotalMarketCapUSD = body.Data.TotalMarketCap["usd"]
	if body.Data.UpdatedAt > 0 {
		d.UpdatedAt = time.Unix(body.Data.UpdatedAt, 0).UTC()
	}
	return d, status, nil
}
