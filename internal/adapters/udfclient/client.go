package udfclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"klineKit/internal/domain"
	"klineKit/internal/ports"
)

const (
	DefaultBaseURL = "http://localhost:8000"

	statusOK     = "ok"
	statusNoData = "no_data"
	statusError  = "error"
)

// Client implements ports.HistoryProvider against a TradingView UDF-style
// /history endpoint.
type Client struct {
	client *resty.Client
	logger ports.Logger
}

// Config holds configuration for the UDF client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  ports.Logger
}

// historyResponse is the columnar UDF payload.
type historyResponse struct {
	Status string    `json:"s"`
	ErrMsg string    `json:"errmsg"`
	Time   []int64   `json:"t"`
	Open   []float64 `json:"o"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Close  []float64 `json:"c"`
	Volume []float64 `json:"v"`
}

// New creates a UDF history client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for UDF client")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return &Client{client: client, logger: cfg.Logger}, nil
}

// Name identifies the provider in logs.
func (c *Client) Name() string {
	return "udf"
}

// FetchBefore requests up to limit bars ending strictly before end.
func (c *Client) FetchBefore(ctx context.Context, series domain.Series, end time.Time, limit int) ([]domain.Kline, error) {
	op := "FetchBefore"
	step, err := domain.ResolutionDuration(series.Resolution)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidRequest, err)
	}
	if limit <= 0 {
		limit = 500
	}
	to := end.Unix() - 1
	from := to - int64(limit)*int64(step/time.Second)
	if from < 0 {
		from = 0
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":     series.Symbol,
			"resolution": series.Resolution,
			"from":       strconv.FormatInt(from, 10),
			"to":         strconv.FormatInt(to, 10),
			"countback":  strconv.Itoa(limit),
		}).
		Get("/history")
	if err != nil {
		return nil, c.transportError(ctx, op, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests:
		c.logger.Warn(ctx, "UDF history rate limited", map[string]interface{}{"series": series.String()})
		return nil, fmt.Errorf("%s failed: %w: status %d", op, ports.ErrRateLimited, code)
	case code >= 500:
		return nil, fmt.Errorf("%s failed: %w: status %d", op, ports.ErrProviderUnavailable, code)
	case code == http.StatusNotFound:
		return nil, fmt.Errorf("%s failed: %w: status %d", op, ports.ErrNotFound, code)
	case code >= 400:
		return nil, fmt.Errorf("%s failed: %w: status %d: %s", op, ports.ErrInvalidRequest, code, strings.TrimSpace(resp.String()))
	}

	var hr historyResponse
	if err := json.Unmarshal(resp.Body(), &hr); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrCorruptRecord, err)
	}

	klines, err := hr.klines()
	if err != nil {
		return nil, fmt.Errorf("%s failed for %s: %w", op, series, err)
	}

	out := klines[:0]
	for _, k := range klines {
		if k.Timestamp < end.Unix() {
			out = append(out, k)
		}
	}
	c.logger.Debug(ctx, "Fetched kline page", map[string]interface{}{
		"series": series.String(),
		"to":     to,
		"count":  len(out),
	})
	return out, nil
}

func (hr historyResponse) klines() ([]domain.Kline, error) {
	switch hr.Status {
	case statusNoData:
		return nil, nil
	case statusError:
		return nil, fmt.Errorf("%w: %s", ports.ErrProviderUnavailable, hr.ErrMsg)
	case statusOK:
	default:
		return nil, fmt.Errorf("%w: unexpected status %q", ports.ErrCorruptRecord, hr.Status)
	}

	n := len(hr.Time)
	if len(hr.Open) != n || len(hr.High) != n || len(hr.Low) != n || len(hr.Close) != n {
		return nil, fmt.Errorf("%w: column lengths t=%d o=%d h=%d l=%d c=%d",
			ports.ErrCorruptRecord, n, len(hr.Open), len(hr.High), len(hr.Low), len(hr.Close))
	}
	if len(hr.Volume) != 0 && len(hr.Volume) != n {
		return nil, fmt.Errorf("%w: volume column has %d rows, want %d", ports.ErrCorruptRecord, len(hr.Volume), n)
	}

	out := make([]domain.Kline, n)
	for i := 0; i < n; i++ {
		out[i] = domain.Kline{
			Timestamp: hr.Time[i],
			Open:      hr.Open[i],
			High:      hr.High[i],
			Low:       hr.Low[i],
			Close:     hr.Close[i],
		}
		if len(hr.Volume) == n {
			out[i].Volume = hr.Volume[i]
		}
	}
	return out, nil
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	var finalErr error
	switch {
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", op, ports.ErrContextCanceled, err)
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout"):
		finalErr = fmt.Errorf("%s failed: %w: %w", op, ports.ErrTimeout, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	c.logger.Error(ctx, err, fmt.Sprintf("%s request failed", op))
	return finalErr
}
