package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"klineKit/internal/domain"
	"klineKit/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// maxPageLimit is the largest page the klines endpoint serves.
	maxPageLimit = 1500
)

// Client implements ports.HistoryProvider using the go-binance futures client.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // Overrides the production/testnet URL when set
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Debug(context.Background(), "APIKey or SecretKey is empty. Client will only use public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	switch {
	case cfg.BaseURL != "":
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL})

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
	}, nil
}

// Name identifies the provider in logs.
func (c *Client) Name() string {
	return "binance"
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003, -1015: // Too many requests / too many new orders
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature or API key
			mappedErr = ports.ErrAuthenticationFailed
		case -1000, -1001, -1006, -1007, -1016: // Unknown, disconnected, unexpected response, timeout, service shutting down
			mappedErr = ports.ErrProviderUnavailable
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1120, -1121, -1125, -1127, -1128, -1130:
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		if mappedErr == ports.ErrRateLimited {
			c.logger.Warn(ctx, fmt.Sprintf("%s rate limited", operation), fields)
		} else {
			c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		}
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "no such host") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	serverTimeMs, err := c.futuresClient.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs), nil
}

// GetMarkPrice retrieves the current mark price for a given symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMarkPrice"
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s: %w", symbol, ports.ErrNotFound), op)
	}

	price, err := strconv.ParseFloat(tickers[0].MarkPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// FetchBefore returns up to limit bars that open strictly before end, keeping
// the newest when the response carries more.
func (c *Client) FetchBefore(ctx context.Context, series domain.Series, end time.Time, limit int) ([]domain.Kline, error) {
	op := "FetchBefore"
	interval, err := Interval(series.Resolution)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidRequest, err)
	}
	if limit <= 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}

	binanceKlines, err := c.futuresClient.NewKlinesService().
		Symbol(series.Symbol).
		Interval(interval).
		EndTime(end.UnixMilli() - 1).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	klines := make([]domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		k, err := translateBinanceKline(bk)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrCorruptRecord, err)
		}
		// The endpoint filters on open time <= endTime; drop anything at or past the cursor.
		if k.Timestamp >= end.Unix() {
			continue
		}
		klines = append(klines, k)
	}
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}

	c.logger.Debug(ctx, "Fetched kline page", map[string]interface{}{
		"series": series.String(),
		"end":    end.UTC().Format(time.RFC3339),
		"count":  len(klines),
	})
	return klines, nil
}

// Interval maps a resolution to the exchange interval string.
func Interval(resolution string) (string, error) {
	d, err := domain.ResolutionDuration(resolution)
	if err != nil {
		return "", err
	}
	switch d {
	case time.Minute:
		return "1m", nil
	case 3 * time.Minute:
		return "3m", nil
	case 5 * time.Minute:
		return "5m", nil
	case 15 * time.Minute:
		return "15m", nil
	case 30 * time.Minute:
		return "30m", nil
	case time.Hour:
		return "1h", nil
	case 2 * time.Hour:
		return "2h", nil
	case 4 * time.Hour:
		return "4h", nil
	case 6 * time.Hour:
		return "6h", nil
	case 8 * time.Hour:
		return "8h", nil
	case 12 * time.Hour:
		return "12h", nil
	case 24 * time.Hour:
		return "1d", nil
	case 72 * time.Hour:
		return "3d", nil
	case 7 * 24 * time.Hour:
		return "1w", nil
	case 30 * 24 * time.Hour:
		return "1M", nil
	}
	return "", fmt.Errorf("resolution %q has no exchange interval", resolution)
}

// --- Translation Helpers ---

func translateBinanceKline(bk *futures.Kline) (domain.Kline, error) {
	if bk == nil {
		return domain.Kline{}, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return domain.Kline{}, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return domain.Kline{
		Timestamp: bk.OpenTime / 1000,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}
