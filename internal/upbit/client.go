// Package upbit reads historical candles from Upbit's public quotation API.
package upbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"llm-backtester/internal/interfaces"
	"llm-backtester/internal/logger"
	"llm-backtester/internal/types"
)

const (
	DefaultBaseURL = "https://api.upbit.com/v1"
	// MaxCount is the largest page the candle endpoint returns.
	MaxCount = 200

	kstLayout = "2006-01-02T15:04:05"
)

// ErrRateLimited is returned when every attempt for a page got HTTP 429.
var ErrRateLimited = errors.New("upbit: rate limited, retries exhausted")

type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upbit http %d: %s", e.Code, e.Body)
}

type Params struct {
	BaseURL           string
	MaxAttempts       int
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
}

type Client struct {
	baseURL     string
	maxAttempts int
	http        *http.Client
	limiter     *rate.Limiter
}

var _ interfaces.CandleSource = (*Client)(nil)

func New(p Params) *Client {
	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	hc := p.HTTPClient
	if hc == nil {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if p.RequestsPerSecond > 0 {
		limit = rate.Limit(p.RequestsPerSecond)
	}
	return &Client{
		baseURL:     strings.TrimRight(p.BaseURL, "/"),
		maxAttempts: p.MaxAttempts,
		http:        hc,
		limiter:     rate.NewLimiter(limit, 1),
	}
}

type candleJSON struct {
	Market  string  `json:"market"`
	TimeKST string  `json:"candle_date_time_kst"`
	Open    float64 `json:"opening_price"`
	High    float64 `json:"high_price"`
	Low     float64 `json:"low_price"`
	Close   float64 `json:"trade_price"`
	Volume  float64 `json:"candle_acc_trade_volume"`
}

// Candles fetches up to count candles opening strictly before `to`, most
// recent first. A 429 is retried after the server's Retry-After (1s when absent).
func (c *Client) Candles(ctx context.Context, market, resolution string, to time.Time, count int) ([]types.Candle, error) {
	if count < 1 || count > MaxCount {
		return nil, fmt.Errorf("upbit: count %d out of range 1..%d", count, MaxCount)
	}

	q := url.Values{}
	q.Set("market", market)
	// Upbit reads a bare timestamp as UTC and excludes the candle opening
	// at `to`, so the bound always carries its +09:00 offset.
	q.Set("to", to.In(types.KST).Format(time.RFC3339))
	q.Set("count", strconv.Itoa(count))
	endpoint := c.baseURL + "/candles/" + resolution + "?" + q.Encode()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, status, header, err := c.get(ctx, endpoint)
		if err != nil {
			return nil, err
		}

		switch {
		case status == http.StatusOK:
			return decodeCandles(body)
		case status == http.StatusTooManyRequests:
			wait := retryAfter(header)
			logger.Warn(ctx, "Upbit rate limit hit, backing off",
				"market", market,
				"attempt", attempt,
				"wait_ms", wait.Milliseconds(),
			)
			if attempt < c.maxAttempts {
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
			}
		default:
			return nil, &StatusError{Code: status, Body: truncate(string(body), 200)}
		}
	}
	return nil, ErrRateLimited
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, int, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, err
	}
	return body, resp.StatusCode, resp.Header, nil
}

func decodeCandles(body []byte) ([]types.Candle, error) {
	var raw []candleJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("upbit: decode candles: %w", err)
	}
	out := make([]types.Candle, 0, len(raw))
	for _, r := range raw {
		ts, err := time.ParseInLocation(kstLayout, r.TimeKST, types.KST)
		if err != nil {
			return nil, fmt.Errorf("upbit: bad candle_date_time_kst %q: %w", r.TimeKST, err)
		}
		out = append(out, types.Candle{
			Ts:    ts,
			Open:  r.Open,
			High:  r.High,
			Low:   r.Low,
			Close: r.Close,
			Vol:   r.Volume,
		})
	}
	return out, nil
}

func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return time.Second
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return time.Second
	}
	return time.Duration(secs * float64(time.Second))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// truncate keeps at most n bytes of s without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
