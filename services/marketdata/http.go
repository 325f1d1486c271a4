package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultHTTPTimeout bounds every upstream request
const DefaultHTTPTimeout = 15 * time.Second

const maxErrorBody = 512

// NewHTTPClient returns the client shared by all exchange drivers
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultHTTPTimeout}
}

// getJSON issues a GET request and decodes the JSON body into out
func getJSON(ctx context.Context, client *http.Client, baseURL, path string, query url.Values, headers map[string]string, out any) error {
	endpoint := strings.TrimRight(baseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tradingroad-backend/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// parseNumber reads a JSON number or a quoted decimal string
func parseNumber(raw json.RawMessage) (float64, error) {
	s := string(bytes.Trim(bytes.TrimSpace(raw), `"`))
	if s == "" || s == "null" {
		return 0, fmt.Errorf("empty numeric field")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

// parseDecimalString reads a decimal string such as "65012.34000000"
func parseDecimalString(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

// rowFromStrings builds a row from string columns in timestamp, open, high, low, close, volume order
func rowFromStrings(cols []string) (OHLCV, error) {
	var row OHLCV
	if len(cols) < 6 {
		return row, fmt.Errorf("short kline row: %d columns", len(cols))
	}
	for i := 0; i < 6; i++ {
		v, err := parseDecimalString(cols[i])
		if err != nil {
			return row, err
		}
		row[i] = v
	}
	return row, nil
}

// exchangePair converts "BTC/USDT" into base and quote, falling back to the raw symbol
func exchangePair(symbol string) (base, quote string) {
	base, quote = SplitPair(symbol)
	return base, quote
}

func clampLimit(limit, max int) int {
	if limit < 1 {
		return 1
	}
	if limit > max {
		return max
	}
	return limit
}
