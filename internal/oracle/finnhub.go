package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const DefaultFinnhubURL = "https://finnhub.io"

type FinnhubConfig struct {
	BaseURL            string
	Token              string
	RateLimitPerMinute int
	Timeout            time.Duration
}

// FinnhubProvider fetches quotes from the Finnhub REST API. Requests are
// paced by a token bucket sized to the plan's per-minute allowance.
type FinnhubProvider struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

func NewFinnhubProvider(cfg FinnhubConfig) (*FinnhubProvider, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("finnhub token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultFinnhubURL
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 60
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &FinnhubProvider{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
	}, nil
}

type finnhubQuote struct {
	Current       decimal.Decimal     `json:"c"`
	ChangePercent decimal.NullDecimal `json:"dp"`
}

func (p *FinnhubProvider) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return Quote{}, NewNetworkError(symbol, "rate limit wait cancelled", err)
	}

	params := url.Values{
		"symbol": {symbol},
		"token":  {p.token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v1/quote?"+params.Encode(), nil)
	if err != nil {
		return Quote{}, NewNetworkError(symbol, "failed to create request", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Quote{}, NewNetworkError(symbol, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Quote{}, NewRateLimitError(symbol)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, NewProviderError(symbol, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var raw finnhubQuote
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Quote{}, NewProviderError(symbol, "failed to parse response", err)
	}
	// Finnhub answers unknown symbols with an all-zero quote.
	if !raw.Current.IsPositive() {
		return Quote{}, NewBadSymbolError(symbol, "no price returned")
	}
	q := Quote{
		Symbol:    symbol,
		Price:     raw.Current,
		FetchedAt: time.Now().UTC(),
	}
	if raw.ChangePercent.Valid {
		q.ChangePercent = raw.ChangePercent.Decimal
	}
	return q, nil
}
