package forex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pesowatch/internal/httputil"
	"pesowatch/internal/storage"
)

const exchangerateHostName = "exchangerate.host"

// ExchangerateHost fetches USD/PHP rates from exchangerate.host, the second
// upstream shape this system has used: quotes keyed by concatenated currency
// pair ("USDPHP") plus a success flag, rather than per-currency rate maps.
type ExchangerateHost struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewExchangerateHost constructs the alternative provider.
func NewExchangerateHost(opts Options, logger zerolog.Logger) *ExchangerateHost {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.exchangerate.host"
	}

	return &ExchangerateHost{
		opts:    opts,
		logger:  logger.With().Str("component", "forex_exchangerate_host").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (p *ExchangerateHost) Name() string { return exchangerateHostName }

// Latest retrieves today's USD/PHP quote.
func (p *ExchangerateHost) Latest(ctx context.Context) (Rate, error) {
	payload, err := p.get(ctx, "/live?source=USD&currencies=PHP")
	if err != nil {
		return Rate{}, err
	}

	var res struct {
		Success bool                   `json:"success"`
		Quotes  map[string]json.Number `json:"quotes"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return Rate{}, upstreamErr(exchangerateHostName, "decode live response: %v", err)
	}
	if !res.Success {
		return Rate{}, upstreamErr(exchangerateHostName, "live response reported success=false")
	}

	quote, ok := res.Quotes["USDPHP"]
	if !ok {
		return Rate{}, upstreamErr(exchangerateHostName, "live response missing USDPHP quote")
	}

	rate, err := decimal.NewFromString(quote.String())
	if err != nil {
		return Rate{}, upstreamErr(exchangerateHostName, "bad USDPHP quote %q", quote.String())
	}

	return Rate{Date: storage.Day(time.Now()), USDPHP: rate}, nil
}

// Range retrieves quotes for an inclusive date range, ascending by date.
func (p *ExchangerateHost) Range(ctx context.Context, start, end time.Time) ([]Rate, error) {
	path := fmt.Sprintf("/timeframe?source=USD&currencies=PHP&start_date=%s&end_date=%s",
		start.Format(storage.DateLayout), end.Format(storage.DateLayout))

	payload, err := p.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var res struct {
		Success bool                              `json:"success"`
		Quotes  map[string]map[string]json.Number `json:"quotes"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, upstreamErr(exchangerateHostName, "decode timeframe response: %v", err)
	}
	if !res.Success || res.Quotes == nil {
		return nil, upstreamErr(exchangerateHostName, "timeframe response missing quotes")
	}

	days := make([]string, 0, len(res.Quotes))
	for day := range res.Quotes {
		days = append(days, day)
	}
	sort.Strings(days)

	rates := make([]Rate, 0, len(days))
	for _, day := range days {
		quote, ok := res.Quotes[day]["USDPHP"]
		if !ok {
			// providers omit pairs on non-trading days
			continue
		}
		date, err := time.Parse(storage.DateLayout, day)
		if err != nil {
			return nil, upstreamErr(exchangerateHostName, "bad date key %q", day)
		}
		value, err := decimal.NewFromString(quote.String())
		if err != nil {
			return nil, upstreamErr(exchangerateHostName, "bad USDPHP quote %q for %s", quote.String(), day)
		}
		rates = append(rates, Rate{Date: storage.Day(date), USDPHP: value})
	}

	return rates, nil
}

func (p *ExchangerateHost) get(ctx context.Context, path string) ([]byte, error) {
	endpoint := p.baseURL + path

	resp, err := httputil.Do(ctx, p.client, p.opts.Retry, p.logger, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("forex: %s: %w", exchangerateHostName, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("forex: %s: read body: %w", exchangerateHostName, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamErr(exchangerateHostName, "unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	return payload, nil
}

var _ Provider = (*ExchangerateHost)(nil)
