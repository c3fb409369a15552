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

const frankfurterName = "frankfurter"

var decHundred = decimal.NewFromInt(100)

// Options parameterise an upstream provider client.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	UserAgent   string
	Retry       httputil.RetryConfig
	DollarIndex bool
}

// Frankfurter fetches USD/PHP rates from the Frankfurter API. Responses map
// an ISO date (or "latest") to a rates object keyed by currency code.
type Frankfurter struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewFrankfurter constructs the default provider.
func NewFrankfurter(opts Options, logger zerolog.Logger) *Frankfurter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.frankfurter.app"
	}

	return &Frankfurter{
		opts:    opts,
		logger:  logger.With().Str("component", "forex_frankfurter").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (f *Frankfurter) Name() string { return frankfurterName }

// Latest retrieves today's USD/PHP rate. The record is stamped with today's
// calendar day even when the upstream quote date lags (weekends).
func (f *Frankfurter) Latest(ctx context.Context) (Rate, error) {
	payload, err := f.get(ctx, "/latest?from=USD&to=PHP")
	if err != nil {
		return Rate{}, err
	}

	var res struct {
		Rates map[string]json.Number `json:"rates"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return Rate{}, upstreamErr(frankfurterName, "decode latest response: %v", err)
	}

	php, ok := res.Rates["PHP"]
	if !ok {
		return Rate{}, upstreamErr(frankfurterName, "latest response missing PHP rate")
	}

	rate, err := decimal.NewFromString(php.String())
	if err != nil {
		return Rate{}, upstreamErr(frankfurterName, "bad PHP rate %q", php.String())
	}

	today := storage.Day(time.Now())
	r := Rate{Date: today, USDPHP: rate}
	r.DollarIndex = f.dollarIndex(ctx, today)
	return r, nil
}

// Range retrieves rates for an inclusive date range, ascending by date.
// Weekends and holidays are absent from the response and are not invented
// here; gap filling is the synchronizer's job.
func (f *Frankfurter) Range(ctx context.Context, start, end time.Time) ([]Rate, error) {
	path := fmt.Sprintf("/%s..%s?from=USD&to=PHP",
		start.Format(storage.DateLayout), end.Format(storage.DateLayout))

	payload, err := f.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var res struct {
		Rates map[string]map[string]json.Number `json:"rates"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, upstreamErr(frankfurterName, "decode range response: %v", err)
	}
	if res.Rates == nil {
		return nil, upstreamErr(frankfurterName, "range response missing rates")
	}

	days := make([]string, 0, len(res.Rates))
	for day := range res.Rates {
		days = append(days, day)
	}
	sort.Strings(days)

	rates := make([]Rate, 0, len(days))
	for _, day := range days {
		php, ok := res.Rates[day]["PHP"]
		if !ok {
			return nil, upstreamErr(frankfurterName, "day %s missing PHP rate", day)
		}
		date, err := time.Parse(storage.DateLayout, day)
		if err != nil {
			return nil, upstreamErr(frankfurterName, "bad date key %q", day)
		}
		value, err := decimal.NewFromString(php.String())
		if err != nil {
			return nil, upstreamErr(frankfurterName, "bad PHP rate %q for %s", php.String(), day)
		}

		r := Rate{Date: storage.Day(date), USDPHP: value}
		r.DollarIndex = f.dollarIndex(ctx, r.Date)
		rates = append(rates, r)
	}

	return rates, nil
}

// dollarIndex derives a dollar-strength proxy from the USD/EUR rate as
// (1/EUR)*100. Best effort: any failure logs and yields nil rather than
// failing the rate fetch.
func (f *Frankfurter) dollarIndex(ctx context.Context, day time.Time) *decimal.Decimal {
	if !f.opts.DollarIndex {
		return nil
	}

	path := fmt.Sprintf("/%s?from=USD&to=EUR", day.Format(storage.DateLayout))
	payload, err := f.get(ctx, path)
	if err != nil {
		f.logger.Warn().Err(err).Str("date", day.Format(storage.DateLayout)).Msg("dollar index fetch failed")
		return nil
	}

	var res struct {
		Rates map[string]json.Number `json:"rates"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		f.logger.Warn().Err(err).Msg("dollar index decode failed")
		return nil
	}

	eurNum, ok := res.Rates["EUR"]
	if !ok {
		f.logger.Warn().Str("date", day.Format(storage.DateLayout)).Msg("dollar index response missing EUR rate")
		return nil
	}

	eur, err := decimal.NewFromString(eurNum.String())
	if err != nil || eur.IsZero() {
		return nil
	}

	index := decimal.NewFromInt(1).Div(eur).Mul(decHundred)
	return &index
}

func (f *Frankfurter) get(ctx context.Context, path string) ([]byte, error) {
	endpoint := f.baseURL + path

	resp, err := httputil.Do(ctx, f.client, f.opts.Retry, f.logger, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("forex: %s: %w", frankfurterName, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("forex: %s: read body: %w", frankfurterName, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamErr(frankfurterName, "unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	return payload, nil
}

var _ Provider = (*Frankfurter)(nil)
