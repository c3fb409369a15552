package forex

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Rate is the stable internal shape for one day of upstream data, regardless
// of which provider produced it.
type Rate struct {
	Date        time.Time
	USDPHP      decimal.Decimal
	DollarIndex *decimal.Decimal
}

// Provider retrieves USD/PHP rates from an external forex API. Range results
// may have holes: weekends and holidays are simply absent upstream.
type Provider interface {
	Latest(ctx context.Context) (Rate, error)
	Range(ctx context.Context, start, end time.Time) ([]Rate, error)
	Name() string
}

// UpstreamError indicates the upstream API answered but the payload was
// malformed or missing the expected currency data. It is distinguishable
// from transport failures, which are returned as plain wrapped errors.
type UpstreamError struct {
	Provider string
	Reason   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("forex: %s: %s", e.Provider, e.Reason)
}

func upstreamErr(provider, format string, args ...interface{}) error {
	return &UpstreamError{Provider: provider, Reason: fmt.Sprintf(format, args...)}
}
