package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-day format used across the service.
const DateLayout = "2006-01-02"

// Transaction types.
const (
	TxBuy  = "BUY"
	TxSell = "SELL"
)

// Alert directions.
const (
	DirectionAbove = "ABOVE"
	DirectionBelow = "BELOW"
)

// RateRecord is one persisted daily USD/PHP observation. At most one record
// exists per calendar day; MA20/MA50 are derived and only ever populated on
// the most recent row.
type RateRecord struct {
	Date        time.Time
	USDPHPRate  decimal.Decimal
	DollarIndex *decimal.Decimal
	MA20        *decimal.Decimal
	MA50        *decimal.Decimal
	Synthetic   bool
	CreatedAt   time.Time
}

// Transaction is a manually recorded BUY or SELL of USD against PHP.
// AmountPHP is computed server-side as AmountUSD * Rate.
type Transaction struct {
	ID         int64
	Date       time.Time
	Type       string
	AmountUSD  decimal.Decimal
	Rate       decimal.Decimal
	AmountPHP  decimal.Decimal
	ProfitLoss *decimal.Decimal
	Notes      *string
	OwnerID    string
	CreatedAt  time.Time
}

// RateAlert is a user-defined threshold on the USD/PHP rate. The service
// stores and lists alerts; it does not deliver notifications.
type RateAlert struct {
	ID         int64
	TargetRate decimal.Decimal
	Direction  string
	OwnerID    string
	IsActive   bool
	CreatedAt  time.Time
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
