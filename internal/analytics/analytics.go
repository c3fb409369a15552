// Package analytics holds the pure aggregation functions of the service:
// moving averages over rate history, transaction summaries, and monthly
// volume. Everything here recomputes from its inputs on every call; there is
// no caching or incremental state.
package analytics

import (
	"sort"

	"github.com/shopspring/decimal"

	"pesowatch/internal/storage"
)

// Moving-average windows recomputed onto the newest rate record.
const (
	WindowShort = 20
	WindowLong  = 50
)

// MovingAverage returns the arithmetic mean of the first window values.
// Callers pass values most-recent-first. With fewer than window values the
// mean is taken over what exists; the divisor is the actual count, so a
// short history yields a true mean rather than a diluted one.
func MovingAverage(values []decimal.Decimal, window int) decimal.Decimal {
	if window <= 0 || len(values) == 0 {
		return decimal.Zero
	}
	if window > len(values) {
		window = len(values)
	}

	sum := decimal.Zero
	for _, v := range values[:window] {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(window)))
}

// Summary aggregates a transaction history. Realized profit uses the
// average-cost basis: totalSoldPHP - totalSold * averageBuyRate.
type Summary struct {
	TotalBought       decimal.Decimal
	TotalSold         decimal.Decimal
	TotalBoughtPHP    decimal.Decimal
	TotalSoldPHP      decimal.Decimal
	AverageBuyRate    decimal.Decimal
	AverageSellRate   decimal.Decimal
	CurrentPosition   decimal.Decimal
	RealizedProfitPHP decimal.Decimal
}

// Summarize computes totals, average rates, current position, and realized
// profit over the given transactions. Average rates are zero, not an error,
// when the corresponding total is zero.
func Summarize(txs []storage.Transaction) Summary {
	var s Summary

	for _, tx := range txs {
		switch tx.Type {
		case storage.TxBuy:
			s.TotalBought = s.TotalBought.Add(tx.AmountUSD)
			s.TotalBoughtPHP = s.TotalBoughtPHP.Add(tx.AmountPHP)
		case storage.TxSell:
			s.TotalSold = s.TotalSold.Add(tx.AmountUSD)
			s.TotalSoldPHP = s.TotalSoldPHP.Add(tx.AmountPHP)
		}
	}

	if !s.TotalBought.IsZero() {
		s.AverageBuyRate = s.TotalBoughtPHP.Div(s.TotalBought)
	}
	if !s.TotalSold.IsZero() {
		s.AverageSellRate = s.TotalSoldPHP.Div(s.TotalSold)
	}

	s.CurrentPosition = s.TotalBought.Sub(s.TotalSold)
	s.RealizedProfitPHP = s.TotalSoldPHP.Sub(s.TotalSold.Mul(s.AverageBuyRate))

	return s
}

// MonthVolume is the summed USD volume for one calendar month.
type MonthVolume struct {
	Month  string // YYYY-MM
	Volume decimal.Decimal
}

// MonthlyVolume buckets transaction USD amounts by calendar month, returned
// in ascending month order regardless of input ordering.
func MonthlyVolume(txs []storage.Transaction) []MonthVolume {
	buckets := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		month := tx.Date.Format("2006-01")
		buckets[month] = buckets[month].Add(tx.AmountUSD)
	}

	months := make([]string, 0, len(buckets))
	for month := range buckets {
		months = append(months, month)
	}
	sort.Strings(months)

	out := make([]MonthVolume, 0, len(months))
	for _, month := range months {
		out = append(out, MonthVolume{Month: month, Volume: buckets[month]})
	}
	return out
}

// AlertTriggered reports whether the given rate satisfies an alert's
// threshold. Inactive alerts never trigger. This is a display-time
// comparison; nothing in the service delivers notifications.
func AlertTriggered(alert storage.RateAlert, rate decimal.Decimal) bool {
	if !alert.IsActive {
		return false
	}
	switch alert.Direction {
	case storage.DirectionAbove:
		return rate.GreaterThanOrEqual(alert.TargetRate)
	case storage.DirectionBelow:
		return rate.LessThanOrEqual(alert.TargetRate)
	default:
		return false
	}
}

// RateStats summarises a rate window for the history view.
type RateStats struct {
	High    decimal.Decimal
	Low     decimal.Decimal
	Average decimal.Decimal
	Current decimal.Decimal
	Change  decimal.Decimal
}

// SummarizeRates computes window stats over records ordered ascending by
// date. Returns the zero value for an empty window.
func SummarizeRates(records []storage.RateRecord) RateStats {
	if len(records) == 0 {
		return RateStats{}
	}

	stats := RateStats{
		High: records[0].USDPHPRate,
		Low:  records[0].USDPHPRate,
	}

	sum := decimal.Zero
	for _, rec := range records {
		if rec.USDPHPRate.GreaterThan(stats.High) {
			stats.High = rec.USDPHPRate
		}
		if rec.USDPHPRate.LessThan(stats.Low) {
			stats.Low = rec.USDPHPRate
		}
		sum = sum.Add(rec.USDPHPRate)
	}

	stats.Average = sum.Div(decimal.NewFromInt(int64(len(records))))
	stats.Current = records[len(records)-1].USDPHPRate
	stats.Change = stats.Current.Sub(records[0].USDPHPRate)
	return stats
}
