package sync

import (
	"time"

	"pesowatch/internal/storage"
)

// FillGaps produces exactly one record per calendar day in [from, to] from
// an ordered history of known records. Days with a real record keep it,
// created_at included. Missing days carry forward the most recent earlier
// record's rate, marked synthetic with a created_at of 23:59:59 UTC on the
// filled day. Rates are never carried backward from the future; leading days
// with no earlier record are omitted.
//
// History may include records dated before from (carry-forward seeds) and
// must be ordered ascending by date. Records after to are ignored.
func FillGaps(history []storage.RateRecord, from, to time.Time) []storage.RateRecord {
	from = storage.Day(from)
	to = storage.Day(to)
	if to.Before(from) {
		return nil
	}

	known := make(map[time.Time]storage.RateRecord, len(history))
	var seed *storage.RateRecord
	for i := range history {
		rec := history[i]
		day := storage.Day(rec.Date)
		if day.Before(from) {
			if seed == nil || day.After(storage.Day(seed.Date)) {
				seed = &history[i]
			}
			continue
		}
		if day.After(to) {
			continue
		}
		known[day] = rec
	}

	var last *storage.RateRecord
	if seed != nil {
		last = seed
	}

	out := make([]storage.RateRecord, 0, int(to.Sub(from).Hours()/24)+1)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if rec, ok := known[day]; ok {
			out = append(out, rec)
			recCopy := rec
			last = &recCopy
			continue
		}
		if last == nil {
			continue
		}
		out = append(out, storage.RateRecord{
			Date:       day,
			USDPHPRate: last.USDPHPRate,
			Synthetic:  true,
			CreatedAt:  endOfDay(day),
		})
	}
	return out
}

func endOfDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, time.UTC)
}
