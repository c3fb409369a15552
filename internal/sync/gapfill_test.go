package sync

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pesowatch/internal/storage"
)

func day(s string) time.Time {
	t, err := time.Parse(storage.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rec(date string, rate string) storage.RateRecord {
	return storage.RateRecord{
		Date:       day(date),
		USDPHPRate: decimal.RequireFromString(rate),
		CreatedAt:  day(date).Add(8 * time.Hour),
	}
}

func TestFillGapsCarriesForward(t *testing.T) {
	history := []storage.RateRecord{
		rec("2025-01-01", "56.10"),
		rec("2025-01-04", "56.40"),
	}

	out := FillGaps(history, day("2025-01-01"), day("2025-01-05"))
	if len(out) != 5 {
		t.Fatalf("want one record per day (5), got %d", len(out))
	}

	for i, want := range []struct {
		date      string
		rate      string
		synthetic bool
	}{
		{"2025-01-01", "56.10", false},
		{"2025-01-02", "56.10", true},
		{"2025-01-03", "56.10", true},
		{"2025-01-04", "56.40", false},
		{"2025-01-05", "56.40", true},
	} {
		got := out[i]
		if !got.Date.Equal(day(want.date)) {
			t.Fatalf("record %d: want date %s, got %s", i, want.date, got.Date)
		}
		if !got.USDPHPRate.Equal(decimal.RequireFromString(want.rate)) {
			t.Fatalf("%s: want rate %s, got %s", want.date, want.rate, got.USDPHPRate)
		}
		if got.Synthetic != want.synthetic {
			t.Fatalf("%s: want synthetic=%v", want.date, want.synthetic)
		}
	}
}

func TestFillGapsSyntheticTimestamp(t *testing.T) {
	out := FillGaps([]storage.RateRecord{rec("2025-01-01", "56")}, day("2025-01-01"), day("2025-01-02"))
	if len(out) != 2 {
		t.Fatalf("want 2 records, got %d", len(out))
	}

	// Real records keep their created_at; filled days are stamped end of day.
	if !out[0].CreatedAt.Equal(day("2025-01-01").Add(8 * time.Hour)) {
		t.Fatalf("real record created_at rewritten: %s", out[0].CreatedAt)
	}
	wantStamp := time.Date(2025, 1, 2, 23, 59, 59, 0, time.UTC)
	if !out[1].CreatedAt.Equal(wantStamp) {
		t.Fatalf("synthetic created_at: want %s, got %s", wantStamp, out[1].CreatedAt)
	}
}

func TestFillGapsSeedsFromEarlierRecord(t *testing.T) {
	// A record before the range seeds the leading gap days.
	history := []storage.RateRecord{
		rec("2024-12-30", "55.90"),
		rec("2025-01-03", "56.20"),
	}

	out := FillGaps(history, day("2025-01-01"), day("2025-01-03"))
	if len(out) != 3 {
		t.Fatalf("want 3 records, got %d", len(out))
	}
	if !out[0].Synthetic || !out[0].USDPHPRate.Equal(decimal.RequireFromString("55.90")) {
		t.Fatalf("leading day should carry the seed rate, got %+v", out[0])
	}
}

func TestFillGapsOmitsUnseededLeadingDays(t *testing.T) {
	history := []storage.RateRecord{rec("2025-01-03", "56.20")}

	out := FillGaps(history, day("2025-01-01"), day("2025-01-05"))
	if len(out) != 3 {
		t.Fatalf("no earlier record: days before the first known day must be omitted, got %d records", len(out))
	}
	if !out[0].Date.Equal(day("2025-01-03")) {
		t.Fatalf("first record should be the first known day, got %s", out[0].Date)
	}
	for _, r := range out {
		if r.Date.Before(day("2025-01-01")) || r.Date.After(day("2025-01-05")) {
			t.Fatalf("record outside requested range: %s", r.Date)
		}
	}
}

func TestFillGapsIgnoresFutureRecords(t *testing.T) {
	// Records after the range must not leak in or seed anything.
	history := []storage.RateRecord{rec("2025-01-10", "57")}

	out := FillGaps(history, day("2025-01-01"), day("2025-01-03"))
	if len(out) != 0 {
		t.Fatalf("future record must not fill earlier days, got %d records", len(out))
	}
}

func TestFillGapsInvertedRange(t *testing.T) {
	if out := FillGaps(nil, day("2025-01-05"), day("2025-01-01")); out != nil {
		t.Fatalf("inverted range: want nil, got %d records", len(out))
	}
}
