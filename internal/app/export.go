package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"pesowatch/internal/storage"
)

// Export renders stored rate history as CSV and/or a PNG chart with the
// MA20/MA50 overlay.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := storage.Day(time.Now().UTC())
	if opts.To != nil {
		to = storage.Day(*opts.To)
	}

	from := to.AddDate(-1, 0, 0)
	if opts.From != nil {
		from = storage.Day(*opts.From)
	}

	if to.Before(from) {
		return errors.New("from must not be after to")
	}

	records, err := store.Rates.Between(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no rates found for export window")
		return nil
	}

	downsampled := downsampleRates(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting rates")

	if opts.CSVPath != "" {
		if err := writeRatesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRatesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRates(records []storage.RateRecord, max int) []storage.RateRecord {
	if max <= 0 || len(records) <= max {
		return records
	}

	result := make([]storage.RateRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRatesCSV(path string, records []storage.RateRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "usd_php_rate", "dollar_index", "ma20", "ma50", "synthetic", "created_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		synthetic := ""
		if rec.Synthetic {
			synthetic = "true"
		}
		record := []string{
			rec.Date.Format(storage.DateLayout),
			rec.USDPHPRate.String(),
			optionalString(rec.DollarIndex),
			optionalString(rec.MA20),
			optionalString(rec.MA50),
			synthetic,
			rec.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRatesPNG(path string, records []storage.RateRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	rates := make([]float64, len(records))
	for i, rec := range records {
		x[i] = rec.Date
		rates[i] = rec.USDPHPRate.InexactFloat64()
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "USD/PHP",
			XValues: x,
			YValues: rates,
		},
	}

	if ma20X, ma20Y := maSeries(records, func(r storage.RateRecord) *float64 { return optionalFloat(r.MA20) }); len(ma20X) > 0 {
		series = append(series, chart.TimeSeries{Name: "MA20", XValues: ma20X, YValues: ma20Y})
	}
	if ma50X, ma50Y := maSeries(records, func(r storage.RateRecord) *float64 { return optionalFloat(r.MA50) }); len(ma50X) > 0 {
		series = append(series, chart.TimeSeries{Name: "MA50", XValues: ma50X, YValues: ma50Y})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rate (PHP per USD)",
			ValueFormatter: rateFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func maSeries(records []storage.RateRecord, pick func(storage.RateRecord) *float64) ([]time.Time, []float64) {
	var xs []time.Time
	var ys []float64
	for _, rec := range records {
		if v := pick(rec); v != nil {
			xs = append(xs, rec.Date)
			ys = append(ys, *v)
		}
	}
	return xs, ys
}

func optionalFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func optionalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
