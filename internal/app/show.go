package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pesowatch/internal/storage"
)

// Show prints recent rate records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.Rates.Recent(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no rates found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tUSD/PHP\tDXY\tMA20\tMA50\tSource\tUpdated (UTC)")

	for _, rec := range records {
		source := "api"
		if rec.Synthetic {
			source = "filled"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Date.Format(storage.DateLayout),
			rec.USDPHPRate.StringFixed(4),
			formatOptional(rec.DollarIndex),
			formatOptional(rec.MA20),
			formatOptional(rec.MA50),
			source,
			rec.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

func formatOptional(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(4)
}
