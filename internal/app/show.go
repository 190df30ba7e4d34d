package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"bullionwatch/internal/storage"
)

// Show prints recent stored snapshots.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	total, err := store.CountSnapshots(ctx)
	if err != nil {
		return err
	}

	writeRecords(os.Stdout, records, time.Now())
	fmt.Fprintf(os.Stdout, "%s snapshots stored\n", humanize.Comma(total))
	return nil
}

func writeRecords(out io.Writer, records []storage.SnapshotRecord, now time.Time) {
	if len(records) == 0 {
		fmt.Fprintln(out, "no snapshots found")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "As of (UTC)\tAge\tSource\tGold\tΔ\tSilver\tΔ\tEstimate")
	for _, rec := range records {
		snap := rec.Snapshot()
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			rec.AsOf.UTC().Format(time.RFC3339),
			humanize.RelTime(rec.AsOf, now, "ago", "from now"),
			rec.Source,
			orDash(snap.GoldRate),
			snap.GoldDelta.String(),
			orDash(snap.SilverRate),
			snap.SilverDelta.String(),
			rec.IsEstimate,
		)
	}
	writer.Flush()
}
