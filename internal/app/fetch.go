package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"bullionwatch/internal/rates"
	"bullionwatch/internal/service"
)

// Fetch performs one refresh cycle and prints the snapshot.
func (a *App) Fetch(ctx context.Context) error {
	eng := a.newEngine(nil)

	snap, err := eng.coordinator.Refresh(ctx)
	if err != nil && !service.IsPartial(err) {
		return err
	}
	if err != nil {
		a.Logger.Warn().Err(err).Msg("feed returned partial data")
	}

	printSnapshot(os.Stdout, snap)
	return nil
}

func printSnapshot(out io.Writer, snap rates.Snapshot) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Metal\tRate\tBaseline\tChange")
	for _, m := range rates.Metals {
		rate := snap.Rate(m)
		if rate == "" {
			fmt.Fprintf(writer, "%s\t-\t-\t-\n", m)
			continue
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", m, rate, orDash(snap.BaselineFor(m)), snap.DeltaFor(m).String())
	}
	writer.Flush()

	note := "history"
	if snap.SourceIsEstimate {
		note = "estimate"
	}
	fmt.Fprintf(out, "as of %s (baseline: %s)\n", snap.AsOf.UTC().Format(time.RFC3339), note)
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
