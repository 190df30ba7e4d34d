package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"bullionwatch/internal/baseline"
	"bullionwatch/internal/rates"
	"bullionwatch/internal/storage"
)

// Backfill imports one snapshot per day from the historical endpoint.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if a.Config.History.URL == "" {
		return errors.New("history.url 未配置，无法回填")
	}

	start := truncateDay(opts.From.UTC())
	end := truncateDay(opts.To.UTC())
	if end.Before(start) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	var snapshots storage.SnapshotStore
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn 未配置，无法回填")
		}
		if closeStore != nil {
			defer closeStore()
		}
		snapshots = store
	}

	client := a.newHistoryClient(a.newSource())
	// one extra day so the first imported day has a baseline
	records, err := client.FetchRange(ctx, start.AddDate(0, 0, -1), end)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}

	built := buildBackfill(baseline.Daily(records, time.UTC), start)
	inserted := 0
	for _, snap := range built {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if snapshots == nil {
			printSnapshot(os.Stdout, snap)
			continue
		}
		ok, err := snapshots.InsertSnapshot(ctx, storage.RecordFromSnapshot(snap, storage.SourceBackfill))
		if err != nil {
			return fmt.Errorf("insert snapshot %s: %w", snap.AsOf.Format(time.RFC3339), err)
		}
		if ok {
			inserted++
		}
	}

	a.Logger.Info().Int("days", len(built)).Int("inserted", inserted).Msg("回填完成")
	return nil
}

// buildBackfill turns daily records into snapshots from start onwards. A day
// is compared with the record of the calendar day before it, if any.
func buildBackfill(daily []baseline.Record, start time.Time) []rates.Snapshot {
	var out []rates.Snapshot
	for i, rec := range daily {
		if rec.CreatedAt.Before(start) {
			continue
		}
		var base rates.Baseline
		if i > 0 && sameDay(daily[i-1].CreatedAt.AddDate(0, 0, 1), rec.CreatedAt) {
			if b, ok := baseline.Compare(rec.Quote, daily[i-1].Quote); ok {
				base = b
			}
		}
		out = append(out, rates.NewSnapshot(rec.Quote, base, rec.CreatedAt))
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
