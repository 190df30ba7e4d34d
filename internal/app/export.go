package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"bullionwatch/internal/storage"
)

const defaultExportWindow = 30 * 24 * time.Hour

// Export renders stored snapshots as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListSnapshotsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func downsampleRecords(records []storage.SnapshotRecord, max int) []storage.SnapshotRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.SnapshotRecord, 0, max)
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

func writeRecordsCSV(path string, records []storage.SnapshotRecord) error {
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

	header := []string{"as_of", "source", "gold_rate", "gold_baseline", "gold_delta", "silver_rate", "silver_baseline", "silver_delta", "is_estimate"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		snap := rec.Snapshot()
		row := []string{
			rec.AsOf.UTC().Format(time.RFC3339),
			rec.Source,
			snap.GoldRate,
			snap.GoldBaseline,
			optInt(rec.GoldDelta),
			snap.SilverRate,
			snap.SilverBaseline,
			optInt(rec.SilverDelta),
			strconv.FormatBool(rec.IsEstimate),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRecordsPNG(path string, records []storage.SnapshotRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		goldX, silverX []time.Time
		goldY, silverY []float64
	)
	for _, rec := range records {
		if rec.GoldValue != nil {
			goldX = append(goldX, rec.AsOf)
			goldY = append(goldY, rec.GoldValue.InexactFloat64())
		}
		if rec.SilverValue != nil {
			silverX = append(silverX, rec.AsOf)
			silverY = append(silverY, rec.SilverValue.InexactFloat64())
		}
	}
	if len(goldX) < 2 && len(silverX) < 2 {
		return errors.New("not enough numeric points to draw a chart")
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Gold",
			ValueFormatter: rateFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Silver",
			ValueFormatter: rateFormatter,
		},
	}
	if len(goldX) >= 2 {
		graph.Series = append(graph.Series, chart.TimeSeries{Name: "Gold", XValues: goldX, YValues: goldY})
	}
	if len(silverX) >= 2 {
		graph.Series = append(graph.Series, chart.TimeSeries{Name: "Silver", XValues: silverX, YValues: silverY, YAxis: chart.YAxisSecondary})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func optInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
