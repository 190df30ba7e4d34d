package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"bullionwatch/internal/alerting"
	"bullionwatch/internal/baseline"
	"bullionwatch/internal/rates"
)

// SimulateAlert 通过给定的价格与涨跌额模拟一次告警流程。
func (a *App) SimulateAlert(ctx context.Context, gold, silver string, goldDelta, silverDelta int64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if a.newNotifier() == nil {
		return errors.New("未配置任何告警通道")
	}

	snap := simulatedSnapshot(gold, silver, goldDelta, silverDelta, time.Now().UTC())
	monitor := a.newMonitor(nil)

	notes := monitor.Evaluate(snap)
	if len(notes) == 0 {
		fmt.Fprintln(os.Stdout, "no alert: deltas are below the configured thresholds")
		return nil
	}
	for _, note := range notes {
		fmt.Fprintln(os.Stdout, alerting.Render(note))
	}
	return monitor.Check(ctx, snap)
}

func simulatedSnapshot(gold, silver string, goldDelta, silverDelta int64, asOf time.Time) rates.Snapshot {
	side := func(rate string, delta int64) rates.MetalBaseline {
		if rate == "" {
			return rates.MetalBaseline{}
		}
		mb := rates.MetalBaseline{Delta: rates.NewDelta(delta)}
		if value, err := baseline.ParseAmount(rate); err == nil {
			mb.Baseline = baseline.FormatAmount(value.Sub(decimal.NewFromInt(delta)))
		}
		return mb
	}
	return rates.NewSnapshot(
		rates.Quote{Gold: gold, Silver: silver},
		rates.Baseline{Gold: side(gold, goldDelta), Silver: side(silver, silverDelta)},
		asOf,
	)
}
