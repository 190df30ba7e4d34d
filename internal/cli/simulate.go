package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateGold        string
	simulateSilver      string
	simulateGoldDelta   int64
	simulateSilverDelta int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次大幅波动并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateGold == "" && simulateSilver == "" {
			return errors.New("--gold 与 --silver 至少提供一个")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateGold, simulateSilver, simulateGoldDelta, simulateSilverDelta)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateGold, "gold", "", "黄金价格, 例如 58,400.00")
	simulateCmd.Flags().StringVar(&simulateSilver, "silver", "", "白银价格, 例如 700.00")
	simulateCmd.Flags().Int64Var(&simulateGoldDelta, "gold-delta", 0, "黄金涨跌额")
	simulateCmd.Flags().Int64Var(&simulateSilverDelta, "silver-delta", 0, "白银涨跌额")
}
