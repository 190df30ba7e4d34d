package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var autoRefreshCmd = &cobra.Command{
	Use:       "autorefresh [on|off|status]",
	Short:     "Enable, disable or inspect periodic refresh",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		action := "status"
		if len(args) == 1 {
			action = args[0]
		}

		a := getApp()
		switch action {
		case "on", "off":
			if err := a.SetAutoRefresh(cmd.Context(), action == "on"); err != nil {
				return err
			}
		}

		st, err := a.AutoRefreshStatus(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "auto refresh: %s\n", onOff(st.Enabled))
		if st.LastFiredAt != nil {
			fmt.Fprintf(out, "last fired:   %s\n", st.LastFiredAt.UTC().Format(time.RFC3339))
		}
		if st.NextDeadline != nil {
			fmt.Fprintf(out, "next due by:  %s\n", st.NextDeadline.UTC().Format(time.RFC3339))
		}
		return nil
	},
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
