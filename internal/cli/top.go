package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/lurker/internal/config"
	"github.com/dwizi/lurker/internal/tui"
)

func newTopCommand() *cobra.Command {
	var (
		interval time.Duration
		timeout  time.Duration
		group    string
	)
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Live dashboard of group modes, willingness and fatigue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(interval, timeout, group)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", tui.DefaultInterval, "poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "request timeout")
	cmd.Flags().StringVar(&group, "group", "", "group to inspect first")
	return cmd
}

func runDashboard(interval, timeout time.Duration, group string) error {
	client, err := newAdminClientFromEnv(timeout)
	if err != nil {
		return err
	}
	return tui.Run(client, tui.Options{
		Endpoint: config.FromEnv().AdminAPIURL,
		Interval: interval,
		Group:    group,
	})
}
