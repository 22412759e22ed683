package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newTickCmd runs scheduler ticks from the command line. With --until-idle
// it keeps ticking until a tick advances nothing, which drives every batch to
// its next waiting or terminal state.
func newTickCmd() *cobra.Command {
	var (
		untilIdle bool
		maxTicks  int
	)
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Advance every open batch once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			total := 0
			for i := 0; i < maxTicks; i++ {
				report, err := appInstance.Scheduler().Tick(cmd.Context())
				if err != nil {
					return fmt.Errorf("tick: %w", err)
				}
				appInstance.Logger().Debug("tick done",
					zap.Int("advanced", report.Advanced),
					zap.Int("failed", report.Failed),
				)
				total += report.Advanced
				if report.Failed > 0 {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d batch(es) failed to advance\n", report.Failed)
				}
				if !untilIdle || report.Advanced == 0 {
					break
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "advanced %d\n", total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&untilIdle, "until-idle", false, "tick until no batch advances")
	cmd.Flags().IntVar(&maxTicks, "max-ticks", 50, "upper bound on ticks with --until-idle")
	return cmd
}
