package main

import (
	"fmt"
	"time"

	"sitekit_datastore/internal/report"
	"sitekit_datastore/src/logger"

	"github.com/spf13/cobra"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		options []string
		every   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "report <module>",
		Short: "Fetch a module report",
		Example: "  sitekit report analytics -o metrics=ga:users -o dateRange=last-28-days\n" +
			"  sitekit report pagespeed-insights -o url=https://example.com -o strategy=mobile",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.registry.Module(args[0])
			if err != nil {
				return err
			}
			if m.Report == nil {
				return fmt.Errorf("module %s has no report", m.Slug)
			}
			opts, err := parseAssignments(options)
			if err != nil {
				return err
			}
			query := report.Options(opts)

			for {
				resp, err := m.Report.ResolveReport(cmd.Context(), query)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
					return err
				}
				if every <= 0 {
					return nil
				}

				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(every):
				}
				logger.Debug().Str("module", m.Slug).Msg("refreshing report")
				if err := m.Report.InvalidateReport(cmd.Context(), query); err != nil {
					logger.Warn().Err(err).Str("module", m.Slug).Msg("failed to invalidate report")
				}
			}
		},
	}
	cmd.Flags().StringArrayVarP(&options, "option", "o", nil, "report option as name=value, repeatable")
	cmd.Flags().DurationVar(&every, "every", 0, "refetch the report on this interval until interrupted")
	return cmd
}
