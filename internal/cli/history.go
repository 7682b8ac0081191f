package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/cashout/internal/analytics"
	"github.com/lucasnoah/cashout/internal/db"
)

// eventLogFromConfig opens the event log named by the config.
func eventLogFromConfig() (*db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.EventLog.Disabled {
		return nil, fmt.Errorf("event log is disabled in the config")
	}
	return openEventLog(cfg.EventLog.Path)
}

var historyCmd = &cobra.Command{
	Use:   "history [pipeline-id]",
	Short: "Show logged pipeline events",
	Long: `Show the event log for one pipeline, or the most recent events across all
pipelines when no id is given. Use "latest" for the most recent pipeline.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := eventLogFromConfig()
		if err != nil {
			return err
		}
		defer d.Close()

		var events []db.PipelineEvent
		switch {
		case len(args) == 1 && args[0] == "latest":
			id, err := d.LatestPipelineID()
			if err != nil {
				return err
			}
			if id == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No events logged.")
				return nil
			}
			events, err = d.GetPipelineHistory(id)
			if err != nil {
				return err
			}
		case len(args) == 1:
			events, err = d.GetPipelineHistory(args[0])
			if err != nil {
				return err
			}
		default:
			limit, _ := cmd.Flags().GetInt("limit")
			events, err = d.RecentEvents(limit)
			if err != nil {
				return err
			}
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, events)
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events logged.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tPIPELINE\tEVENT\tPHASE\tDETAIL")
		for _, e := range events {
			detail := e.Detail
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp, e.PipelineID, e.Event, e.Phase, detail)
		}
		return w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Stage durations, failure rates and outcomes from the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := eventLogFromConfig()
		if err != nil {
			return err
		}
		defer d.Close()

		since, _ := cmd.Flags().GetString("since")

		durations, err := analytics.QueryStageDurations(d, since)
		if err != nil {
			return err
		}
		rates, err := analytics.QueryPhaseFailureRates(d, since)
		if err != nil {
			return err
		}
		outcomes, err := analytics.QueryPathOutcomes(d, since)
		if err != nil {
			return err
		}
		failures, err := d.FailureCounts(since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, map[string]any{
				"stage_durations": durations,
				"failure_rates":   rates,
				"path_outcomes":   outcomes,
				"failures":        failures,
			})
		}

		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tCOUNT\tAVG\tP50\tP95")
		for _, s := range durations {
			fmt.Fprintf(w, "%s\t%d\t%.1fs\t%.1fs\t%.1fs\n", s.Phase, s.Count, s.Avg, s.P50, s.P95)
		}
		w.Flush()

		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tENTERED\tFAILED\tFAIL%")
		for _, r := range rates {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\n", r.Phase, r.Entered, r.Failed, r.FailRate)
		}
		w.Flush()

		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tSTARTED\tCOMPLETED\tFAILED\tCANCELLED")
		for _, o := range outcomes {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", o.Path, o.Started, o.Completed, o.Failed, o.Cancelled)
		}
		w.Flush()

		if len(failures) > 0 {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Most frequent failures:")
			for _, f := range failures {
				fmt.Fprintf(out, "  %-26s %d\n", f.Phase, f.Count)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 50, "Number of recent events to show")
	historyCmd.Flags().String("format", "text", "Output format: text or json")

	statsCmd.Flags().String("since", "", "Only count events at or after this timestamp (2006-01-02 15:04:05)")
	statsCmd.Flags().String("format", "text", "Output format: text or json")
}
