package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pricefeed/internal/model"
	"github.com/sells-group/pricefeed/internal/monitoring"
	"github.com/sells-group/pricefeed/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline run history",
	Long:  "Commands for listing and summarizing recorded pipeline runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent pipeline runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pipelineName, _ := cmd.Flags().GetString("pipeline")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		output, _ := cmd.Flags().GetString("output")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Pipeline: pipelineName,
			Status:   model.RunStatus(status),
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 && (output == "" || output == "text") {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		return writeOutput(os.Stdout, output, runs, func(w io.Writer) { formatRunsList(w, runs) })
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pipelineName, _ := cmd.Flags().GetString("pipeline")
		hours, _ := cmd.Flags().GetInt("hours")
		output, _ := cmd.Flags().GetString("output")

		snap, err := monitoring.NewCollector(st).Collect(ctx, pipelineName, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		return writeOutput(os.Stdout, output, snap, func(w io.Writer) { formatRunStats(w, snap) })
	},
}

func init() {
	runsListCmd.Flags().String("pipeline", "", "filter by pipeline name")
	runsListCmd.Flags().String("status", "", "filter by run status (complete, failed)")
	runsListCmd.Flags().Int("limit", store.DefaultRunLimit, "max number of runs to display")
	runsListCmd.Flags().String("output", "text", "output format: text, json, yaml")

	runsStatsCmd.Flags().String("pipeline", "", "restrict stats to one pipeline")
	runsStatsCmd.Flags().Int("hours", 24, "lookback window in hours")
	runsStatsCmd.Flags().String("output", "text", "output format: text, json, yaml")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPIPELINE\tSTATUS\tLINKS\tRECORDS\tGROUPS\tCREATED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t-----\t-------\t------\t-------\t--------\t-----")

	for _, r := range runs {
		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Pipeline,
			r.Status,
			r.Summary.Links,
			r.Summary.Records,
			r.Summary.Groups,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Summary.Elapsed.Round(time.Second),
			errMsg,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.RunSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	if s.Total > 0 {
		_, _ = fmt.Fprintf(w, "Fail rate:\t%.1f%%\n", s.FailRate*100)
	}
	_, _ = fmt.Fprintf(w, "Links:\t%d\n", s.Links)
	_, _ = fmt.Fprintf(w, "Skipped downloads:\t%d\n", s.Skipped)
	_, _ = fmt.Fprintf(w, "Records:\t%d\n", s.Records)
	_, _ = fmt.Fprintf(w, "Groups:\t%d\n", s.Groups)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
