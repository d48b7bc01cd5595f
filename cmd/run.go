package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pricefeed/internal/config"
	"github.com/sells-group/pricefeed/internal/monitoring"
	"github.com/sells-group/pricefeed/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one or all pipelines and upload their record groups",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		name, _ := cmd.Flags().GetString("pipeline")
		all, _ := cmd.Flags().GetBool("all")
		output, _ := cmd.Flags().GetString("output")
		if name == "" && !all {
			return eris.New("one of --pipeline or --all is required")
		}

		opts, err := runOptions(cmd, cfg)
		if err != nil {
			return err
		}
		cfg.Scrape.MaxWorkers = opts.Workers
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		reg, err := pipeline.NewRegistry(cfg)
		if err != nil {
			return err
		}
		if !all {
			if _, err := reg.Get(name); err != nil {
				return err
			}
		}
		uploader, err := initUploader(cfg)
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		metrics := monitoring.New(prometheus.NewRegistry())
		runner := pipeline.NewRunner(reg, uploader, st, metrics)

		var results []pipeline.RunResult
		if all {
			results = runner.RunAll(ctx, opts)
		} else {
			res, _ := runner.RunAndUpload(ctx, name, opts)
			results = []pipeline.RunResult{res}
		}

		if err := writeOutput(os.Stdout, output, results, func(w io.Writer) { formatRunResults(w, results) }); err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				zap.L().Error("pipeline failed", zap.String("pipeline", r.Pipeline), zap.Error(r.Err))
			}
		}
		if failed > 0 {
			return eris.Errorf("%d of %d pipeline(s) failed", failed, len(results))
		}
		return nil
	},
}

// runOptions merges run flags over the scrape and upload config.
func runOptions(cmd *cobra.Command, c *config.Config) (pipeline.RunOptions, error) {
	flags := cmd.Flags()

	timeBack := c.Scrape.TimeBack
	if flags.Changed("time-back") {
		timeBack, _ = flags.GetDuration("time-back")
	}
	if timeBack < 0 {
		return pipeline.RunOptions{}, eris.New("--time-back must be >= 0")
	}

	opts := pipeline.RunOptions{
		TimeBack:     &timeBack,
		CreateBucket: c.Upload.CreateBucket,
		Workers:      c.Scrape.MaxWorkers,
	}

	if flags.Changed("max-links") {
		n, _ := flags.GetInt("max-links")
		opts.MaxLinks = &n
	}
	if flags.Changed("workers") {
		opts.Workers, _ = flags.GetInt("workers")
	}
	if noCreate, _ := flags.GetBool("no-create-bucket"); noCreate {
		opts.CreateBucket = false
	}
	return opts, nil
}

// formatRunResults writes one row per pipeline run to w.
func formatRunResults(out io.Writer, results []pipeline.RunResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PIPELINE\tLINKS\tDOWNLOADED\tSKIPPED\tRECORDS\tGROUPS\tELAPSED\tSTATUS")
	_, _ = fmt.Fprintln(w, "--------\t-----\t----------\t-------\t-------\t------\t-------\t------")

	for _, r := range results {
		status := "ok"
		if r.Error != "" {
			status = "failed: " + r.Error
		}
		s := r.Summary
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.Pipeline,
			s.Links,
			s.Downloads.Succeeded,
			s.Downloads.Skipped,
			s.Records,
			s.Groups,
			s.Elapsed.Round(time.Millisecond),
			status,
		)
	}
	_ = w.Flush()
}

// addRunFlags defines the run flags on cmd.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("pipeline", "", "pipeline to run (see `pricefeed pipelines`)")
	cmd.Flags().Bool("all", false, "run every registered pipeline")
	cmd.Flags().Duration("time-back", pipeline.DefaultTimeBack, "only fetch files published within this window (0 disables)")
	cmd.Flags().Int("max-links", 0, "cap on discovered links (unset means no cap)")
	cmd.Flags().Int("workers", 0, "max concurrent pipelines with --all (default from config)")
	cmd.Flags().Bool("no-create-bucket", false, "fail instead of creating a missing bucket")
	cmd.Flags().String("output", "text", "output format: text, json, yaml")
	cmd.MarkFlagsMutuallyExclusive("pipeline", "all")
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
