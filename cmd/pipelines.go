package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/pricefeed/internal/pipeline"
)

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "List registered pipelines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := pipeline.NewRegistry(cfg)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		names := reg.Names()
		return writeOutput(os.Stdout, output, names, func(w io.Writer) {
			for _, n := range names {
				_, _ = fmt.Fprintln(w, n)
			}
		})
	},
}

func init() {
	pipelinesCmd.Flags().String("output", "text", "output format: text, json, yaml")
	rootCmd.AddCommand(pipelinesCmd)
}
