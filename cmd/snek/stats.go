package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/snekgym/viewer"
)

func newStatsCmd(opts *globalOptions) *cobra.Command {
	var (
		roots  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise archived episodes with DuckDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := opts.logger(os.Stderr)
			if err != nil {
				return err
			}
			cache := viewer.NewDBCache(splitList(roots), time.Minute, log)
			defer cache.Close()

			stats, err := cache.QueryStats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			fmt.Fprintf(out, "files=%d episodes=%d transitions=%d\n", stats.Files, stats.Episodes, stats.Transitions)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "POLICY\tEPISODES\tMEAN RETURN\tMAX RETURN\tMEAN LENGTH\tMEAN APPLES")
			for _, p := range stats.Policies {
				fmt.Fprintf(tw, "%s\t%d\t%.2f\t%d\t%.1f\t%.2f\n", p.Policy, p.Episodes, p.MeanReturn, p.MaxReturn, p.MeanLength, p.MeanApples)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			outcomes := make([]string, 0, len(stats.Outcomes))
			for outcome := range stats.Outcomes {
				outcomes = append(outcomes, outcome)
			}
			sort.Strings(outcomes)
			for _, outcome := range outcomes {
				fmt.Fprintf(out, "%s: %d\n", outcome, stats.Outcomes[outcome])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&roots, "roots", getEnvOrDefault("SNEK_OUT_DIR", "data/episodes"), "Comma separated directories of parquet batches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
