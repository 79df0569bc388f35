package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/shm/internal/fixture"
)

func init() {
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the demonstration zones, clusters and patches",
	Long: `Load three zones, eight mismatch clusters and four patches at different
stages. Timestamps are relative to now. Patches that already exist are
left as they are.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := fixture.Seed(cmd.Context(), rt.store, time.Now())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputFormat != "table" {
			return formatOutput(out, sum)
		}
		fmt.Fprintf(out, "Seeded %d zones, %d clusters, %d patches", sum.Zones, sum.Clusters, sum.Patches)
		if sum.Skipped > 0 {
			fmt.Fprintf(out, " (%d already present)", sum.Skipped)
		}
		fmt.Fprintln(out)
		return nil
	},
}
