package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/shm/pkg/patch"
)

func init() {
	rootCmd.AddCommand(distributionCmd)
	distributionCmd.AddCommand(distributionListCmd)
}

var distributionCmd = &cobra.Command{
	Use:     "distribution",
	Aliases: []string{"dist"},
	Short:   "Inspect fleet distribution",
}

// distributionView is a row with the kill switch applied.
type distributionView struct {
	patch.DistributionRow `yaml:",inline"`
	EffectiveFleetPercent int `json:"effective_fleet_percent" yaml:"effective_fleet_percent"`
}

var distributionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List distribution rows (fleet_ops, admin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := role()
		if err != nil {
			return err
		}
		rows, err := rt.engine.ListDistribution(cmd.Context(), r, actor())
		if err != nil {
			return err
		}

		ks := rt.engine.KillSwitch()
		views := make([]distributionView, 0, len(rows))
		for _, row := range rows {
			v := distributionView{DistributionRow: *row, EffectiveFleetPercent: row.FleetPercent}
			for _, z := range row.TargetZones {
				if ks.Overridden(z) {
					v.EffectiveFleetPercent = 0
				}
			}
			views = append(views, v)
		}

		out := cmd.OutOrStdout()
		if outputFormat != "table" {
			return formatOutput(out, views)
		}
		if len(views) == 0 {
			fmt.Fprintln(out, "No patches have left Candidate yet.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PATCH\tSTAGE\tZONES\tFLEET\tEFFECTIVE\tDISTRIBUTED\tSUCCESS\tLATENCY")
		for _, v := range views {
			zones := make([]string, 0, len(v.TargetZones))
			for _, z := range v.TargetZones {
				zones = append(zones, strconv.Itoa(z))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%d%%\t%s\t%.1f%%\t%dms\n",
				v.PatchID, stageLabel(v.Stage), strings.Join(zones, ","), v.FleetPercent,
				v.EffectiveFleetPercent, formatTime(v.DistributedAt), v.SuccessRate, v.AvgLatencyMS)
		}
		return w.Flush()
	},
}
