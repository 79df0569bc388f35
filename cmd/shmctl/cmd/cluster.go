package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/shm/pkg/clierror"
	"github.com/gobeyondidentity/shm/pkg/patch"
	"github.com/gobeyondidentity/shm/pkg/timeutil"
)

func init() {
	rootCmd.AddCommand(clusterCmd)
	clusterCmd.AddCommand(clusterListCmd)
	clusterCmd.AddCommand(clusterStatusCmd)
	rootCmd.AddCommand(zonesCmd)
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Review mismatch clusters",
}

var clusterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mismatch clusters, most recently seen first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusters, err := rt.engine.Clusters(cmd.Context())
		if err != nil {
			return err
		}
		if clusters == nil {
			clusters = []*patch.MismatchCluster{}
		}

		out := cmd.OutOrStdout()
		if outputFormat != "table" {
			return formatOutput(out, clusters)
		}
		if len(clusters) == 0 {
			fmt.Fprintln(out, "No mismatch clusters.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tZONE\tTYPE\tCONF\tVEHICLES\tPASSES\tSTATUS\tLAST SEEN\tLOCATION")
		for _, c := range clusters {
			status := string(c.Status)
			if c.NeedsReview {
				status = warnFmt(status + "*")
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
				c.ID, c.Zone, c.PatchType, c.Confidence, c.Vehicles, c.Passes, status,
				timeutil.Relative(c.LastSeen), c.LocationLabel)
		}
		return w.Flush()
	},
}

var clusterStatusCmd = &cobra.Command{
	Use:   "status <cluster-id> <status>",
	Short: "Set a cluster's review status",
	Long: `Set a mismatch cluster's review status to in_review, ready_for_promotion,
blocked or duplicate. Marking a duplicate requires the mapping role.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := role()
		if err != nil {
			return err
		}
		status, err := patch.ParseClusterStatus(args[1])
		if err != nil {
			return clierror.InvalidInput(err.Error())
		}
		c, err := rt.engine.UpdateClusterStatus(cmd.Context(), args[0], status, r, actor())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputFormat != "table" {
			return formatOutput(out, c)
		}
		fmt.Fprintf(out, "%s is now %s\n", c.ID, c.Status)
		return nil
	},
}

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "List operating zones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		zones, err := rt.engine.Zones(cmd.Context())
		if err != nil {
			return err
		}
		if zones == nil {
			zones = []*patch.Zone{}
		}

		out := cmd.OutOrStdout()
		if outputFormat != "table" {
			return formatOutput(out, zones)
		}

		ks := rt.engine.KillSwitch()
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ZONE\tNAME\tMISMATCHES\tACTIVE\tTTM\tLAST ROLLBACK\tPATCHES")
		for _, z := range zones {
			state := okFmt("enabled")
			if ks.Overridden(z.ID) {
				state = failFmt("disabled")
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%s\n",
				z.ID, z.Name, z.MismatchVolume, z.ActivePatchCount, z.CurrentTTM, formatTime(z.LastRollback), state)
		}
		return w.Flush()
	},
}
