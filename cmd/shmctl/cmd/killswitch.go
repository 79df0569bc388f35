package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/shm/pkg/clierror"
	"github.com/gobeyondidentity/shm/pkg/killswitch"
)

func init() {
	rootCmd.AddCommand(killswitchCmd)
	killswitchCmd.AddCommand(killswitchStatusCmd)
	killswitchCmd.AddCommand(killswitchGlobalCmd)
	killswitchCmd.AddCommand(killswitchZoneCmd)
}

var killswitchCmd = &cobra.Command{
	Use:     "killswitch",
	Aliases: []string{"ks"},
	Short:   "Emergency override of all self-healing map patches",
	Long: `The kill switch forces patches to be treated as Rolled Back with no fleet
share, globally or per zone. It never modifies stored patches: turning it
off restores every patch's recorded stage. Toggling requires the admin role.`,
}

var killswitchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show kill switch state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st := rt.engine.KillSwitch().Snapshot()
		if st.DisabledZones == nil {
			st.DisabledZones = []int{}
		}

		out := cmd.OutOrStdout()
		if outputFormat != "table" {
			return formatOutput(out, st)
		}
		printKillSwitch(cmd, st)
		return nil
	},
}

var killswitchGlobalCmd = &cobra.Command{
	Use:       "global <enable|disable>",
	Short:     "Enable or disable the whole system",
	Long:      `'disable' trips the global kill switch; 'enable' restores normal operation.`,
	ValidArgs: []string{"enable", "disable"},
	Args:      cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := role()
		if err != nil {
			return err
		}
		enable, err := parseToggle(args[0])
		if err != nil {
			return err
		}
		if err := rt.engine.SetGlobalKillSwitch(cmd.Context(), enable, r, actor()); err != nil {
			return err
		}
		return reportKillSwitch(cmd)
	},
}

var killswitchZoneCmd = &cobra.Command{
	Use:   "zone <zone-id> <enable|disable>",
	Short: "Enable or disable patches in one zone",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := role()
		if err != nil {
			return err
		}
		zone, err := strconv.Atoi(args[0])
		if err != nil {
			return clierror.InvalidInput(fmt.Sprintf("zone must be a number, got %q", args[0]))
		}
		enable, err := parseToggle(args[1])
		if err != nil {
			return err
		}
		if err := rt.engine.SetZoneKillSwitch(cmd.Context(), zone, !enable, r, actor()); err != nil {
			return err
		}
		return reportKillSwitch(cmd)
	},
}

func parseToggle(s string) (bool, error) {
	switch s {
	case "enable", "on":
		return true, nil
	case "disable", "off":
		return false, nil
	}
	return false, clierror.InvalidInput(fmt.Sprintf("expected enable or disable, got %q", s))
}

func reportKillSwitch(cmd *cobra.Command) error {
	st := rt.engine.KillSwitch().Snapshot()
	if outputFormat != "table" {
		return formatOutput(cmd.OutOrStdout(), st)
	}
	printKillSwitch(cmd, st)
	return nil
}

func printKillSwitch(cmd *cobra.Command, st killswitch.State) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if st.GlobalEnabled {
		fmt.Fprintf(w, "System:\t%s\n", okFmt("enabled"))
	} else {
		fmt.Fprintf(w, "System:\t%s\n", failFmt("DISABLED"))
	}
	if len(st.DisabledZones) == 0 {
		fmt.Fprintf(w, "Disabled zones:\t%s\n", "none")
	} else {
		fmt.Fprintf(w, "Disabled zones:\t%s\n", warnFmt(fmt.Sprint(st.DisabledZones)))
	}
	if st.UpdatedBy != "" {
		fmt.Fprintf(w, "Last change:\t%s by %s\n", formatTime(&st.UpdatedAt), st.UpdatedBy)
	}
	w.Flush()
}
