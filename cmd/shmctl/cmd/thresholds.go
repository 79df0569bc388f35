package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/shm/pkg/clierror"
	"github.com/gobeyondidentity/shm/pkg/patch"
	"github.com/gobeyondidentity/shm/pkg/safety"
)

func init() {
	rootCmd.AddCommand(thresholdsCmd)
	thresholdsCmd.AddCommand(thresholdsShowCmd)
	thresholdsCmd.AddCommand(thresholdsSetCmd)

	f := thresholdsSetCmd.Flags()
	f.Int("min-vehicles", 0, "Minimum distinct vehicles")
	f.Int("min-passes", 0, "Minimum passes")
	f.Int("min-time-spread-days", 0, "Minimum days between first and last observation")
	f.Float64("min-sensor-agreement", 0, "Minimum sensor agreement, 0 to 1")
	f.String("allowed-types", "", "Comma-separated patch types that may be promoted")
	f.String("max-delta", "", "Comma-separated type=magnitude bounds, e.g. lane_geometry=3.0")
}

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "View or change safety gate thresholds",
}

var thresholdsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the thresholds in effect",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printThresholds(cmd, rt.engine.Thresholds())
	},
}

var thresholdsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change thresholds (safety, admin)",
	Long: `Change one or more thresholds. Unspecified values keep their current
setting. The change is validated, persisted, and recorded as an audit
record.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := role()
		if err != nil {
			return err
		}
		th := rt.engine.Thresholds()
		f := cmd.Flags()

		if f.Changed("min-vehicles") {
			th.MinVehicles, _ = f.GetInt("min-vehicles")
		}
		if f.Changed("min-passes") {
			th.MinPasses, _ = f.GetInt("min-passes")
		}
		if f.Changed("min-time-spread-days") {
			th.MinTimeSpreadDays, _ = f.GetInt("min-time-spread-days")
		}
		if f.Changed("min-sensor-agreement") {
			th.MinSensorAgreement, _ = f.GetFloat64("min-sensor-agreement")
		}
		if f.Changed("allowed-types") {
			s, _ := f.GetString("allowed-types")
			types, err := parseTypes(s)
			if err != nil {
				return err
			}
			th.AllowedTypes = types
		}
		if f.Changed("max-delta") {
			s, _ := f.GetString("max-delta")
			if th.MaxDelta == nil {
				th.MaxDelta = map[patch.Type]float64{}
			}
			if err := mergeMaxDelta(th.MaxDelta, s); err != nil {
				return err
			}
		}

		if err := rt.engine.SetThresholds(cmd.Context(), th, r, actor()); err != nil {
			return err
		}
		return printThresholds(cmd, rt.engine.Thresholds())
	},
}

func parseTypes(s string) ([]patch.Type, error) {
	var out []patch.Type
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := patch.ParseType(part)
		if err != nil {
			return nil, clierror.InvalidInput(err.Error())
		}
		out = append(out, t)
	}
	return out, nil
}

// mergeMaxDelta applies "type=value" pairs onto m.
func mergeMaxDelta(m map[patch.Type]float64, s string) error {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, ok := strings.Cut(part, "=")
		if !ok {
			return clierror.InvalidInput(fmt.Sprintf("--max-delta entry %q is not type=value", part))
		}
		t, err := patch.ParseType(strings.TrimSpace(name))
		if err != nil {
			return clierror.InvalidInput(err.Error())
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return clierror.InvalidInput(fmt.Sprintf("--max-delta value for %s is not a number", t))
		}
		m[t] = v
	}
	return nil
}

func printThresholds(cmd *cobra.Command, th safety.Thresholds) error {
	out := cmd.OutOrStdout()
	if outputFormat != "table" {
		return formatOutput(out, th)
	}

	types := make([]string, 0, len(th.AllowedTypes))
	for _, t := range th.AllowedTypes {
		types = append(types, string(t))
	}
	bounded := make([]string, 0, len(th.MaxDelta))
	for t := range th.MaxDelta {
		bounded = append(bounded, string(t))
	}
	sort.Strings(bounded)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Min vehicles:\t%d\n", th.MinVehicles)
	fmt.Fprintf(w, "Min passes:\t%d\n", th.MinPasses)
	fmt.Fprintf(w, "Min time spread:\t%d days\n", th.MinTimeSpreadDays)
	fmt.Fprintf(w, "Min sensor agreement:\t%.2f\n", th.MinSensorAgreement)
	fmt.Fprintf(w, "Allowed types:\t%s\n", strings.Join(types, ", "))
	for _, t := range bounded {
		fmt.Fprintf(w, "Max delta %s:\t%.2f\n", t, th.MaxDelta[patch.Type(t)])
	}
	return w.Flush()
}
