package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/shm/pkg/lifecycle"
	"github.com/gobeyondidentity/shm/pkg/patch"
	"github.com/gobeyondidentity/shm/pkg/timeutil"
)

func init() {
	rootCmd.AddCommand(patchCmd)
	patchCmd.AddCommand(patchListCmd)
	patchCmd.AddCommand(patchShowCmd)
	patchCmd.AddCommand(patchDraftCmd)
	patchCmd.AddCommand(patchPromoteCmd)
	patchCmd.AddCommand(patchRollbackCmd)
	patchCmd.AddCommand(patchExpireCmd)
	patchCmd.AddCommand(patchExpireDueCmd)
	patchCmd.AddCommand(patchBlockCmd)
	patchCmd.AddCommand(patchApproveCmd)
	patchCmd.AddCommand(patchNoteCmd)
	patchCmd.AddCommand(patchRequestEvidenceCmd)

	patchListCmd.Flags().String("stage", "", "Only list patches in this stage")
	patchListCmd.Flags().Int("zone", 0, "Only list patches in this zone")

	patchDraftCmd.Flags().String("cluster", "", "Mismatch cluster the patch corrects (required)")
	patchDraftCmd.Flags().String("id", "", "Patch ID (default: generated from the zone)")
	patchDraftCmd.Flags().Float64("radius", 0, "Geofence radius in meters")
	patchDraftCmd.Flags().String("delta-desc", "", "Human-readable description of the change")
	patchDraftCmd.Flags().Float64("delta", 0, "Change magnitude in the patch type's unit")
	patchDraftCmd.Flags().Float64("sensor-agreement", 0, "Cross-sensor agreement of the cluster's observations, 0 to 1")
	_ = patchDraftCmd.MarkFlagRequired("cluster")

	patchRollbackCmd.Flags().String("reason", "", "Reason recorded in the audit trail (default: \""+lifecycle.DefaultRollbackReason+"\")")
	patchBlockCmd.Flags().String("reason", "", "Reason for the hold")
	patchApproveCmd.Flags().String("reason", "", "Approval note")
	patchExpireCmd.Flags().String("at", "", "Evaluate expiry at this RFC 3339 time instead of now")
	patchExpireDueCmd.Flags().String("at", "", "Evaluate expiry at this RFC 3339 time instead of now")
}

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Inspect and move map patches through their lifecycle",
}

// patchView adds the kill-switch-adjusted values to a patch.
type patchView struct {
	patch.Patch           `yaml:",inline"`
	EffectiveStage        patch.Stage `json:"effective_stage" yaml:"effective_stage"`
	EffectiveFleetPercent int         `json:"effective_fleet_percent" yaml:"effective_fleet_percent"`
}

func newPatchView(p *patch.Patch) patchView {
	v := patchView{Patch: *p, EffectiveStage: p.Stage, EffectiveFleetPercent: p.FleetPercent}
	if rt.engine.KillSwitch().Overridden(p.Zone) {
		v.EffectiveStage = patch.StageRolledBack
		v.EffectiveFleetPercent = 0
	}
	return v
}

var patchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List patches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var f patch.Filter
		if s, _ := cmd.Flags().GetString("stage"); s != "" {
			st, err := parseStage(s)
			if err != nil {
				return err
			}
			f.Stage = st
		}
		f.Zone, _ = cmd.Flags().GetInt("zone")

		patches, err := rt.engine.ListPatches(cmd.Context(), f)
		if err != nil {
			return err
		}
		views := make([]patchView, 0, len(patches))
		for _, p := range patches {
			views = append(views, newPatchView(p))
		}

		out := cmd.OutOrStdout()
		if outputFormat != "table" {
			return formatOutput(out, views)
		}
		if len(views) == 0 {
			fmt.Fprintln(out, "No patches found. Use 'shmctl seed' to load demo data.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		now := time.Now()
		fmt.Fprintln(w, "ID\tTYPE\tZONE\tSTAGE\tEFFECTIVE\tFLEET\tEXPIRES\tHOLD")
		for _, v := range views {
			hold := ""
			if v.Blocked {
				hold = warnFmt("blocked")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d%%\t%s\t%s\n",
				v.ID, v.Type, v.Zone, stageLabel(v.Stage), stageLabel(v.EffectiveStage),
				v.EffectiveFleetPercent, timeutil.RelativeTo(v.ExpiresAt, now), hold)
		}
		return w.Flush()
	},
}

var patchShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a patch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := rt.engine.Patch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		v := newPatchView(p)

		out := cmd.OutOrStdout()
		if outputFormat != "table" {
			return formatOutput(out, v)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID:\t%s\n", v.ID)
		fmt.Fprintf(w, "Cluster:\t%s\n", v.ClusterID)
		fmt.Fprintf(w, "Type:\t%s\n", v.Type)
		fmt.Fprintf(w, "Zone:\t%d\n", v.Zone)
		fmt.Fprintf(w, "Location:\t%s (%.4f, %.4f) r=%.0fm\n", v.LocationLabel, v.Lat, v.Lng, v.GeoFenceRadiusM)
		fmt.Fprintf(w, "Change:\t%s (%.2f)\n", v.GeometryDelta.Description, v.GeometryDelta.Magnitude)
		fmt.Fprintf(w, "Stage:\t%s\n", stageLabel(v.Stage))
		if v.EffectiveStage != v.Stage {
			fmt.Fprintf(w, "Effective:\t%s (kill switch)\n", stageLabel(v.EffectiveStage))
		}
		fmt.Fprintf(w, "Fleet:\t%d%%\n", v.EffectiveFleetPercent)
		fmt.Fprintf(w, "Distributed:\t%s\n", formatTime(v.DistributedAt))
		fmt.Fprintf(w, "Expires:\t%s, %s (%d day TTL)\n", v.ExpiresAt.Format(time.RFC3339), timeutil.Relative(v.ExpiresAt), v.TTLDays)
		if v.Blocked {
			fmt.Fprintf(w, "Hold:\t%s\n", warnFmt(v.BlockReason))
		}
		fmt.Fprintf(w, "Evidence:\t%d vehicles, %d passes, %d days, %.0f%% agreement, confidence %d\n",
			v.Evidence.Vehicles, v.Evidence.Passes, v.Evidence.TimeSpreadDays,
			v.Evidence.SensorAgreement*100, v.Evidence.Confidence)
		fmt.Fprintf(w, "Triggers:\t%d configured\n", len(v.RollbackTriggers))
		fmt.Fprintf(w, "Audit events:\t%d\n", len(v.AuditLog))
		return w.Flush()
	},
}

var patchDraftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Create a Candidate patch from a mismatch cluster",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := role()
		if err != nil {
			return err
		}
		req := lifecycle.DraftRequest{}
		req.ClusterID, _ = cmd.Flags().GetString("cluster")
		req.ID, _ = cmd.Flags().GetString("id")
		req.GeoFenceRadiusM, _ = cmd.Flags().GetFloat64("radius")
		req.GeometryDelta.Description, _ = cmd.Flags().GetString("delta-desc")
		req.GeometryDelta.Magnitude, _ = cmd.Flags().GetFloat64("delta")
		req.SensorAgreement, _ = cmd.Flags().GetFloat64("sensor-agreement")

		p, err := rt.engine.CreateDraft(cmd.Context(), req, r, actor())
		if err != nil {
			return err
		}
		return reportPatch(cmd, p, fmt.Sprintf("Created %s in %s from %s", p.ID, p.Stage.Title(), p.ClusterID))
	},
}

var patchPromoteCmd = &cobra.Command{
	Use:   "promote <id> <stage>",
	Short: "Promote a patch to its next stage",
	Long: `Promote a patch one step along Candidate -> Shadow -> Silent -> Active.

Promotion to a gated stage (Silent and Active by default) requires every
safety gate to pass; see 'shmctl gates <id>'.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := role()
		if err != nil {
			return err
		}
		target, err := parseStage(args[1])
		if err != nil {
			return err
		}
		p, err := rt.engine.Promote(cmd.Context(), args[0], target, r, actor())
		if err != nil {
			return err
		}
		return reportPatch(cmd, p, fmt.Sprintf("%s promoted to %s (%d%% of fleet)", p.ID, p.Stage.Title(), p.FleetPercent))
	},
}

var patchRollbackCmd = &cobra.Command{
	Use:   "rollback <id>",
	Short: "Roll a patch back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := role()
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		p, err := rt.engine.Rollback(cmd.Context(), args[0], reason, r, actor())
		if err != nil {
			return err
		}
		return reportPatch(cmd, p, fmt.Sprintf("%s rolled back: %s", p.ID, lastReason(p)))
	},
}

var patchExpireCmd = &cobra.Command{
	Use:   "expire <id>",
	Short: "Expire an Active patch whose TTL has elapsed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("at")
		now, err := parseAt(at)
		if err != nil {
			return err
		}
		p, err := rt.engine.Expire(cmd.Context(), args[0], now)
		if err != nil {
			return err
		}
		return reportPatch(cmd, p, fmt.Sprintf("%s expired", p.ID))
	},
}

var patchExpireDueCmd = &cobra.Command{
	Use:   "expire-due",
	Short: "Expire every Active patch whose TTL has elapsed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("at")
		now, err := parseAt(at)
		if err != nil {
			return err
		}
		ids, err := rt.engine.ExpireDue(cmd.Context(), now)
		if err != nil {
			return err
		}
		if ids == nil {
			ids = []string{}
		}

		out := cmd.OutOrStdout()
		if outputFormat != "table" {
			return formatOutput(out, map[string][]string{"expired": ids})
		}
		if len(ids) == 0 {
			fmt.Fprintln(out, "No patches due for expiry.")
			return nil
		}
		fmt.Fprintf(out, "Expired %d patch(es): %s\n", len(ids), strings.Join(ids, ", "))
		return nil
	},
}

var patchBlockCmd = &cobra.Command{
	Use:   "block <id>",
	Short: "Place a hold on a patch so it cannot be promoted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := role()
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		p, err := rt.engine.Block(cmd.Context(), args[0], reason, r, actor())
		if err != nil {
			return err
		}
		return reportPatch(cmd, p, fmt.Sprintf("%s blocked: %s", p.ID, p.BlockReason))
	},
}

var patchApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Record a safety approval and clear any hold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := role()
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		p, err := rt.engine.Approve(cmd.Context(), args[0], reason, r, actor())
		if err != nil {
			return err
		}
		return reportPatch(cmd, p, fmt.Sprintf("%s approved", p.ID))
	},
}

var patchNoteCmd = &cobra.Command{
	Use:   "note <id> <text>...",
	Short: "Attach a safety note to a patch",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := role()
		if err != nil {
			return err
		}
		p, err := rt.engine.AddSafetyNote(cmd.Context(), args[0], strings.Join(args[1:], " "), r, actor())
		if err != nil {
			return err
		}
		return reportPatch(cmd, p, fmt.Sprintf("Note added to %s", p.ID))
	},
}

var patchRequestEvidenceCmd = &cobra.Command{
	Use:   "request-evidence <id> <reason>...",
	Short: "Ask for more evidence before a patch moves on",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := role()
		if err != nil {
			return err
		}
		p, err := rt.engine.RequestEvidence(cmd.Context(), args[0], strings.Join(args[1:], " "), r, actor())
		if err != nil {
			return err
		}
		return reportPatch(cmd, p, fmt.Sprintf("Evidence requested for %s", p.ID))
	},
}

// reportPatch prints the patch for json/yaml output, or msg plus the newest
// audit event id for tables.
func reportPatch(cmd *cobra.Command, p *patch.Patch, msg string) error {
	out := cmd.OutOrStdout()
	if outputFormat != "table" {
		return formatOutput(out, newPatchView(p))
	}
	if n := len(p.AuditLog); n > 0 {
		msg += " " + dimFmt("["+p.AuditLog[n-1].ID+"]")
	}
	fmt.Fprintln(out, msg)
	return nil
}

func lastReason(p *patch.Patch) string {
	if n := len(p.AuditLog); n > 0 {
		return p.AuditLog[n-1].Reason
	}
	return ""
}
