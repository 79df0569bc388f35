package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/shm/pkg/audit"
	"github.com/gobeyondidentity/shm/pkg/safety"
)

func init() {
	rootCmd.AddCommand(gatesCmd)
	rootCmd.AddCommand(auditCmd)
}

// gatesView is the checklist plus its aggregate verdict.
type gatesView struct {
	safety.Report `yaml:",inline"`
	Passed        bool     `json:"passed" yaml:"passed"`
	Failed        []string `json:"failed" yaml:"failed"`
}

var gatesCmd = &cobra.Command{
	Use:   "gates <id>",
	Short: "Evaluate a patch's safety gates",
	Long: `Evaluate the six safety gates against the patch's evidence and the
current thresholds. A patch may enter a gated stage only when every gate
passes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := rt.engine.EvaluateSafetyGates(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		v := gatesView{Report: rep, Passed: rep.Passed(), Failed: rep.Failed()}
		if v.Failed == nil {
			v.Failed = []string{}
		}

		out := cmd.OutOrStdout()
		if outputFormat != "table" {
			return formatOutput(out, v)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "GATE\tRESULT\tDETAIL")
		for _, g := range rep.Gates {
			fmt.Fprintf(w, "%s\t%s\t%s\n", g.Name, passLabel(g.Passed), g.Detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nAuto sign-off: %s\n", passLabel(rep.AutoSignOff()))
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit <id>",
	Short: "Show a patch's audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := rt.engine.AuditLog(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputFormat != "table" {
			return formatOutput(out, events)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EVENT\tACTION\tACTOR\tTIME\tREASON\tREF")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				ev.ID, ev.Action, ev.Actor, formatTime(&ev.Timestamp), ev.Reason, shortRef(ev))
		}
		return w.Flush()
	},
}

// shortRef trims a content reference to the digest prefix operators compare.
func shortRef(ev audit.Event) string {
	const keep = len("sha256:") + 12
	if ev.ArtifactRef == "" {
		return "-"
	}
	if len(ev.ArtifactRef) > keep {
		return ev.ArtifactRef[:keep]
	}
	return ev.ArtifactRef
}
