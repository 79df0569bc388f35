// Package cmd implements the shmctl CLI commands.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gobeyondidentity/shm/internal/version"
	"github.com/gobeyondidentity/shm/pkg/authz"
	"github.com/gobeyondidentity/shm/pkg/clierror"
)

var (
	// Global flags
	outputFormat string
	dbPath       string
	configPath   string
	roleName     string
	actorName    string

	// Shared runtime, opened before each command that needs it
	rt *runtime
)

// skipRuntime lists commands that run without a database.
var skipRuntime = map[string]bool{
	"completion":       true,
	"help":             true,
	"version":          true,
	"__complete":       true,
	"__completeNoDesc": true,
}

var rootCmd = &cobra.Command{
	Use:   "shmctl",
	Short: "Operator console for self-healing map patches",
	Long: `shmctl drives map patches through the Candidate, Shadow, Silent and
Active stages, evaluates their safety gates, and controls the kill switch.

Every mutating command is checked against the role given with --role and
recorded in the patch's audit trail.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if skipRuntime[cmd.Name()] {
			return nil
		}
		switch outputFormat {
		case "table", "json", "yaml":
		default:
			return clierror.InvalidInput(fmt.Sprintf("unknown output format %q (want table, json or yaml)", outputFormat))
		}

		// A command that failed skips PersistentPostRun; release its handles.
		if rt != nil {
			rt.close()
		}
		var err error
		rt, err = openRuntime(cmd.Context(), cmd.ErrOrStderr())
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rt != nil {
			rt.close()
			rt = nil
		}
	},
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for shmctl.

To load completions:

Bash:
  source <(shmctl completion bash)

Zsh:
  shmctl completion zsh > "${fpath[1]}/_shmctl"

Fish:
  shmctl completion fish > ~/.config/fish/completions/shmctl.fish

PowerShell:
  shmctl completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		default:
			return fmt.Errorf("unknown shell: %s", args[0])
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the shmctl version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Full("shmctl"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: ~/.local/share/shmctl/shm.db)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $SHM_CONFIG or ~/.config/shmctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&roleName, "role", os.Getenv("SHM_ROLE"), "Operator role: mapping, autonomy, safety, fleet_ops, admin")
	rootCmd.PersistentFlags().StringVar(&actorName, "actor", "", "Operator identity recorded in audit trails (default: $USER)")
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// OutputFormat reports the --output flag, for error rendering in main.
func OutputFormat() string {
	return outputFormat
}

// role parses --role. Commands that change state or read gated data call it.
func role() (authz.Role, error) {
	if roleName == "" {
		return 0, clierror.InvalidInput("--role is required for this command (or set SHM_ROLE)")
	}
	r, err := authz.ParseRole(roleName)
	if err != nil {
		var ae *authz.AuthzError
		if errors.As(err, &ae) {
			return 0, clierror.InvalidInput(ae.Message)
		}
		return 0, clierror.InvalidInput(err.Error())
	}
	return r, nil
}

// actor returns --actor, falling back to $USER.
func actor() string {
	if actorName != "" {
		return actorName
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}

// formatOutput handles output formatting based on the --output flag.
func formatOutput(w io.Writer, data interface{}) error {
	switch outputFormat {
	case "json":
		return outputJSON(w, data)
	case "yaml":
		return outputYAML(w, data)
	default:
		// Table format is handled by each command
		return nil
	}
}

func outputJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(w io.Writer, data interface{}) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
