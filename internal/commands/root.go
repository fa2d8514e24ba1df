// Package commands wires the hive CLI: serve runs the coordination hub,
// status and migrate are local data-dir maintenance.
package commands

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dotcommander/hive/internal/app"
	"github.com/dotcommander/hive/internal/output"
)

// Execute runs the CLI application.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "hive",
		Short:         "Coordination hub for a fleet of agents (tasks, zones, claims, handoffs, locks)",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.EnsureConfigDir(); err != nil {
				return err
			}
			// Wire --data-dir into the app-level resolver.
			if dataDir, err := cmd.Flags().GetString("data-dir"); err == nil && dataDir != "" {
				app.SetDataDirOverride(dataDir)
			}
			return nil
		},
	}

	root.PersistentFlags().String("data-dir", "", "Override data directory (default: $HIVE_DATA_DIR)")
	root.PersistentFlags().SetNormalizeFunc(normalizeFlagName)
	root.Flags().BoolP("version", "v", false, "version for hive")

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewMigrateCmd())

	err := root.Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			slog.Error("command failed", "error", err.Error())
		}
	}
	return err
}

// normalizeFlagName lets agent callers pass snake_case flag names.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

type printedError struct {
	err error
}

func (e printedError) Error() string {
	// Intentionally hide the original error: the JSON error response is the output.
	return "error already printed"
}

// cmdErr logs and prints the error once, then returns a sentinel so the
// root handler does not log it a second time.
func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	slog.Error("command error", "error", err.Error())
	_ = output.PrintError(err)
	return printedError{err: err}
}
