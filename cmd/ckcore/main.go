// Package main implements ckcore, the ConceptKernel CLI: project
// registration, unit lifecycle control, the edge router daemon, and CKDL
// validation, all operating on a filesystem-native event-sourced project
// tree under --workspace.
//
// Commands are split across per-concern files:
//   - main.go        - entry point, rootCmd, global flags
//   - cmd_project.go - project register/list/remove
//   - cmd_unit.go    - unit start/stop/status
//   - cmd_router.go  - router run
//   - cmd_ckdl.go    - ckdl validate
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ckcore/internal/logging"
)

var (
	verbose   bool
	workspace string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ckcore",
	Short: "ConceptKernel - filesystem-native event-sourcing project core",
	Long: `ckcore manages ConceptKernel projects: units of work laid out as
directories on disk, wired together by an edge router that watches for new
evidence instances and routes them according to each unit's ontology.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		} else if abs, err := filepath.Abs(ws); err == nil {
			ws = abs
		}
		workspace = ws

		if err := logging.Initialize(workspace); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "project directory (default: current directory)")

	projectCmd.AddCommand(projectRegisterCmd, projectListCmd, projectRemoveCmd)
	unitCmd.AddCommand(unitStartCmd, unitStopCmd, unitStatusCmd, unitSuperviseCmd)
	ckdlCmd.AddCommand(ckdlValidateCmd)

	rootCmd.AddCommand(projectCmd, unitCmd, routerCmd, ckdlCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
