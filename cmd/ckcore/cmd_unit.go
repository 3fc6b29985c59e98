package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ckcore/internal/lifecycle"
)

var unitCmd = &cobra.Command{
	Use:   "unit",
	Short: "Start, stop, and inspect unit processes",
}

var unitStartCmd = &cobra.Command{
	Use:   "start [unit]",
	Short: "Start a unit: forks a detached watcher that supervises the unit's tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := lifecycle.New(workspace)
		if err != nil {
			return err
		}
		if err := mgr.Start(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("started %s\n", args[0])
		return nil
	},
}

var unitStopCmd = &cobra.Command{
	Use:   "stop [unit]",
	Short: "Stop a running unit's watcher and tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := lifecycle.New(workspace)
		if err != nil {
			return err
		}
		if err := mgr.Stop(args[0]); err != nil {
			return err
		}
		fmt.Printf("stopped %s\n", args[0])
		return nil
	},
}

var unitStatusCmd = &cobra.Command{
	Use:   "status [unit]",
	Short: "Show a unit's current run state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := lifecycle.New(workspace)
		if err != nil {
			return err
		}
		status, err := mgr.Status(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s mode=%s (kind=%s watcher_pid=%d tool_pid=%d uptime=%s)\n",
			status.Unit, status.State, status.Mode, status.Kind, status.WatcherPid, status.ToolPid, status.Uptime)
		return nil
	},
}

// unitSuperviseCmd is the hidden entrypoint a unit's detached watcher process
// re-execs itself into. It is never invoked directly by an operator; unit
// start forks exactly this subcommand.
var unitSuperviseCmd = &cobra.Command{
	Use:    "__supervise [unit]",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := lifecycle.New(workspace)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sig
			cancel()
		}()

		return mgr.Supervise(ctx, args[0])
	},
}
