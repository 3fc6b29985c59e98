package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"ckcore/internal/ontology"
	"ckcore/internal/router"
)

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Run the edge router daemon",
}

var routerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the edge router daemon in the foreground until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := ontology.LoadProject(filepath.Join(workspace, "concepts"))
		if err != nil {
			return err
		}

		daemon, err := router.New(workspace, store)
		if err != nil {
			return err
		}
		daemon.Verbose = verbose

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sig
			cancel()
		}()

		if err := daemon.Start(ctx); err != nil {
			return err
		}
		fmt.Println("edge router running, press Ctrl+C to stop")
		<-ctx.Done()
		daemon.Stop()
		return nil
	},
}

func init() {
	routerCmd.AddCommand(routerRunCmd)
}
