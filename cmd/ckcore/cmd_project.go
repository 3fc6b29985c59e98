package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"ckcore/internal/audit"
	"ckcore/internal/registry"
	"ckcore/internal/unitconfig"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage the host-global project registry",
}

var (
	projectDomain        string
	projectVersion       string
	projectPreferredSlot int
	projectForce         bool
)

var projectRegisterCmd = &cobra.Command{
	Use:   "register [name]",
	Short: "Register the current (or --workspace) project and allocate a port slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		path, err := registry.DefaultPath()
		if err != nil {
			return err
		}
		reg, err := registry.Open(path)
		if err != nil {
			return err
		}

		entry, err := reg.Register(registry.RegisterRequest{
			Name:          name,
			Root:          workspace,
			Domain:        projectDomain,
			Version:       projectVersion,
			PreferredSlot: projectPreferredSlot,
			Force:         projectForce,
		})
		if err != nil {
			return err
		}

		manifest := unitconfig.DefaultProjectManifest(name, entry.ID)
		manifest.Spec.Domain = entry.Domain
		manifest.Spec.Version = entry.Version
		if err := manifest.Save(filepath.Join(workspace, ".ckproject")); err != nil {
			return err
		}

		auditLog, err := audit.Open(workspace)
		if err != nil {
			return err
		}
		if err := auditLog.Record("cli", audit.EventProjectRegistered, name, fmt.Sprintf("slot %d", entry.Slot)); err != nil {
			return err
		}

		fmt.Printf("registered %s (id=%s) at slot %d (root=%s, discovery_port=%d)\n",
			entry.Name, entry.ID, entry.Slot, entry.Root, entry.DiscoveryPort)
		return nil
	},
}

func init() {
	projectRegisterCmd.Flags().StringVar(&projectDomain, "domain", "", "project domain")
	projectRegisterCmd.Flags().StringVar(&projectVersion, "project-version", "v0.1.0", "project version")
	projectRegisterCmd.Flags().IntVar(&projectPreferredSlot, "slot", 0, "preferred port slot (0 = allocate lowest free)")
	projectRegisterCmd.Flags().BoolVar(&projectForce, "force", false, "overwrite an existing registration with the same name or id")
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := registry.DefaultPath()
		if err != nil {
			return err
		}
		reg, err := registry.Open(path)
		if err != nil {
			return err
		}

		entries, err := reg.List()
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%-20s slot=%-4d root=%s\n", e.Name, e.Slot, e.Root)
		}
		return nil
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove a project's registration, freeing its port slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		path, err := registry.DefaultPath()
		if err != nil {
			return err
		}
		reg, err := registry.Open(path)
		if err != nil {
			return err
		}
		if err := reg.Remove(name); err != nil {
			return err
		}

		auditLog, err := audit.Open(workspace)
		if err != nil {
			return err
		}
		if err := auditLog.Record("cli", audit.EventProjectRemoved, name, ""); err != nil {
			return err
		}

		fmt.Printf("removed %s\n", name)
		return nil
	},
}
