package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ckcore/internal/ckdl"
	"ckcore/internal/ontology"
	"ckcore/internal/workflow"
)

var ckdlCmd = &cobra.Command{
	Use:   "ckdl",
	Short: "Parse and validate Concept Kernel Definition Language files",
}

var ckdlValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Parse a CKDL file, check for notification cycles, and report warnings/errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		doc, err := ckdl.Parse(string(data))
		if err != nil {
			return err
		}
		fmt.Printf("parsed %d extern(s), %d kernel(s), %d edge(s)\n", len(doc.Externs), len(doc.Kernels), len(doc.Edges))

		var store *ontology.Store
		if conceptsRoot := filepath.Join(workspace, "concepts"); dirExists(conceptsRoot) {
			store, err = ontology.LoadProject(conceptsRoot)
			if err != nil {
				return err
			}
		}

		result, err := workflow.Validate(doc, store)
		if err != nil {
			return err
		}

		for _, w := range result.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		for _, e := range result.Errors {
			fmt.Printf("error: %s\n", e)
		}
		if !result.IsValid {
			return fmt.Errorf("validation failed with %d error(s)", len(result.Errors))
		}
		fmt.Println("valid")
		return nil
	},
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
