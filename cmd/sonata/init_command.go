package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/llehouerou/sonata/internal/library"
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a new library",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			} else if *ctx.libraryFlag != "" {
				root = *ctx.libraryFlag
			}

			path := filepath.Join(root, library.Filename)
			if _, err := os.Lstat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.MkdirAll(root, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
				return err
			}
			if err := library.EnsureWorkDir(root); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized empty library in %s\n", root)
			return nil
		},
	}
	return cmd
}
