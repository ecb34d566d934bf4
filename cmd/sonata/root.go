package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/llehouerou/sonata/internal/config"
	"github.com/llehouerou/sonata/internal/library"
)

// libraryEnvVar overrides the library root when no --library flag is
// given.
const libraryEnvVar = "SONATA_LIBRARY"

type commandContext struct {
	libraryFlag *string
	cfg         *config.Config
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

// resolveRoot locates the library root: the --library flag, then the
// environment, then the configured default, then an upward search from
// the working directory.
func (c *commandContext) resolveRoot() (string, error) {
	if *c.libraryFlag != "" {
		return *c.libraryFlag, nil
	}
	if env := os.Getenv(libraryEnvVar); env != "" {
		return env, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	if cfg.DefaultLibrary != "" {
		return cfg.DefaultLibrary, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	path, err := library.Find(cwd)
	if err != nil {
		return "", err
	}
	return filepath.Dir(path), nil
}

func newRootCommand() *cobra.Command {
	var libraryFlag string

	ctx := &commandContext{libraryFlag: &libraryFlag}

	rootCmd := &cobra.Command{
		Use:           "sonata",
		Short:         "Declarative music library metadata store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			// stdout carries response documents; diagnostics go to stderr.
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: cfg.Level(),
			})))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&libraryFlag, "library", "l", "", "Path to the library root")

	rootCmd.AddCommand(newQueryCommand(ctx))
	rootCmd.AddCommand(newInitCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
