package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/llehouerou/sonata/internal/engine"
	"github.com/llehouerou/sonata/internal/tags"
)

func newQueryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [document]",
		Short: "Run a query document against the library",
		Long: `Run a JSON query document against the library and print the response
document on stdout. The document is given as an argument, read from a
file with @path, or read from stdin when the argument is - or absent.

Query-level failures are reported inside the response document; the
exit code is non-zero only for internal errors.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readDocument(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			root, err := ctx.resolveRoot()
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			wait, err := cfg.LockWait()
			if err != nil {
				return err
			}

			e := engine.New(root, tags.NewFS(), engine.WithLockTimeout(wait))
			resp := e.Execute(cmd.Context(), raw)

			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return fmt.Errorf("encode response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	return cmd
}

// readDocument resolves the query argument: a literal document, an @file
// reference, or stdin.
func readDocument(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read query from stdin: %w", err)
		}
		return raw, nil
	}
	if strings.HasPrefix(args[0], "@") {
		raw, err := os.ReadFile(args[0][1:])
		if err != nil {
			return nil, fmt.Errorf("read query file: %w", err)
		}
		return raw, nil
	}
	return []byte(args[0]), nil
}
