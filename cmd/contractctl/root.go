package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "contractctl",
		Short:         "Operator tools for the contract lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newTokenCmd(), newMigrateCmd(), newRunCmd())
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
