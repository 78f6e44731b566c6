// Command rewindd is the Rewind daemon: a single binary that owns the
// perception buffer, the LLM-backed extraction pipeline (C1-C9), the
// embedded SQLite store, and the chat service, all behind a small cobra
// command surface (run, migrate, version).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rewindd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rewindd",
		Short:         "Rewind daemon - local screen memory, recall, and chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (defaults to $REWIND_DATA_DIR/config.toml or ~/.local/share/rewind/config.toml)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newVersionCmd())
	return root
}
