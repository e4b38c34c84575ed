// Package cmd implements the coordinator CLI, in the shape of the
// teacher's cli/ubft/cmd package: a root cobra.Command, flag mixins shared
// across subcommands, and a New() constructor the process entry point
// drives with a cancellable context.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

type baseFlags struct {
	LogLevel string
}

func (f *baseFlags) addBaseFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// New builds the coordinator command tree.
func New() *cobra.Command {
	base := &baseFlags{}
	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Cluster-aware conversation assignment coordinator",
		Long: `coordinator runs one node of the assignment coordination fabric:
single-decree consensus over (thread, handler) bindings, heartbeat failure
detection, and best-effort replication of the resulting assignment state.`,
		SilenceUsage: true,
	}
	base.addBaseFlags(root)
	root.AddCommand(runCmd(base))
	return root
}

// Execute builds the command tree and runs it with ctx as the cobra
// command's context, so RunE handlers observe cancellation from the
// process entry point's quit-signal context.
func Execute(ctx context.Context) error {
	return New().ExecuteContext(ctx)
}
