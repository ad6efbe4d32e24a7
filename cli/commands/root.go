// Package commands implements the kvquery command line.
package commands

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/scalaris-go/kvquery/cli/internal/ui"
	"github.com/scalaris-go/kvquery/cli/internal/version"
)

// Execute runs the command line and reports any error on stderr.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{}
	err := newRootCommand(a).ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		ui.PrintError("%v", err)
	}
	return err
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "kvquery",
		Short:         "Run JDOQL-style queries against a key/value store",
		Long:          "kvquery compiles and executes JDOQL-style queries against the configured key/value store.",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: .kvquery.yaml in ., $HOME or $HOME/.config/kvquery)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newInitCommand(a),
		newLoadCommand(a),
		newQueryCommand(a),
		newExplainCommand(a),
		newWatchCommand(a),
		newShellCommand(a),
		newVersionCommand(a),
	)
	return root
}
