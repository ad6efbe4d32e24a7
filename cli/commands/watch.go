package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/scalaris-go/kvquery/cli/internal/config"
	"github.com/scalaris-go/kvquery/cli/internal/ui"
	"github.com/scalaris-go/kvquery/cli/internal/watch"
)

func newWatchCommand(a *app) *cobra.Command {
	opts := &runOptions{}
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <file.jdoql>",
		Short: "Re-run the query in a file whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}

			file := args[0]
			w, err := watch.NewWatcher(file, func(ctx context.Context) error {
				raw, err := afero.ReadFile(config.AppFs, file)
				if err != nil {
					return err
				}
				text := strings.TrimSpace(string(raw))
				ui.PrintHeader(file, time.Now().Format(time.TimeOnly))
				results, err := a.run(ctx, text, opts)
				if err != nil {
					return err
				}
				return printResults(cmd.OutOrStdout(), results, opts.json)
			},
				watch.WithDebounce(debounce),
				watch.WithErrorHandler(func(err error) { ui.PrintError("%v", err) }),
			)
			if err != nil {
				return err
			}
			ui.PrintInfo("watching %s, press Ctrl+C to stop", file)
			if err := w.Run(ctx); err != nil {
				return fmt.Errorf("watch %s: %w", file, err)
			}
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "delay after the last change before re-running")
	return cmd
}
