package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scalaris-go/kvquery/cli/internal/ui"
	"github.com/scalaris-go/kvquery/store"
)

func newLoadCommand(a *app) *cobra.Command {
	var class string
	cmd := &cobra.Command{
		Use:   "load <file.json>",
		Short: "Load a JSON array of objects into the store",
		Long:  "Store every object of a JSON array as an instance of --class, keyed by the identity fields of the class.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			meta, err := a.classes.Lookup(class)
			if err != nil {
				return fmt.Errorf("%w (declare it under classes: in the config file)", err)
			}
			records, err := readRecords(args[0])
			if err != nil {
				return err
			}
			if a.cfg.Store.Driver == "memory" {
				ui.PrintWarning("the memory store does not persist; records are lost when kvquery exits")
			}

			conn, err := a.store.Acquire(ctx)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, conn.Release())
			}()

			spinner, _ := ui.PrintSpinner(fmt.Sprintf("Loading %d %s records", len(records), meta.Name))
			for i, rec := range records {
				key, err := meta.Identity(rec)
				if err != nil {
					if spinner != nil {
						spinner.Fail(err.Error())
					}
					return fmt.Errorf("record %d: %w", i, err)
				}
				if err := conn.Put(ctx, meta.Name, key, store.Record(rec)); err != nil {
					if spinner != nil {
						spinner.Fail(err.Error())
					}
					return fmt.Errorf("record %d: %w", i, err)
				}
			}
			if spinner != nil {
				spinner.Success(fmt.Sprintf("Loaded %d %s records", len(records), meta.Name))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "candidate class of the records")
	_ = cmd.MarkFlagRequired("class")
	return cmd
}
