package commands

import (
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/spf13/cobra"

	"github.com/scalaris-go/kvquery/cli/internal/config"
	"github.com/scalaris-go/kvquery/cli/internal/ui"
	cliversion "github.com/scalaris-go/kvquery/cli/internal/version"
	"github.com/scalaris-go/kvquery/store/sqlstore"
)

func newVersionCommand(a *app) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), cliversion.Get().FullString())
			if !check {
				return nil
			}
			if err := a.loadConfig(); err != nil {
				return err
			}
			return checkStoreFormat(cmd, a.cfg)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "verify the configured store format against the supported versions")
	return cmd
}

// checkStoreFormat opens the configured SQL store and reports whether its
// format version can be read by this build.
func checkStoreFormat(cmd *cobra.Command, cfg *config.Config) error {
	if cfg.Store.Driver == "memory" {
		ui.PrintInfo("memory store: nothing to check")
		return nil
	}

	st, err := sqlstore.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN, sqlstore.WithPool(cfg.Store.Pool.Sqlstore()))
	if err != nil {
		return err
	}
	defer st.Close()

	stored, err := st.FormatVersion(cmd.Context())
	if err != nil {
		return err
	}
	if err := sqlstore.CheckFormat(stored); err != nil {
		return err
	}

	current := version.Must(version.NewVersion(sqlstore.FormatVersion))
	existing := version.Must(version.NewVersion(stored))
	if existing.LessThan(current) {
		ui.PrintWarning("store format %s is older than %s written by this build", existing, current)
	}
	ui.PrintSuccess("store format %s satisfies %s", existing, sqlstore.SupportedFormats)
	return nil
}
