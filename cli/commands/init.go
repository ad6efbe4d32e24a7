package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scalaris-go/kvquery/cli/internal/config"
	"github.com/scalaris-go/kvquery/cli/internal/ui"
)

func newInitCommand(a *app) *cobra.Command {
	var (
		driver string
		dsn    string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default .kvquery.yaml",
		Long:  "Create a .kvquery.yaml in the working directory with the default store settings and an example class.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = config.FileName
			}
			if _, err := config.AppFs.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}

			cfg := config.Default()
			cfg.Store.Driver = driver
			cfg.Store.DSN = dsn
			cfg.Classes = []config.ClassConfig{{
				Name:     "Person",
				Fields:   []string{"name", "age", "city"},
				Identity: []string{"id"},
			}}
			if err := cfg.Validate(); err != nil {
				return err
			}

			written, err := config.Save(cfg, path)
			if err != nil {
				return err
			}
			ui.PrintSuccess("Created %s", written)
			fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
			fmt.Fprintln(cmd.OutOrStdout(), "1. Declare your classes under classes:")
			fmt.Fprintln(cmd.OutOrStdout(), "2. Run `kvquery load people.json --class Person`")
			fmt.Fprintln(cmd.OutOrStdout(), "3. Run `kvquery query \"SELECT FROM Person WHERE age > 18\"`")
			return nil
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "memory", "store driver (memory, sqlite, postgres, mysql)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "store data source name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
