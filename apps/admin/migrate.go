package main

import (
	"github.com/spf13/cobra"

	"github.com/trezcool/roomly/storage/database"
)

var gooseRunFunc = database.RunMigrations // mockable

func (cli *commandLine) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run a goose migration command (up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cli.usage(cmd, nil)
			}
			return gooseRunFunc(cli.db, args[0], args[1:]...)
		},
	}
}
