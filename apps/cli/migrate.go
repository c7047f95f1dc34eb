package main

import (
	"github.com/pkg/errors"

	"github.com/trezcool/homework/storage/database"
)

var (
	migrateFunc     = database.Migrate // mockable
	migrateCommands = database.MigrateCommands
)

func (cli *commandLine) migrate(args []string) error {
	db, err := cli.openDB()
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = db.Close() }()
	return migrateFunc(db, args[0], args[1:]...)
}
