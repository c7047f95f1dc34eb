package main

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"

	"github.com/trezcool/homework/core"
	"github.com/trezcool/homework/core/identity"
	"github.com/trezcool/homework/core/profile"
	"github.com/trezcool/homework/core/session"
	localidentity "github.com/trezcool/homework/services/identity/local"
	"github.com/trezcool/homework/services/identity/supabase"
	logsvc "github.com/trezcool/homework/services/logger"
	"github.com/trezcool/homework/storage/database"
	inmemdb "github.com/trezcool/homework/storage/database/inmem"
	sqlxrepos "github.com/trezcool/homework/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stderr, "CLI : ", log.LstdFlags)

	conf, err := core.NewConfig()
	errAndDie(err)
	appLogger := logsvc.NewConsoleLogger(logger, conf.Debug)

	// the session outlives the process
	if conf.Identity.SessionFile == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			conf.Identity.SessionFile = filepath.Join(dir, "homework", "session.json")
		}
	}

	var db *sql.DB
	openDB := func() (*sql.DB, error) {
		if db == nil {
			var err error
			if db, err = database.Open(conf.Database); err != nil {
				return nil, err
			}
		}
		return db, nil
	}

	var client identity.Client
	var profiles profile.Repository
	switch {
	case conf.Identity.Local():
		client = localidentity.NewService(conf.SecretKey)
		if conf.Database.IsConfigured() {
			sqlDB, err := openDB()
			errAndDie(err)
			profiles = sqlxrepos.NewProfileRepository(sqlDB)
		} else {
			profiles = inmemdb.NewProfileRepository()
		}
	default:
		c := supabase.NewClient(conf.Identity, appLogger)
		client, profiles = c, supabase.NewProfileRepository(c)
	}

	boot := session.NewBootstrapper(conf.Identity, client, profiles, appLogger)

	// start CLI
	cli := commandLine{
		boot:    boot,
		timeout: conf.Identity.SessionTimeout + 2*conf.Identity.ProfileTimeout + conf.Identity.AuthTimeout,
		openDB:  openDB,
		out:     os.Stdout,
	}
	err = cli.run(os.Args)
	boot.Unmount()
	if err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
