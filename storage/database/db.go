// Package database opens and migrates the self-hosted Postgres store of the profiles table.
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/trezcool/goose"

	"github.com/trezcool/homework/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// ErrUnknownCommand is returned by Migrate for commands it does not support.
var ErrUnknownCommand = errors.New("unknown migrate command")

func dsn(dbName string, admin bool, conf core.DatabaseConfig) string {
	user := url.UserPassword(conf.User, conf.Password)
	if admin && conf.AdminUser != "" {
		user = url.UserPassword(conf.AdminUser, conf.AdminPassword)
	}

	sslMode := "require"
	if conf.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   conf.Engine,
		User:     user,
		Host:     conf.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func open(dbName string, admin bool, conf core.DatabaseConfig) (*sql.DB, error) {
	return sql.Open(conf.Engine, dsn(dbName, admin, conf))
}

// Open connects to the application database and waits for it to answer.
func Open(conf core.DatabaseConfig) (*sql.DB, error) {
	if !conf.IsConfigured() {
		return nil, errors.New("database not configured")
	}
	db, err := open(conf.Name, false, conf)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = ping(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

var pingAttempts = 30

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sql.DB) error {
	var err error
	for attempts := 1; attempts <= pingAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

func exists(db *sql.DB, query string, args ...interface{}) (bool, error) {
	var found bool
	rows, err := db.Query(query, args...)
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err = rows.Scan(&found); err != nil {
			return false, err
		}
	}
	return found, rows.Err()
}

func createAppUser(db *sql.DB, conf core.DatabaseConfig) error {
	if conf.User == "" {
		return nil
	}

	found, err := exists(db, "SELECT true FROM pg_roles WHERE rolname = $1", conf.User)
	if err != nil {
		return errors.Wrap(err, "checking app user")
	}
	if !found {
		q := fmt.Sprintf("CREATE USER %s CREATEDB ENCRYPTED PASSWORD %s", pq.QuoteIdentifier(conf.User), pq.QuoteLiteral(conf.Password))
		if _, err = db.Exec(q); err != nil {
			return errors.Wrap(err, "creating app user")
		}
	}
	return nil
}

func createDB(db *sql.DB, conf core.DatabaseConfig) error {
	found, err := exists(db, "SELECT true FROM pg_database WHERE datname = $1", conf.Name)
	if err != nil {
		return errors.Wrap(err, "checking DB")
	}
	if !found {
		if _, err = db.Exec("CREATE DATABASE " + pq.QuoteIdentifier(conf.Name)); err != nil {
			return errors.Wrap(err, "creating database")
		}
	}
	return nil
}

// CreateIfNotExist creates the application role (as the admin user) and database (as the application role).
func CreateIfNotExist(conf core.DatabaseConfig) error {
	admin, err := open("postgres", true, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = admin.Close() }()
	if err = ping(admin); err != nil {
		return errors.Wrap(err, "pinging database")
	}
	if err = createAppUser(admin, conf); err != nil {
		return err
	}

	db, err := open("postgres", false, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = db.Close() }()
	return createDB(db, conf)
}

type migrateFunc func(db *sql.DB, args []string) error

var migrateFuncs = map[string]migrateFunc{
	"up": func(db *sql.DB, _ []string) error {
		return goose.Up(db, migrationsFS, migrationsDir)
	},
	"up-by-one": func(db *sql.DB, _ []string) error {
		return goose.UpByOne(db, migrationsFS, migrationsDir)
	},
	"up-to": func(db *sql.DB, args []string) error {
		version, err := versionArg(args)
		if err != nil {
			return err
		}
		return goose.UpTo(db, migrationsFS, migrationsDir, version)
	},
	"down": func(db *sql.DB, _ []string) error {
		return goose.Down(db, migrationsFS, migrationsDir)
	},
	"down-to": func(db *sql.DB, args []string) error {
		version, err := versionArg(args)
		if err != nil {
			return err
		}
		return goose.DownTo(db, migrationsFS, migrationsDir, version)
	},
	"redo": func(db *sql.DB, _ []string) error {
		return goose.Redo(db, migrationsFS, migrationsDir)
	},
}

func versionArg(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, errors.New("missing version argument")
	}
	version, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid version %q", args[0])
	}
	return version, nil
}

// MigrateCommands lists the commands Migrate accepts.
func MigrateCommands() []string {
	return []string{"up", "up-by-one", "up-to VERSION", "down", "down-to VERSION", "redo"}
}

// Migrate runs a goose command against the embedded migrations.
func Migrate(db *sql.DB, command string, args ...string) error {
	fn, ok := migrateFuncs[command]
	if !ok {
		return errors.Wrap(ErrUnknownCommand, command)
	}
	if err := fn(db, args); err != nil {
		return errors.Wrapf(err, "migrating database (%s)", command)
	}
	return nil
}
