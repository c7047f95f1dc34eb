package dig_container

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/homework/apps/api/echo"
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

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newStdLogger(conf *core.Config, prefix string) core.Logger {
	std := log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	if conf.RollbarToken == "" {
		return logsvc.NewConsoleLogger(std, conf.Debug)
	}
	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newLogger(conf *core.Config) core.Logger {
	return newStdLogger(conf, "SESSION : ")
}

func newDBLogger(conf *core.Config) core.Logger {
	return newStdLogger(conf, "DB : ")
}

// newDB returns nil when no self-hosted database is configured.
func newDB(conf *core.Config, loggerParam DBLoggerParam) *sql.DB {
	if !conf.Database.IsConfigured() || !conf.Identity.Local() {
		return nil
	}

	setUp := func() (*sql.DB, error) {
		if conf.Database.AdminUser != "" {
			if err := database.CreateIfNotExist(conf.Database); err != nil {
				return nil, err
			}
		}

		db, err := database.Open(conf.Database)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db, "up"); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

// newIdentityClient picks the in-process service for `local://` URLs and the hosted one otherwise.
func newIdentityClient(conf *core.Config, logger core.Logger) identity.Client {
	if conf.Identity.Local() {
		return localidentity.NewService(conf.SecretKey)
	}
	return supabase.NewClient(conf.Identity, logger)
}

// newProfileRepository keeps profiles next to the principals: in the hosted service, or locally
// in the self-hosted database (in memory when there is none).
func newProfileRepository(client identity.Client, db *sql.DB) profile.Repository {
	if c, ok := client.(*supabase.Client); ok {
		return supabase.NewProfileRepository(c)
	}
	if db != nil {
		return sqlxrepos.NewProfileRepository(db)
	}
	return inmemdb.NewProfileRepository()
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	profile.InitValidators(validate, translator)
	return validate
}

func newBootstrapper(
	conf *core.Config,
	client identity.Client,
	profiles profile.Repository,
	logger core.Logger,
	validate *validator.Validate,
	translator ut.Translator,
) *session.Bootstrapper {
	return session.NewBootstrapper(conf.Identity, client, profiles, logger, session.WithValidator(validate, translator))
}

func newWatchdog(conf *core.Config, boot *session.Bootstrapper, logger core.Logger) *session.Watchdog {
	return session.NewWatchdog(boot, conf.Identity.FallbackDelay, nil, func(st session.State) {
		logger.Warn(fmt.Sprintf("still %s after %s: reload or force the login", st.Status(), conf.Identity.FallbackDelay))
	})
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	boot *session.Bootstrapper,
	watchdog *session.Watchdog,
	validate *validator.Validate,
	translator ut.Translator,
) *echoapi.Server {
	return echoapi.NewServer(
		echoapi.Options{
			Address:  conf.Server.Address(),
			AppName:  conf.AppName,
			Debug:    conf.Debug,
			TestMode: conf.TestMode,
		},
		echoapi.Deps{
			Logger:     logger,
			Session:    boot,
			Watchdog:   watchdog,
			Validate:   validate,
			Translator: translator,
		},
	)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newIdentityClient))
	must(c.Provide(newProfileRepository))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newBootstrapper))
	must(c.Provide(newWatchdog))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
