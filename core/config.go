package core

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// PlaceholderSentinel marks identity settings that were never filled in.
const PlaceholderSentinel = "placeholder"

// LocalIdentityScheme selects the in-process identity service.
const LocalIdentityScheme = "local://"

type (
	// IdentityConfig holds the Identity & Data Service settings.
	// SessionTimeout, ProfileTimeout and AuthTimeout bound the calls made during bootstrap and by
	// sign in/up/out; FallbackDelay is the caller-level delay before a stalled loading screen offers
	// a way out. They are independent thresholds.
	IdentityConfig struct {
		URL            string        `mapstructure:"url"`
		AnonKey        string        `mapstructure:"anonKey"`
		SessionTimeout time.Duration `mapstructure:"sessionTimeout"`
		ProfileTimeout time.Duration `mapstructure:"profileTimeout"`
		AuthTimeout    time.Duration `mapstructure:"authTimeout"`
		FallbackDelay  time.Duration `mapstructure:"fallbackDelay"`
		SessionFile    string        `mapstructure:"sessionFile"` // empty: keep the session in memory
	}

	ServerConfig struct {
		Host            string        `mapstructure:"host"`
		Port            string        `mapstructure:"port"`
		DebugHost       string        `mapstructure:"debugHost"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	}

	DatabaseConfig struct {
		Engine        string `mapstructure:"engine"`
		Host          string `mapstructure:"host"`
		Port          string `mapstructure:"port"`
		Name          string `mapstructure:"name"`
		User          string `mapstructure:"user"`
		Password      string `mapstructure:"password"`
		AdminUser     string `mapstructure:"adminUser"`
		AdminPassword string `mapstructure:"adminPassword"`
		DisableTLS    bool   `mapstructure:"disableTLS"`
	}

	Config struct {
		Env          string         `mapstructure:"env"`
		Build        string         `mapstructure:"build"`
		Debug        bool           `mapstructure:"debug"`
		TestMode     bool           `mapstructure:"testMode"`
		AppName      string         `mapstructure:"appName"`
		SecretKey    string         `mapstructure:"secretKey"`
		WorkDir      string         `mapstructure:"workDir"`
		RollbarToken string         `mapstructure:"rollbarToken"`
		Identity     IdentityConfig `mapstructure:"identity"`
		Server       ServerConfig   `mapstructure:"server"`
		Database     DatabaseConfig `mapstructure:"database"`
	}
)

// IsConfigured reports whether the Identity Service can be reached at all.
// A missing URL or key, or one still holding the placeholder sentinel, is a degraded configuration.
func (c IdentityConfig) IsConfigured() bool {
	if c.URL == "" || c.AnonKey == "" {
		return false
	}
	return !strings.Contains(c.URL, PlaceholderSentinel) && !strings.Contains(c.AnonKey, PlaceholderSentinel)
}

// Local reports whether the in-process identity service was requested.
func (c IdentityConfig) Local() bool {
	return strings.HasPrefix(c.URL, LocalIdentityScheme)
}

func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c DatabaseConfig) IsConfigured() bool {
	return c.Host != "" && c.Name != ""
}

func setDefaults(v *viper.Viper, env string) {
	wd, _ := os.Getwd()

	v.SetTypeByDefaultValue(true)
	v.SetDefault("env", env)
	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV" || env == "TEST")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("appName", "Vibe-Coding Homework")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("workDir", wd)
	v.SetDefault("rollbarToken", "")

	// identity service
	v.SetDefault("identity.url", "")
	v.SetDefault("identity.anonKey", "")
	v.SetDefault("identity.sessionTimeout", 10*time.Second)
	v.SetDefault("identity.profileTimeout", 10*time.Second)
	v.SetDefault("identity.authTimeout", 10*time.Second)
	v.SetDefault("identity.fallbackDelay", 5*time.Second)
	v.SetDefault("identity.sessionFile", "")

	// session daemon
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.debugHost", "localhost:4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)

	// self-hosted profiles store (optional)
	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "homework")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", false)
}

// NewConfig loads the configuration of the current environment.
// ENV selects the environment: DEV (local; default), TEST, QA, PROD. Environment variables are
// prefixed with it, eg. DEV_IDENTITY_URL, and an optional `config/.env.<env>` file is loaded first.
func NewConfig() (*Config, error) {
	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	v := viper.New()
	setDefaults(v, env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(v.GetString("workDir"), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("loading %s", dotEnvPath))
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, fmt.Sprintf("checking %s", dotEnvPath))
	}

	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	conf := new(Config)
	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return conf, nil
}
