// Package config resolves connection settings for schemactl.
//
// Values are layered: an optional .env file is loaded first (existing
// environment variables win), the environment is parsed into Config, and
// the command line overrides individual fields afterwards.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"

	TransportSQL  = "sql"
	TransportREST = "rest"
)

// Config holds everything needed to reach the target database and API.
type Config struct {
	DatabaseURL    string `env:"DATABASE_URL"`
	Host           string `env:"PGHOST"`
	Port           int    `env:"PGPORT" envDefault:"5432"`
	Name           string `env:"PGDATABASE" envDefault:"postgres"`
	User           string `env:"PGUSER" envDefault:"postgres"`
	Password       string `env:"PGPASSWORD"`
	SSLMode        string `env:"PGSSLMODE" envDefault:"require"`
	ConnectTimeout int    `env:"PGCONNECT_TIMEOUT" envDefault:"10"`
	Driver         string `env:"SCHEMACTL_DRIVER" envDefault:"postgres"`

	APIURL         string `env:"SUPABASE_URL"`
	ServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`

	JournalPath string `env:"SCHEMACTL_JOURNAL" envDefault:"schemactl.db"`
	LogLevel    string `env:"SCHEMACTL_LOG_LEVEL" envDefault:"info"`
}

// Load reads envFile (if it exists) into the process environment and then
// parses the environment. An empty envFile skips the dotenv step.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DSN returns the connection string. DatabaseURL wins when set; otherwise a
// postgres:// URL is assembled from the discrete fields.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.Host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(c.ConnectTimeout))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Timeout is the connect timeout as a duration.
func (c Config) Timeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ConnectTimeout) * time.Second
}

// Validate checks that the settings needed by transport are present.
func (c Config) Validate(transport string) error {
	switch c.Driver {
	case DriverPQ, DriverPGX:
	default:
		return fmt.Errorf("unsupported driver %q (want %q or %q)", c.Driver, DriverPQ, DriverPGX)
	}

	switch transport {
	case TransportSQL:
		if c.DSN() == "" {
			return errors.New("database connection required (set DATABASE_URL or PGHOST)")
		}
	case TransportREST:
		if c.APIURL == "" {
			return errors.New("SUPABASE_URL required for the REST transport")
		}
		if c.ServiceRoleKey == "" {
			return errors.New("SUPABASE_SERVICE_ROLE_KEY required for the REST transport")
		}
		if _, err := url.ParseRequestURI(c.APIURL); err != nil {
			return fmt.Errorf("invalid SUPABASE_URL: %w", err)
		}
	default:
		return fmt.Errorf("unsupported transport %q (want %q or %q)", transport, TransportSQL, TransportREST)
	}
	return nil
}

// Redact hides the password in a connection string so it can be logged.
// Key/value DSNs ("host=... password=...") are handled as well as URLs.
func Redact(dsn string) string {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "<unparseable dsn>"
		}
		return u.Redacted()
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if k, _, ok := strings.Cut(f, "="); ok && strings.EqualFold(k, "password") {
			fields[i] = k + "=xxxxx"
		}
	}
	return strings.Join(fields, " ")
}
