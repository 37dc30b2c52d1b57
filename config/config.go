// Package config loads passlinkd's process configuration from an optional
// .env file, an optional YAML file and the environment.
package config

import (
	stderrors "errors"
	"io/fs"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const defaultJWTSecret = "change-this-in-production"

// Config holds all configuration values
type Config struct {
	App     AppConfig     `yaml:"app"`
	DB      DBConfig      `yaml:"db"`
	Redis   RedisConfig   `yaml:"redis"`
	Session SessionConfig `yaml:"session"`
	Auth    AuthConfig    `yaml:"auth"`
	OAuth   OAuthConfig   `yaml:"oauth"`
}

type AppConfig struct {
	// URL is the public base URL links in emails point at
	URL        string `yaml:"url" env:"APP_URL" env-default:"http://localhost:8080"`
	Env        string `yaml:"env" env:"APP_ENV" env-default:"development"`
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR" env-default:":8080"`
}

// DBConfig selects the user/code/link storage backend
type DBConfig struct {
	// Driver is one of postgres, sqlite, datastore or fs
	Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"`
	DSN    string `yaml:"dsn" env:"DB_DSN" env-default:"file:passlink.db?cache=shared"`

	// DataDir is the root directory of the fs driver
	DataDir string `yaml:"data_dir" env:"DATA_DIR" env-default:"./data"`

	DatastoreProject   string `yaml:"datastore_project" env:"DATASTORE_PROJECT"`
	DatastoreNamespace string `yaml:"datastore_namespace" env:"DATASTORE_NAMESPACE"`
}

// RedisConfig enables redis-backed sessions and locks when URL is set
type RedisConfig struct {
	URL      string `yaml:"url" env:"REDIS_URL"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
}

type SessionConfig struct {
	CookieName string        `yaml:"cookie_name" env:"SESSION_COOKIE_NAME" env-default:"auth_session"`
	TTL        time.Duration `yaml:"ttl" env:"SESSION_TTL" env-default:"336h"`
	Secure     bool          `yaml:"secure" env:"SESSION_SECURE" env-default:"false"`
}

type AuthConfig struct {
	JWTSecret                string        `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"change-this-in-production"`
	VerifyCooldown           time.Duration `yaml:"verify_cooldown" env:"VERIFY_COOLDOWN" env-default:"120s"`
	MagicLinkCooldown        time.Duration `yaml:"magic_link_cooldown" env:"MAGIC_LINK_COOLDOWN" env-default:"60s"`
	RequireCodeMatch         bool          `yaml:"require_code_match" env:"REQUIRE_CODE_MATCH" env-default:"false"`
	RequireEmailVerification bool          `yaml:"require_email_verification" env:"REQUIRE_EMAIL_VERIFICATION" env-default:"false"`
}

type OAuthConfig struct {
	GithubClientID      string `yaml:"github_client_id" env:"GITHUB_CLIENT_ID"`
	GithubClientSecret  string `yaml:"github_client_secret" env:"GITHUB_CLIENT_SECRET"`
	GoogleClientID      string `yaml:"google_client_id" env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret  string `yaml:"google_client_secret" env:"GOOGLE_CLIENT_SECRET"`
	DiscordClientID     string `yaml:"discord_client_id" env:"DISCORD_CLIENT_ID"`
	DiscordClientSecret string `yaml:"discord_client_secret" env:"DISCORD_CLIENT_SECRET"`
}

// Load reads the given dotenv files (".env" when none are named; missing
// files are skipped), then the YAML file at path if set, then the
// environment. Variables already in the environment win over dotenv values.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "load %s", file)
		}
	}

	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}
	return &cfg, cfg.Validate()
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

// Validate rejects configurations that cannot run
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be set in production")
		}
		if len(c.Auth.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
	}
	switch c.DB.Driver {
	case "postgres", "sqlite":
		if c.DB.DSN == "" {
			return errors.Errorf("DB_DSN is required for the %s driver", c.DB.Driver)
		}
	case "datastore":
		if c.DB.DatastoreProject == "" {
			return errors.New("DATASTORE_PROJECT is required for the datastore driver")
		}
	case "fs":
		if c.DB.DataDir == "" {
			return errors.New("DATA_DIR is required for the fs driver")
		}
	default:
		return errors.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.Session.TTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}
