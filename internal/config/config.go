package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "KORE"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = "sqlite"
	defaultDatabasePath   = "kore.db"
	defaultMaxOpenConns   = 10
	defaultLogLevel       = "info"
	defaultCookieName     = "app_session"
	defaultIssuer         = "tauth"
	defaultStorageBackend = "local"
	defaultLocalRoot      = "kore-blobs"
	defaultPublicBaseURL  = "http://localhost:8080"
	defaultSignedURLTTL   = 900
	defaultFetchTimeout   = 10
	defaultFetchAttempts  = 3
)

const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
	StorageBackendLocal    = "local"
	StorageBackendGCS      = "gcs"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string

	DatabaseDriver       string
	DatabasePath         string
	DatabaseDSN          string
	DatabaseMaxOpenConns int

	LogLevel string

	TAuthSigningKey string
	TAuthCookieName string
	TAuthIssuer     string

	StorageBackend       string
	StorageLocalRoot     string
	StoragePublicBaseURL string
	StorageURLSecret     string
	GCSBucket            string
	GCSCredentialsFile   string
	SignedURLTTL         time.Duration

	ExportFetchTimeout  time.Duration
	ExportFetchAttempts uint
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultIssuer)
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.local_root", defaultLocalRoot)
	configViper.SetDefault("storage.public_base_url", defaultPublicBaseURL)
	configViper.SetDefault("storage.signed_url_ttl_seconds", defaultSignedURLTTL)
	configViper.SetDefault("export.fetch_timeout_seconds", defaultFetchTimeout)
	configViper.SetDefault("export.fetch_attempts", defaultFetchAttempts)
}

// Load parses runtime configuration from viper. storage.url_secret falls back to the TAuth secret.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:         configViper.GetString("database.path"),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		DatabaseMaxOpenConns: configViper.GetInt("database.max_open_conns"),
		LogLevel:             configViper.GetString("log.level"),
		TAuthSigningKey:      configViper.GetString("tauth.signing_secret"),
		TAuthCookieName:      configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:          configViper.GetString("tauth.issuer"),
		StorageBackend:       strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
		StorageLocalRoot:     configViper.GetString("storage.local_root"),
		StoragePublicBaseURL: configViper.GetString("storage.public_base_url"),
		StorageURLSecret:     configViper.GetString("storage.url_secret"),
		GCSBucket:            configViper.GetString("storage.gcs_bucket"),
		GCSCredentialsFile:   configViper.GetString("storage.gcs_credentials_file"),
		SignedURLTTL:         time.Duration(configViper.GetInt("storage.signed_url_ttl_seconds")) * time.Second,
		ExportFetchTimeout:   time.Duration(configViper.GetInt("export.fetch_timeout_seconds")) * time.Second,
		ExportFetchAttempts:  configViper.GetUint("export.fetch_attempts"),
	}
	if strings.TrimSpace(cfg.StorageURLSecret) == "" {
		cfg.StorageURLSecret = cfg.TAuthSigningKey
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	switch c.StorageBackend {
	case StorageBackendLocal:
		if strings.TrimSpace(c.StorageLocalRoot) == "" {
			return fmt.Errorf("storage.local_root is required")
		}
	case StorageBackendGCS:
		if strings.TrimSpace(c.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.StorageBackend)
	}
	if c.SignedURLTTL <= 0 {
		return fmt.Errorf("storage.signed_url_ttl_seconds must be positive")
	}
	if c.ExportFetchTimeout <= 0 {
		return fmt.Errorf("export.fetch_timeout_seconds must be positive")
	}
	if c.ExportFetchAttempts == 0 {
		return fmt.Errorf("export.fetch_attempts must be positive")
	}
	return nil
}
