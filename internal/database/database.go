package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/transmission"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and tunes the database backend.
type Config struct {
	Driver       string
	Path         string
	DSN          string
	MaxOpenConns int
}

// Models lists every table the service owns.
func Models() []interface{} {
	models := append([]interface{}{}, documents.Models()...)
	models = append(models, transmission.Models()...)
	return append(models, &users.Identity{}, &migrationRecord{})
}

// Open connects to the configured backend, migrates the schema and applies data migrations.
// Unique violations surface as gorm.ErrDuplicatedKey on both backends.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, target, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if normalizedDriver(cfg.Driver) == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", normalizedDriver(cfg.Driver)), zap.String("target", target))
	return db, nil
}

func dialectorFor(cfg Config) (gorm.Dialector, string, error) {
	switch normalizedDriver(cfg.Driver) {
	case DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, "", fmt.Errorf("database path is required")
		}
		return sqlite.Open(cfg.Path), cfg.Path, nil
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, "", fmt.Errorf("database dsn is required")
		}
		return postgres.Open(cfg.DSN), "postgres", nil
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func normalizedDriver(driver string) string {
	normalized := strings.ToLower(strings.TrimSpace(driver))
	if normalized == "" {
		return DriverSQLite
	}
	return normalized
}
