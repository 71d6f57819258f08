package database

import (
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/codification"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeCodeSentinels = "2026-05-01_normalize_code_sentinels"
	migrationLowercaseFileHashes    = "2026-05-01_lowercase_file_hashes"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeCodeSentinels, apply: normalizeCodeSentinels},
		{name: migrationLowercaseFileHashes, apply: lowercaseFileHashes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeCodeSentinels clears emitter and unit codes stored as their "no value" sentinels so
// that they compare equal to omitted codes. Document numbers are left untouched.
func normalizeCodeSentinels(db *gorm.DB) error {
	if err := db.Model(&documents.Document{}).
		Where("UPPER(emitter_code) = ?", strings.ToUpper(codification.NoEmitter)).
		Update("emitter_code", "").Error; err != nil {
		return err
	}
	return db.Model(&documents.Document{}).
		Where("unit_code = ?", codification.NoUnit).
		Update("unit_code", "").Error
}

// lowercaseFileHashes rewrites digests recorded in uppercase. Bordereau lines keep what was sent.
func lowercaseFileHashes(db *gorm.DB) error {
	if err := db.Model(&documents.Revision{}).
		Where("file_hash <> LOWER(file_hash)").
		Update("file_hash", gorm.Expr("LOWER(file_hash)")).Error; err != nil {
		return err
	}
	return db.Model(&documents.Signature{}).
		Where("doc_hash IS NOT NULL AND doc_hash <> LOWER(doc_hash)").
		Update("doc_hash", gorm.Expr("LOWER(doc_hash)")).Error
}
