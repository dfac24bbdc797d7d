package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SchemaVersion is the version of the table contract compiled into this
// binary. Bump it whenever a model below gains or loses a column.
const SchemaVersion = 3

// ErrSchemaTooNew is returned when the database was migrated by a newer build.
var ErrSchemaTooNew = errors.New("database schema is newer than this server")

// SchemaMigration records which schema contract a database was migrated to.
type SchemaMigration struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false" json:"version"`
	AppliedAt time.Time `json:"appliedAt"`
}

func (SchemaMigration) TableName() string { return "schema_versions" }

// schemaModels is the fixed set of tables the engine reads and writes.
func schemaModels() []any {
	return []any{
		&User{},
		&RefreshToken{},
		&Medication{},
		&InventoryRecord{},
		&Schedule{},
		&TimeSlot{},
		&Reminder{},
		&ReminderMedication{},
		&HistoryEntry{},
	}
}

// Migrate brings the database up to SchemaVersion.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&SchemaMigration{}); err != nil {
		return fmt.Errorf("migrate schema_versions: %w", err)
	}

	current, err := CurrentSchemaVersion(db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("%w: database at v%d, server at v%d", ErrSchemaTooNew, current, SchemaVersion)
	}

	if err := db.AutoMigrate(schemaModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if current == SchemaVersion {
		return nil
	}
	return db.Create(&SchemaMigration{Version: SchemaVersion, AppliedAt: time.Now().UTC()}).Error
}

// CurrentSchemaVersion returns the highest recorded schema version, or 0.
func CurrentSchemaVersion(db *gorm.DB) (int, error) {
	var version int
	err := db.Model(&SchemaMigration{}).Select("COALESCE(MAX(version), 0)").Scan(&version).Error
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
