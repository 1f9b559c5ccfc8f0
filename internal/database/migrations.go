package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/sloth-meeplo/meeplo/backend/internal/schedules"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSingleLeaderIndex = "2024-06-01_schedule_members_single_leader"
	singleLeaderIndexName      = "idx_schedule_members_single_leader"
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

var migrations = []migrationDefinition{
	{name: migrationSingleLeaderIndex, apply: createSingleLeaderIndex},
}

// applyMigrations runs each named migration once, recording it in db_migrations.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
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

// createSingleLeaderIndex allows at most one LEADER row per schedule. Struct
// tags cannot express a partial index on both sqlite and postgres.
func createSingleLeaderIndex(db *gorm.DB) error {
	// DDL takes no bind parameters on postgres.
	return db.Exec(fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON schedule_members (schedule_id) WHERE role = '%s'",
		singleLeaderIndexName, schedules.RoleLeader,
	)).Error
}
