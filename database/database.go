package database

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/CUknot/locshare/config"
	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/models"
)

// Connect opens the durable store selected by cfg.Driver.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(200 * time.Millisecond),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// One connection keeps an in-memory database alive and serialises writers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	logging.Info().Str("driver", cfg.Driver).Msg("Database connection established")
	return db, nil
}

// Migrate creates or updates the rooms, room_members, locations and users tables.
// When strictUpsert is set it creates the partial unique index backing the
// atomic upsert. On Postgres it also installs the change notification trigger.
func Migrate(db *gorm.DB, channel string, strictUpsert bool) error {
	if err := db.AutoMigrate(&models.User{}, &models.Room{}, &models.RoomMember{}, &models.Location{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if strictUpsert {
		if err := db.Exec(livePositionIndexSQL).Error; err != nil {
			return fmt.Errorf("create live position index: %w", err)
		}
	}
	if db.Dialector.Name() == "postgres" {
		if err := installNotifyTrigger(db, channel); err != nil {
			return err
		}
	}

	logging.Info().Msg("Database migration completed")
	return nil
}
