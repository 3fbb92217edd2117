package store

import (
	"fmt"
	"time"

	"github.com/nexnum/provider-core/internal/config"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver golang-migrate uses
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens a GORM/Postgres connection pool.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// AutoMigrate creates/updates tables for local development; a real
// deployment runs internal/store/migrations via golang-migrate instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Vendor{},
		&CountryLookup{},
		&ServiceLookup{},
		&ProviderCountry{},
		&ProviderService{},
		&SyncRun{},
	)
}
