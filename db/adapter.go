package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sidequest/server/config"
	dbmysql "github.com/sidequest/server/db/mysql"
	dbpostgres "github.com/sidequest/server/db/postgres"
	dbsqlite "github.com/sidequest/server/db/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode. Timestamps
// are written in UTC on every backend.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", cfg.Mode, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Mode == ModeSQLite {
		// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY
		// inside nested transactions and keeps :memory: schemas shared.
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil
	}
	if cfg.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.MaxLife > 0 {
		sqlDB.SetConnMaxLifetime(cfg.MaxLife)
	}
	return gdb, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Mode {
	case ModeSQLite:
		return dbsqlite.Dialector(cfg.SQLitePath)
	case ModeMySQL:
		if cfg.MySQLDSN == "" {
			return nil, errors.New("db: mysql_dsn is required in mysql mode")
		}
		return dbmysql.Dialector(cfg.MySQLDSN), nil
	case ModePostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("db: postgres_dsn is required in postgres mode")
		}
		return dbpostgres.Dialector(cfg.PostgresDSN), nil
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}

// IsUniqueViolation detects duplicate-key errors from the supported drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
