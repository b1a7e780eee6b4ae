package postgres

import (
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialector returns the GORM dialector for dsn, which may be a key=value
// string or a postgres:// URL.
func Dialector(dsn string) gorm.Dialector {
	return postgres.New(postgres.Config{DSN: NormalizeDSN(dsn)})
}

// NormalizeDSN pins the session time zone to UTC unless dsn sets one.
func NormalizeDSN(dsn string) string {
	if strings.Contains(strings.ToLower(dsn), "timezone=") {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return dsn + "&timezone=UTC"
		}
		return dsn + "?timezone=UTC"
	}
	return strings.TrimSpace(dsn + " TimeZone=UTC")
}
