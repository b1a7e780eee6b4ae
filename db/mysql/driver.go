package mysql

import (
	"net/url"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Indexed string columns (quest and location ids, usernames) must fit the
// 767-byte InnoDB key prefix under utf8mb4.
const defaultStringSize = 191

var requiredParams = [][2]string{
	{"parseTime", "true"},
	{"loc", "UTC"},
	{"charset", "utf8mb4"},
}

// Dialector returns the GORM dialector for a go-sql-driver DSN.
func Dialector(dsn string) gorm.Dialector {
	return mysql.New(mysql.Config{
		DSN:               NormalizeDSN(dsn),
		DefaultStringSize: defaultStringSize,
	})
}

// NormalizeDSN appends parseTime, loc and charset when dsn leaves them
// out. Parameters already present are kept as written.
func NormalizeDSN(dsn string) string {
	_, query, _ := strings.Cut(dsn, "?")
	present, err := url.ParseQuery(query)
	if err != nil {
		return dsn
	}
	var missing []string
	for _, p := range requiredParams {
		if _, ok := present[p[0]]; !ok {
			missing = append(missing, p[0]+"="+p[1])
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
		if strings.HasSuffix(dsn, "?") || strings.HasSuffix(dsn, "&") {
			sep = ""
		}
	}
	return dsn + sep + strings.Join(missing, "&")
}
