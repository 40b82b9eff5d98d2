package db

import (
	"net/url"
	"strconv"
	"strings"

	"pastebin/cfg"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// dialect holds what differs between the supported drivers: DSN, DDL and
// bind-parameter syntax. Queries are written with '?' placeholders.
type dialect struct {
	driver   string
	schema   []string
	dollarBV bool
}

var (
	postgresDialect = dialect{
		driver: cfg.DriverPostgres,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS pastes (
				id SERIAL PRIMARY KEY,
				uniquehash TEXT NOT NULL,
				title TEXT NOT NULL,
				data TEXT NOT NULL,
				creation_date TIMESTAMP WITH TIME ZONE,
				click_count INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_pastes_uniquehash ON pastes(uniquehash)`,
		},
		dollarBV: true,
	}
	sqliteDialect = dialect{
		driver: cfg.DriverSQLite,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS pastes (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uniquehash TEXT NOT NULL,
				title TEXT NOT NULL,
				data TEXT NOT NULL,
				creation_date DATETIME,
				click_count INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_pastes_uniquehash ON pastes(uniquehash)`,
		},
	}
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case cfg.DriverPostgres:
		return postgresDialect, nil
	case cfg.DriverSQLite:
		return sqliteDialect, nil
	}
	return dialect{}, errors.Errorf("unsupported driver %q", driver)
}

// rebind rewrites '?' placeholders to $n for drivers that need it.
func (d dialect) rebind(q string) string {
	if !d.dollarBV {
		return q
	}
	var sb strings.Builder
	sb.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(q[i])
	}
	return sb.String()
}

// DSN builds the driver connection string from the configuration.
func DSN(c cfg.DBCfg) (string, error) {
	switch c.Driver {
	case cfg.DriverPostgres:
		parts := []string{
			"host=" + quoteDSNValue(c.Host),
			"port=" + quoteDSNValue(c.Port),
			"user=" + quoteDSNValue(c.User),
			"dbname=" + quoteDSNValue(c.Name),
		}
		if pw := c.Password.Value(); pw != "" {
			parts = append(parts, "password="+quoteDSNValue(pw))
		}
		if c.SSLMode != "" {
			parts = append(parts, "sslmode="+quoteDSNValue(c.SSLMode))
		}
		return strings.Join(parts, " "), nil
	case cfg.DriverSQLite:
		return sqliteDSN(c.Path), nil
	}
	return "", errors.Errorf("unsupported driver %q", c.Driver)
}

// quoteDSNValue quotes a libpq keyword/value when it is empty or holds
// spaces, quotes or backslashes.
func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// sqliteDSN sets WAL, busy timeout and full sync on every pooled connection.
// In-memory databases keep their own DSN untouched.
func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		return path
	}
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_synchronous", "FULL")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + sep + params.Encode()
}
