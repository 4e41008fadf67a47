package store

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// dialect captures the few places where sqlite and postgres disagree.
// Queries are written once with "?" placeholders and rebound per dialect.
type dialect struct {
	name    string
	driver  string
	serial  string // auto-increment primary key column type
	pragmas []string
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return dialect{
			name:   dialectSQLite,
			driver: "sqlite",
			serial: "INTEGER PRIMARY KEY AUTOINCREMENT",
			pragmas: []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA foreign_keys=ON",
				"PRAGMA busy_timeout=5000",
			},
		}, nil
	case "postgres", "postgresql", "pq":
		return dialect{
			name:   dialectPostgres,
			driver: "postgres",
			serial: "BIGSERIAL PRIMARY KEY",
		}, nil
	default:
		return dialect{}, Preconditionf("unsupported database driver %q", driver)
	}
}

// rebind rewrites "?" placeholders into the dialect's bind syntax.
func (d dialect) rebind(query string) string {
	if d.name != dialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ddl expands the {{serial}} token in a CREATE TABLE statement.
func (d dialect) ddl(stmt string) string {
	return strings.ReplaceAll(stmt, "{{serial}}", d.serial)
}

// upsertMeta returns the statement that sets one meta key.
func (d dialect) upsertMeta() string {
	if d.name == dialectPostgres {
		return d.rebind(`INSERT INTO mlstore_meta (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`)
	}
	return `INSERT OR REPLACE INTO mlstore_meta (key, value) VALUES (?, ?)`
}

func (d dialect) String() string {
	return fmt.Sprintf("%s(%s)", d.name, d.driver)
}
