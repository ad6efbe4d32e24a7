package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// dialect carries the per-driver SQL differences.
type dialect struct {
	driver   string
	keyType  string
	textType string
	upsert   string
}

var dialects = map[string]dialect{
	"sqlite3": {
		driver:   "sqlite3",
		keyType:  "TEXT",
		textType: "TEXT",
		upsert:   "ON CONFLICT (class_name, entry_key) DO UPDATE SET value = excluded.value",
	},
	"postgres": {
		driver:   "postgres",
		keyType:  "TEXT",
		textType: "TEXT",
		upsert:   "ON CONFLICT (class_name, entry_key) DO UPDATE SET value = EXCLUDED.value",
	},
	"mysql": {
		driver:   "mysql",
		keyType:  "VARCHAR(191)",
		textType: "LONGTEXT",
		upsert:   "ON DUPLICATE KEY UPDATE value = VALUES(value)",
	},
}

// DriverName maps a configured provider name to a database/sql driver name.
func DriverName(provider string) (string, error) {
	switch strings.ToLower(provider) {
	case "postgresql", "postgres":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, provider)
	}
}

// rebind rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	var b strings.Builder
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

func (d dialect) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS kv_entries (
	class_name %[1]s NOT NULL,
	entry_key %[1]s NOT NULL,
	seq BIGINT NOT NULL,
	value %[2]s NOT NULL,
	PRIMARY KEY (class_name, entry_key)
)`, d.keyType, d.textType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS kv_meta (
	name %[1]s NOT NULL PRIMARY KEY,
	value %[1]s NOT NULL
)`, d.keyType),
	}
}

func (d dialect) putStmt() string {
	return d.rebind("INSERT INTO kv_entries (class_name, entry_key, seq, value) VALUES (?, ?, ?, ?) " + d.upsert)
}
