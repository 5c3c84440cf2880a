package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const defaultDBName = "ugchub.db"

// Supported dialects.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

type Config struct {
	Workspace string
	Driver    string
	DSN       string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".ugchub", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".ugchub")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database. SQLite lives in the workspace with
// foreign keys on; Postgres goes through pgx's database/sql driver.
func Open(cfg Config) (*sql.DB, error) {
	switch Dialect(cfg.Driver) {
	case Postgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		return sql.Open("pgx", cfg.DSN)
	default:
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		path := cfg.DSN
		if path == "" {
			path = dbPath(cfg.Workspace)
		}
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Dialect normalizes a driver name.
func Dialect(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return Postgres
	default:
		return SQLite
	}
}

// Rebind rewrites ? placeholders to $n for Postgres. Question marks inside
// single-quoted literals are left alone.
func Rebind(dialect, query string) string {
	if dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
