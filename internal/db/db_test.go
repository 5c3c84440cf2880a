package db

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `SELECT id FROM t WHERE a=? AND b='?' AND c IN (?,?)`
	assert.Equal(t, q, Rebind(SQLite, q))
	assert.Equal(t, `SELECT id FROM t WHERE a=$1 AND b='?' AND c IN ($2,$3)`, Rebind(Postgres, q))
}

func TestDialect(t *testing.T) {
	assert.Equal(t, Postgres, Dialect("PostgreSQL"))
	assert.Equal(t, Postgres, Dialect("pgx"))
	assert.Equal(t, SQLite, Dialect(""))
	assert.Equal(t, SQLite, Dialect("sqlite"))
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Ping())
	_, err = os.Stat(Path(dir))
	assert.NoError(t, err)
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"})
	assert.Error(t, err)
}
