package database

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	body := "-- header\nCREATE TABLE a (\n  id INT\n);\n\n-- b\nCREATE TABLE b (id INT);\nSELECT 1"
	stmts := SplitStatements(body)
	require.Len(t, stmts, 3)
	require.Equal(t, "CREATE TABLE a (\n  id INT\n)", stmts[0])
	require.Equal(t, "CREATE TABLE b (id INT)", stmts[1])
	require.Equal(t, "SELECT 1", stmts[2])
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	body, err := migrations.ReadFile(names[0])
	require.NoError(t, err)
	stmts := SplitStatements(string(body))
	require.Len(t, stmts, 13)
	for _, s := range stmts {
		require.Contains(t, s, "CREATE TABLE IF NOT EXISTS")
	}
}

func TestOptionsDSN(t *testing.T) {
	dsn := Options{User: "app", Pass: "secret", Host: "db", Port: "3306", Name: "tickets"}.DSN()
	require.Contains(t, dsn, "app:secret@tcp(db:3306)/tickets")
	require.Contains(t, dsn, "parseTime=true")
	require.Contains(t, dsn, "charset=utf8mb4")
}
