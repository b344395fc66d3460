package repository

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

func TestPlaceholders(t *testing.T) {
	require.Equal(t, "", placeholders(0))
	require.Equal(t, "?", placeholders(1))
	require.Equal(t, "?, ?, ?", placeholders(3))
}

func TestIDArgs(t *testing.T) {
	require.Equal(t, []any{uint64(4), uint64(9)}, idArgs([]uint64{4, 9}))
	require.Empty(t, idArgs(nil))
}

func TestLockClause(t *testing.T) {
	require.Equal(t, " FOR UPDATE", lockClause(true))
	require.Empty(t, lockClause(false))
}

func TestIsDuplicateKey(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	require.True(t, isDuplicateKey(dup))
	require.True(t, isDuplicateKey(fmt.Errorf("insert: %w", dup)))
	require.False(t, isDuplicateKey(&mysql.MySQLError{Number: 1213}))
	require.False(t, isDuplicateKey(sql.ErrNoRows))
}

func TestIsDeadlock(t *testing.T) {
	victim := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	require.True(t, isDeadlock(victim))
	require.True(t, isDeadlock(fmt.Errorf("release sale stage: %w", victim)))
	require.False(t, isDeadlock(&mysql.MySQLError{Number: 1062}))
	require.False(t, isDeadlock(nil))
}

func TestNullHelpers(t *testing.T) {
	require.Nil(t, nullUint(sql.NullInt64{}))
	require.Equal(t, uint64(7), *nullUint(sql.NullInt64{Int64: 7, Valid: true}))

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Nil(t, nullTime(sql.NullTime{}))
	require.Equal(t, now, *nullTime(sql.NullTime{Time: now, Valid: true}))
}

type noRows struct{}

func (noRows) Scan(...any) error { return sql.ErrNoRows }

func TestScanMissingRowsMapToNotFound(t *testing.T) {
	_, err := scanTransfer(noRows{})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = scanCredential(noRows{})
	require.ErrorIs(t, err, ErrNotFound)
}
