package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatements(t *testing.T) {
	script := `-- journal tables
CREATE TABLE a (id INT);

-- comment only statement
;
CREATE TABLE b (
	id INT -- trailing comments stay
);
`
	got := Statements(script)
	require.Len(t, got, 2)
	assert.Equal(t, "CREATE TABLE a (id INT)", got[0])
	assert.Equal(t, "CREATE TABLE b (\n\tid INT -- trailing comments stay\n)", got[1])
}

func TestStatements_Schema(t *testing.T) {
	got := Statements(Schema)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "CREATE TABLE IF NOT EXISTS invocation")
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a (id INT)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT)")).WillReturnError(errors.New("table exists"))

	err = Migrate(context.Background(), db, "CREATE TABLE a (id INT);\nCREATE TABLE b (id INT);\nCREATE TABLE c (id INT);")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table exists")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveInvocations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	records := []Invocation{
		{RequestID: "req_1", Method: "GET", Path: "/", StatusCode: 200, BodyBytes: 5, Duration: 42 * time.Millisecond, CreatedAt: created},
		{RequestID: "req_2", Method: "POST", Path: "/up", StatusCode: 500, BodyBytes: 80, Duration: time.Second, Failed: true, Phase: "drain", CreatedAt: created},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO invocation \(.*\) VALUES \(\?, \?, \?, \?, \?, \?, \?, \?, \?\),\(\?, \?, \?, \?, \?, \?, \?, \?, \?\)`).
		WithArgs(
			"req_1", "GET", "/", 200, 5, int64(42), false, "", created,
			"req_2", "POST", "/up", 500, 80, int64(1000), true, "drain", created,
		).
		WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectCommit()

	err = ExecuteTransaction(context.Background(), db, []func(*sql.Tx) error{
		func(tx *sql.Tx) error { return SaveInvocations(context.Background(), tx, records) },
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveInvocations_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	err = ExecuteTransaction(context.Background(), db, []func(*sql.Tx) error{
		func(tx *sql.Tx) error { return SaveInvocations(context.Background(), tx, nil) },
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTransaction_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	err = ExecuteTransaction(context.Background(), db, []func(*sql.Tx) error{
		func(*sql.Tx) error { return errors.New("nope") },
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
