package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations_Sorted(t *testing.T) {
	files, err := sqlFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_trades.sql", "002_reconciliations.sql"}, files)

	files, err = sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+f)
		require.NoError(t, err)
		assert.NoError(t, validateNoSemicolonInStrings(string(data)), f)
		assert.NotEmpty(t, splitStatements(string(data)), f)
	}
}

func TestSplitStatements(t *testing.T) {
	sql := `-- header
CREATE TABLE a (x String) ENGINE = Memory;

-- second
CREATE TABLE b (y String) ENGINE = Memory;
`
	stmts := splitStatements(sql)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x String) ENGINE = Memory", stmts[0])
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'it''s'; SELECT 1;"))
	assert.Error(t, validateNoSemicolonInStrings("SELECT 'a;b';"))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/swaps")
	require.NoError(t, err)
	assert.Equal(t, "swaps", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
