package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MigrateAndCheck(t *testing.T) {
	for _, tt := range []struct {
		name    string
		profile Profile
		tables  []string
	}{
		{History, ProfileCache, []string{"bars"}},
		{Artifacts, ProfileLedger, []string{"cycles", "strategy_results"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			db, err := New(Config{
				Path:    filepath.Join(t.TempDir(), "nested", tt.name+".db"),
				Profile: tt.profile,
				Name:    tt.name,
			})
			require.NoError(t, err)
			defer db.Close()

			require.NoError(t, db.Migrate())
			require.NoError(t, db.Migrate(), "schemas are idempotent")

			for _, table := range tt.tables {
				var n int
				err := db.Conn().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
				require.NoError(t, err)
				assert.Equal(t, 1, n, table)
			}

			assert.NoError(t, db.HealthCheck(context.Background()))
			assert.NoError(t, db.WALCheckpoint())

			stats, err := db.GetStats()
			require.NoError(t, err)
			assert.Positive(t, stats.PageCount)
		})
	}
}

func TestSchema_Unknown(t *testing.T) {
	_, err := Schema("nope")
	assert.Error(t, err)
}

func TestWithTransaction_RollsBack(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "tx.db"), Name: History})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	insert := `INSERT INTO bars (symbol, date, open, high, low, close, volume, updated_at) VALUES ('A', '2024-01-02', '1', '1', '1', '1', '0', 0)`

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(insert); err != nil {
			return err
		}
		panic("boom")
	})
	assert.ErrorContains(t, err, "panic in transaction")

	var n int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM bars`).Scan(&n))
	assert.Zero(t, n)

	assert.Error(t, WithTransaction(nil, func(*sql.Tx) error { return nil }))
}
