package store

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Runs against a real Postgres when PG_DSN is set.
func TestSQLStore(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	runStoreContract(t, func(t *testing.T) Store {
		table := fmt.Sprintf("interval_readings_test_%d", time.Now().UnixNano())
		s, err := OpenSQL(background, dsn, WithTable(table))
		require.NoError(t, err)
		require.NoError(t, s.EnsureSchema(background))
		t.Cleanup(func() {
			s.db.ExecContext(background, "DROP TABLE IF EXISTS "+table)
			s.Close()
		})
		return s
	})
}

func TestOpenSQL_EmptyDSN(t *testing.T) {
	_, err := OpenSQL(background, "")
	require.Error(t, err)
}
