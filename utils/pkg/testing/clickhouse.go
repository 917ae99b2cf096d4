package bondstesting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/bonds/indexer/pkg/clickhouse"
	clickhousetesting "github.com/malbeclabs/bonds/indexer/pkg/clickhouse/testing"
)

// NewClickHouse returns a client bound to a fresh, fully migrated database.
func NewClickHouse(t *testing.T, db *clickhousetesting.DB) *clickhousetesting.TestClient {
	t.Helper()
	tc := clickhousetesting.NewTestClient(t, db)
	require.NoError(t, clickhouse.Up(t.Context(), NewLogger(), tc.Config.MigrationConfig()))
	return tc
}
