//go:build integration

package migrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"appview/migrations"
	"appview/pkg/testutil/containers"
)

func TestApply_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	pg := containers.GetManager().GetPostgres(t)

	// The container already applied the schema once.
	require.NoError(t, migrations.Apply(ctx, pg.DB))

	for _, table := range []string{"pds_endpoints", "records"} {
		var exists bool
		err := pg.DB.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists)
		require.NoError(t, err)
		require.True(t, exists, table)
	}
}
