package migrate

import (
	"testing"

	"ppv-trustcore/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRunCreatesEveryTable(t *testing.T) {
	db := testutil.NewTestDB(t)

	require.NoError(t, Run(db))
	for _, m := range Models() {
		require.True(t, db.Migrator().HasTable(m))
	}

	// idempotent
	require.NoError(t, Run(db))
}
