package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbd888/walletrisk/internal/testutil"
)

func TestPostgresStore_Contract(t *testing.T) {
	db := testutil.PGTest(t)
	s := NewPostgresStore(db)
	require.NoError(t, s.Ping(context.Background()))
	storeContract(t, s)
}
