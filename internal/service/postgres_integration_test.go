//go:build integration

package service

import (
	"context"
	"os"
	"testing"

	"github.com/punchamoorthee/walletsaga/internal/store"
	"github.com/stretchr/testify/require"
)

func TestReserveWager_ConcurrentDeliveriesPostgres(t *testing.T) {
	dsn := os.Getenv("DB_SOURCE")
	if dsn == "" {
		t.Skip("DB_SOURCE not set")
	}
	ctx := context.Background()
	st, err := store.NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(ctx))

	assertConcurrentDeliveriesSerialize(t, st, 8)
}
