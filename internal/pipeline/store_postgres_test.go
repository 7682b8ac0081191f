package pipeline

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_RoundTrip(t *testing.T) {
	dsn := os.Getenv("CASHOUT_PG_TEST_DSN")
	if dsn == "" {
		t.Skip("set CASHOUT_PG_TEST_DSN to run postgres store tests")
	}
	ctx := context.Background()

	pool, err := ConnectPostgres(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	s := NewPostgresStore(pool, "test-owner-"+t.Name())
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Remove(context.Background()) })

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Save(ctx, sampleState()))
	ps := sampleState()
	ps.Phase = PhaseUnshielding
	require.NoError(t, s.Save(ctx, ps))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, PhaseUnshielding, got.Phase)

	require.NoError(t, s.Remove(ctx))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}
