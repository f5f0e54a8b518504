package shared_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantops/plantstore/internal/shared"
	"github.com/plantops/plantstore/internal/shared/sharedtest"
)

func TestClaimIdempotency(t *testing.T) {
	ctx := context.Background()
	store := &sharedtest.Idempotency{}

	release, err := shared.ClaimIdempotency(ctx, store, "grn", "k1")
	require.NoError(t, err)
	assert.True(t, store.Has("grn:k1"))

	_, err = shared.ClaimIdempotency(ctx, store, "grn", "k1")
	assert.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	// same client key in another module is independent
	_, err = shared.ClaimIdempotency(ctx, store, "store_issue", "k1")
	require.NoError(t, err)

	release()
	assert.False(t, store.Has("grn:k1"))
	_, err = shared.ClaimIdempotency(ctx, store, "grn", "k1")
	assert.NoError(t, err)
}

func TestClaimIdempotencyWithoutKey(t *testing.T) {
	ctx := context.Background()
	store := &sharedtest.Idempotency{}

	release, err := shared.ClaimIdempotency(ctx, store, "grn", "")
	require.NoError(t, err)
	release()
	assert.False(t, store.Has("grn:"))

	release, err = shared.ClaimIdempotency(ctx, nil, "grn", "k1")
	require.NoError(t, err)
	release()
}
