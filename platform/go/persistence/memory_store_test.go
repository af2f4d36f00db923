package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreIsolatesDraftData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	attempt := newAttemptRecord(uuid.New(), time.Now())
	attempt.DraftData = []byte(`{"currentStep":"identity"}`)

	require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
		_, err := tx.InsertAttempt(ctx, attempt)
		return err
	}))

	// Mutating the caller's slice must not leak into the stored row.
	attempt.DraftData[2] = 'X'

	require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
		got, err := tx.GetAttempt(ctx, attempt.AttemptID)
		require.NoError(t, err)
		require.JSONEq(t, `{"currentStep":"identity"}`, string(got.DraftData))
		return nil
	}))
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewMemoryStore().WithTx(ctx, func(Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}
