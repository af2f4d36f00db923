package persistence

import (
	"testing"
)

func TestPostgresStore(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping postgres store integration test in short mode")
	}

	pool := mustPostgresPool(t)
	exerciseStore(t, NewPostgresStore(pool))
}
