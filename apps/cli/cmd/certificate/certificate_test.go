package certificate

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verificationsservice "github.com/zenGate-Global/permitdesk/domains/verifications/be/service"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestHashMatchesService(t *testing.T) {
	t.Parallel()

	attempt := uuid.New()
	owner := uuid.New()
	issued := time.Date(2026, 5, 4, 12, 30, 0, 0, time.UTC)

	got, err := run(t, "hash",
		"--attempt-id", attempt.String(),
		"--owner-id", owner.String(),
		"--issued-at", issued.Format(time.RFC3339Nano),
	)
	require.NoError(t, err)
	assert.Equal(t, verificationsservice.VerificationHash(attempt, owner, issued), got)
}

func TestHashExpectMismatch(t *testing.T) {
	t.Parallel()

	_, err := run(t, "hash",
		"--attempt-id", uuid.NewString(),
		"--owner-id", uuid.NewString(),
		"--issued-at", "2026-05-04T12:30:00Z",
		"--expect", "deadbeef",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestHashRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := run(t, "hash", "--attempt-id", "x", "--owner-id", uuid.NewString(), "--issued-at", "2026-05-04T12:30:00Z")
	require.ErrorContains(t, err, "invalid --attempt-id")

	_, err = run(t, "hash", "--attempt-id", uuid.NewString(), "--owner-id", uuid.NewString(), "--issued-at", "yesterday")
	require.ErrorContains(t, err, "invalid --issued-at")
}
