package wizard

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/permitdesk/domains/verifications/model"
)

//go:generate mockgen -source=backend.go -destination=mock_backend.go -package=wizard Backend

// Errors a Backend reports for server-side rejections.
var (
	ErrAttemptOpen  = errors.New("an open verification attempt already exists")
	ErrStaleVersion = errors.New("verification attempt was modified concurrently")
	ErrIncomplete   = errors.New("not every section has reached a decision")
	ErrClosed       = errors.New("verification attempt is closed")
)

// Attempt is the server view of a verification attempt the wizard needs.
type Attempt struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Version     int64
	Sections    model.Sections
	Decision    model.Decision
	CompletedAt *time.Time
	Draft       *model.Draft
}

// Outcome is the result of a successful submission.
type Outcome struct {
	Attempt       Attempt
	OwnerStatus   string
	CertificateID *uuid.UUID
}

// Backend persists wizard state.
type Backend interface {
	CreateVerification(ctx context.Context, ownerID uuid.UUID, draft model.Draft) (Attempt, error)
	GetAttempt(ctx context.Context, attemptID uuid.UUID) (Attempt, error)
	SaveDraft(ctx context.Context, attemptID uuid.UUID, draft model.Draft, expectedVersion int64) (Attempt, error)
	Submit(ctx context.Context, attemptID uuid.UUID, expectedVersion int64) (Outcome, error)
}
