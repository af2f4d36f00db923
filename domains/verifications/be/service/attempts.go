package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/permitdesk/domains/verifications/model"
	"github.com/zenGate-Global/permitdesk/platform/go/audit"
	"github.com/zenGate-Global/permitdesk/platform/go/ids"
	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
	"github.com/zenGate-Global/permitdesk/platform/go/requesttrace"
)

func (s *service) GetDetails(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID) (Details, error) {
	var details Details
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		owner, err := loadManagedOwner(ctx, tx, actor, ownerID)
		if err != nil {
			return err
		}

		attempts, err := tx.ListAttempts(ctx, ownerID)
		if err != nil {
			return err
		}

		details = Details{
			OwnerID:               owner.OwnerID,
			VerificationStatus:    owner.VerificationStatus,
			LastVerifiedAt:        owner.LastVerifiedAt,
			VerificationExpiresAt: owner.VerificationExpiresAt,
			History:               make([]Attempt, 0, len(attempts)),
			Documents:             []DocumentVerification{},
		}
		for _, rec := range attempts {
			if rec.IsOpen() {
				current := mapAttempt(rec)
				details.Current = &current
				continue
			}
			details.History = append(details.History, mapAttempt(rec))
		}

		if details.Current != nil {
			links, err := tx.ListDocumentVerifications(ctx, details.Current.ID)
			if err != nil {
				return err
			}
			for _, link := range links {
				details.Documents = append(details.Documents, mapDocumentVerification(link))
			}
		}

		cert, err := tx.LatestCertificate(ctx, ownerID)
		switch {
		case err == nil:
			mapped := mapCertificate(cert)
			details.Certificate = &mapped
		case !errors.Is(err, persistence.ErrCertificateNotFound):
			return err
		}
		return nil
	})
	if err != nil {
		return Details{}, mapPersistenceError(err)
	}
	return details, nil
}

// GetAttempt re-reads one attempt, open or closed, so a writer holding a stale
// version can rebase before retrying.
func (s *service) GetAttempt(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID) (Attempt, error) {
	var result persistence.AttemptRecord
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		attempt, _, err := loadManagedAttempt(ctx, tx, actor, attemptID)
		result = attempt
		return err
	})
	if err != nil {
		return Attempt{}, mapPersistenceError(err)
	}
	return mapAttempt(result), nil
}

func (s *service) CreateAttempt(ctx context.Context, actor requesttrace.AuditInfo, ownerID uuid.UUID, input CreateAttemptInput) (Attempt, error) {
	var draft json.RawMessage
	if input.IsDraft {
		normalized, err := s.normalizeDraft(input.DraftData)
		if err != nil {
			return Attempt{}, err
		}
		draft = normalized
	}

	var (
		created persistence.AttemptRecord
		batch   *audit.Batch
	)
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		batch = s.writer.Begin(tx, actor)

		owner, err := loadManagedOwner(ctx, tx, actor, ownerID)
		if err != nil {
			return err
		}

		open, err := tx.FindOpenAttempt(ctx, ownerID)
		switch {
		case err == nil:
			return &OpenAttemptError{AttemptID: open.AttemptID}
		case !errors.Is(err, persistence.ErrAttemptNotFound):
			return err
		}

		now := s.now()
		inserted, err := tx.InsertAttempt(ctx, persistence.AttemptRecord{
			AttemptID:       ids.NewEntityID(),
			OwnerID:         ownerID,
			InitiatedAt:     now,
			InitiatedBy:     actor.ActorID(),
			InitiatedByName: actor.UserName,
			Decision:        string(model.DecisionPending),
			Sections:        toRecordSections(model.NewSections()),
			DraftData:       draft,
		})
		if err != nil {
			return err
		}
		created = inserted

		fields := sectionSnapshot(model.NewSections())
		fields["decision"] = inserted.Decision
		fields["initiatedBy"] = inserted.InitiatedBy
		if _, err := batch.Append(ctx, audit.Entry{
			EntityType: audit.EntityVerificationAttempt,
			EntityID:   inserted.AttemptID.String(),
			OwnerID:    ownerID,
			Action:     audit.ActionCreate,
			Changes:    audit.Created(fields),
			At:         now,
		}); err != nil {
			return err
		}

		// A first attempt moves the owner out of UNVERIFIED; later attempts leave the
		// status reflecting the last completed decision.
		if owner.VerificationStatus == ownerUnverified {
			return s.setOwnerStatus(ctx, tx, batch, owner, ownerPending, nil, now)
		}
		return nil
	})
	if err != nil {
		return Attempt{}, mapPersistenceError(err)
	}
	batch.Committed()

	return mapAttempt(created), nil
}

func (s *service) SaveDraft(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID, input SaveDraftInput) (Attempt, error) {
	draftData, err := s.normalizeDraft(input.DraftData)
	if err != nil {
		return Attempt{}, err
	}
	if len(draftData) == 0 {
		return Attempt{}, newValidationError(map[string]string{"draftData": "draftData is required"})
	}

	var draft model.Draft
	if err := json.Unmarshal(draftData, &draft); err != nil {
		return Attempt{}, newValidationError(map[string]string{"draftData": err.Error()})
	}

	var (
		result persistence.AttemptRecord
		batch  *audit.Batch
	)
	err = s.store.WithTx(ctx, func(tx persistence.Tx) error {
		batch = s.writer.Begin(tx, actor)

		current, _, err := loadOpenAttempt(ctx, tx, actor, attemptID, input.ExpectedVersion)
		if err != nil {
			return err
		}

		now := s.now()
		sections := toModelSections(current.Sections)
		for _, name := range model.SectionNames {
			drafted := draft.Sections.Get(name)
			if drafted.Status == "" {
				continue
			}
			existing := sections.Get(name)
			if drafted.Status == existing.Status && equalNotes(drafted.Notes, existing.Notes) {
				continue
			}
			sections = sections.With(name, model.Section{Status: drafted.Status, Notes: drafted.Notes, LastUpdated: &now})
		}

		before := sectionSnapshot(toModelSections(current.Sections))
		before["draftData"] = current.DraftData
		after := sectionSnapshot(sections)
		after["draftData"] = draftData

		changes := audit.Diff(before, after)
		if len(changes) == 0 {
			result = current
			return nil
		}

		next := current
		next.Sections = toRecordSections(sections)
		next.DraftData = draftData
		next.UpdatedAt = now
		updated, err := tx.UpdateAttempt(ctx, next, current.Version)
		if err != nil {
			return err
		}
		result = updated

		_, err = batch.Append(ctx, attemptEntry(updated, changes, now))
		return err
	})
	if err != nil {
		return Attempt{}, mapPersistenceError(err)
	}
	batch.Committed()

	return mapAttempt(result), nil
}

func (s *service) Submit(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID, input SubmitInput) (SubmitResult, error) {
	var (
		result SubmitResult
		issued bool
		batch  *audit.Batch
	)
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		batch = s.writer.Begin(tx, actor)

		current, owner, err := loadOpenAttempt(ctx, tx, actor, attemptID, input.ExpectedVersion)
		if err != nil {
			return err
		}

		sections := toModelSections(current.Sections)
		if pending := sections.Pending(); len(pending) > 0 {
			return &IncompleteSubmissionError{Sections: pending}
		}

		decision := model.AggregateDecision(sections)
		reason := decisionReason(decision, sections, input.DecisionReason)

		now := s.now()
		closed := current
		closed.CompletedAt = &now
		closed.Decision = string(decision)
		closed.DecisionReason = reason
		closed.DraftData = nil
		closed.UpdatedAt = now

		updated, err := tx.UpdateAttempt(ctx, closed, current.Version)
		if err != nil {
			return err
		}

		if _, err := batch.Append(ctx, attemptEntry(updated, audit.Diff(
			map[string]any{"completedAt": current.CompletedAt, "decision": current.Decision, "decisionReason": current.DecisionReason},
			map[string]any{"completedAt": updated.CompletedAt, "decision": updated.Decision, "decisionReason": updated.DecisionReason},
		), now)); err != nil {
			return err
		}

		result = SubmitResult{Attempt: mapAttempt(updated), OwnerStatus: string(decision)}

		if decision != model.DecisionVerified {
			return s.setOwnerStatus(ctx, tx, batch, owner, string(decision), nil, now)
		}

		cert, err := tx.InsertCertificate(ctx, s.issuer.Issue(updated, now))
		if err != nil {
			return fmt.Errorf("issue certificate: %w", err)
		}
		mapped := mapCertificate(cert)
		result.Certificate = &mapped
		issued = true

		return s.setOwnerStatus(ctx, tx, batch, owner, string(model.DecisionVerified), &cert, now)
	})
	if err != nil {
		return SubmitResult{}, mapPersistenceError(err)
	}
	batch.Committed()
	s.metrics.IncAttemptClosure(string(result.Attempt.Decision))
	if issued {
		s.metrics.IncCertificateIssued()
	}

	return result, nil
}

// setOwnerStatus writes the owner's verification status and audits it. cert is set
// only for VERIFIED closures and drives lastVerifiedAt/verificationExpiresAt.
func (s *service) setOwnerStatus(ctx context.Context, tx persistence.Tx, batch *audit.Batch, owner persistence.OwnerRecord, status string, cert *persistence.CertificateRecord, now time.Time) error {
	next := owner
	next.VerificationStatus = status
	if cert != nil {
		issuedAt, expiresAt := cert.IssuedAt, cert.ExpiresAt
		next.LastVerifiedAt = &issuedAt
		next.VerificationExpiresAt = &expiresAt
	}

	changes := audit.Diff(ownerStatusSnapshot(owner), ownerStatusSnapshot(next))
	if len(changes) == 0 {
		return nil
	}

	next.UpdatedAt = now
	updated, err := tx.UpdateOwner(ctx, next, owner.Version)
	if err != nil {
		return err
	}

	_, err = batch.Append(ctx, audit.Entry{
		EntityType: audit.EntityBusinessOwner,
		EntityID:   updated.OwnerID.String(),
		OwnerID:    updated.OwnerID,
		Action:     audit.ActionUpdate,
		Changes:    changes,
		At:         now,
	})
	return err
}

func ownerStatusSnapshot(owner persistence.OwnerRecord) map[string]any {
	return map[string]any{
		"verificationStatus":    owner.VerificationStatus,
		"lastVerifiedAt":        owner.LastVerifiedAt,
		"verificationExpiresAt": owner.VerificationExpiresAt,
	}
}

// decisionReason keeps a caller supplied reason; for REJECTED and NEEDS_INFO without
// one it lists the sections that caused the decision.
func decisionReason(decision model.Decision, sections model.Sections, supplied *string) *string {
	if supplied != nil && strings.TrimSpace(*supplied) != "" {
		reason := strings.TrimSpace(*supplied)
		return &reason
	}
	if decision == model.DecisionVerified {
		return nil
	}

	var parts []string
	for _, name := range model.SectionNames {
		section := sections.Get(name)
		if section.Status == model.SectionVerified {
			continue
		}
		part := string(name) + ": " + string(section.Status)
		if section.Notes != nil && strings.TrimSpace(*section.Notes) != "" {
			part += " (" + strings.TrimSpace(*section.Notes) + ")"
		}
		parts = append(parts, part)
	}
	reason := strings.Join(parts, "; ")
	return &reason
}

func (s *service) normalizeDraft(raw json.RawMessage) (json.RawMessage, error) {
	if err := s.validator.Validate(raw); err != nil {
		return nil, newValidationError(map[string]string{"draftData": err.Error()})
	}
	compacted, err := persistence.CompactJSON(raw)
	if err != nil {
		return nil, newValidationError(map[string]string{"draftData": err.Error()})
	}
	return compacted, nil
}

func equalNotes(a, b *string) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}
