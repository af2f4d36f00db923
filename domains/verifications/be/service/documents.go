package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/zenGate-Global/permitdesk/domains/verifications/model"
	"github.com/zenGate-Global/permitdesk/platform/go/audit"
	"github.com/zenGate-Global/permitdesk/platform/go/ids"
	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
	"github.com/zenGate-Global/permitdesk/platform/go/requesttrace"
)

func (s *service) LinkDocument(ctx context.Context, actor requesttrace.AuditInfo, attemptID, documentID uuid.UUID) (DocumentVerification, error) {
	var (
		result persistence.DocumentVerificationRecord
		batch  *audit.Batch
	)
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		batch = s.writer.Begin(tx, actor)

		attempt, _, err := loadOpenAttempt(ctx, tx, actor, attemptID, nil)
		if err != nil {
			return err
		}

		doc, err := tx.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.OwnerID != attempt.OwnerID {
			return newValidationError(map[string]string{"documentId": "document belongs to a different business owner"})
		}

		links, err := tx.ListOpenDocumentLinks(ctx, documentID)
		if err != nil {
			return err
		}
		var existing *persistence.DocumentVerificationRecord
		for i := range links {
			if links[i].AttemptID != attemptID {
				return ErrConflict
			}
			existing = &links[i]
		}
		if existing != nil {
			result = *existing
			return nil
		}

		now := s.now()
		inserted, err := tx.InsertDocumentVerification(ctx, persistence.DocumentVerificationRecord{
			DocumentVerificationID: ids.NewEntityID(),
			AttemptID:              attemptID,
			DocumentID:             documentID,
			Status:                 string(model.DocumentPending),
			CreatedAt:              now,
		})
		if err != nil {
			return err
		}
		result = inserted

		_, err = batch.Append(ctx, audit.Entry{
			EntityType: audit.EntityDocumentVerification,
			EntityID:   inserted.DocumentVerificationID.String(),
			OwnerID:    attempt.OwnerID,
			Action:     audit.ActionCreate,
			Changes: audit.Created(map[string]any{
				"verificationAttemptId": attemptID.String(),
				"documentId":            documentID.String(),
				"status":                inserted.Status,
			}),
			At: now,
		})
		return err
	})
	if err != nil {
		return DocumentVerification{}, mapPersistenceError(err)
	}
	batch.Committed()

	return mapDocumentVerification(result), nil
}

func (s *service) DecideDocument(ctx context.Context, actor requesttrace.AuditInfo, attemptID, documentID uuid.UUID, input DecideDocumentInput) (DocumentVerification, error) {
	if !input.Status.Valid() {
		return DocumentVerification{}, newValidationError(map[string]string{"status": "unsupported document status"})
	}
	notes := strings.TrimSpace(input.Notes)

	var (
		result persistence.DocumentVerificationRecord
		batch  *audit.Batch
	)
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		batch = s.writer.Begin(tx, actor)

		attempt, _, err := loadOpenAttempt(ctx, tx, actor, attemptID, nil)
		if err != nil {
			return err
		}

		current, err := tx.GetDocumentVerification(ctx, attemptID, documentID)
		if err != nil {
			if errors.Is(err, persistence.ErrDocumentVerificationNotFound) {
				return ErrNotFound
			}
			return err
		}

		changes := audit.Diff(
			map[string]any{"status": current.Status, "notes": current.Notes},
			map[string]any{"status": string(input.Status), "notes": notes},
		)
		if len(changes) == 0 {
			result = current
			return nil
		}

		next := current
		next.Status = string(input.Status)
		next.Notes = notes
		next.UpdatedAt = s.now()
		updated, err := tx.UpdateDocumentVerification(ctx, next, current.Version)
		if err != nil {
			return err
		}
		result = updated

		_, err = batch.Append(ctx, audit.Entry{
			EntityType: audit.EntityDocumentVerification,
			EntityID:   updated.DocumentVerificationID.String(),
			OwnerID:    attempt.OwnerID,
			Action:     audit.ActionUpdate,
			Changes:    changes,
			Metadata:   map[string]any{"documentId": documentID.String()},
			At:         updated.UpdatedAt,
		})
		return err
	})
	if err != nil {
		return DocumentVerification{}, mapPersistenceError(err)
	}
	batch.Committed()

	return mapDocumentVerification(result), nil
}
