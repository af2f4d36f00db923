package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/zenGate-Global/permitdesk/domains/verifications/model"
	"github.com/zenGate-Global/permitdesk/platform/go/audit"
	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
	"github.com/zenGate-Global/permitdesk/platform/go/requesttrace"
)

func (s *service) SetSectionStatus(ctx context.Context, actor requesttrace.AuditInfo, attemptID uuid.UUID, section model.SectionName, input SectionUpdateInput) (Attempt, error) {
	fieldErrors := FieldErrors{}
	if _, ok := model.ParseSectionName(string(section)); !ok {
		fieldErrors.add("section", "section must be one of identity, address, businessAffiliation")
	}
	if !input.Status.Valid() {
		fieldErrors.add("status", "unsupported section status")
	}
	if len(fieldErrors) > 0 {
		return Attempt{}, &ValidationError{Fields: fieldErrors}
	}

	var (
		result persistence.AttemptRecord
		batch  *audit.Batch
	)
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		batch = s.writer.Begin(tx, actor)

		current, _, err := loadOpenAttempt(ctx, tx, actor, attemptID, input.ExpectedVersion)
		if err != nil {
			return err
		}

		sections := toModelSections(current.Sections)
		existing := sections.Get(section)
		notes := existing.Notes
		if input.Notes != nil {
			trimmed := strings.TrimSpace(*input.Notes)
			notes = &trimmed
		}

		now := s.now()
		updatedSections := sections.With(section, model.Section{Status: input.Status, Notes: notes, LastUpdated: &now})

		changes := audit.Diff(sectionSnapshot(sections), sectionSnapshot(updatedSections))
		if len(changes) == 0 {
			result = current
			return nil
		}

		next := current
		next.Sections = toRecordSections(updatedSections)
		next.UpdatedAt = now
		updated, err := tx.UpdateAttempt(ctx, next, current.Version)
		if err != nil {
			return err
		}
		result = updated

		entry := attemptEntry(updated, changes, now)
		entry.Metadata = map[string]any{
			"section":           string(section),
			"aggregateDecision": string(model.AggregateDecision(updatedSections)),
		}
		_, err = batch.Append(ctx, entry)
		return err
	})
	if err != nil {
		return Attempt{}, mapPersistenceError(err)
	}
	batch.Committed()

	return mapAttempt(result), nil
}
