package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newOwnerRecord(manager string, now time.Time) OwnerRecord {
	return OwnerRecord{
		OwnerID:            uuid.New(),
		FirstName:          "Ada",
		LastName:           "Lovelace",
		Email:              "ada@example.com",
		Phone:              "555-0100",
		Address:            "1 Analytical Way",
		TaxID:              "123456789",
		IDLicenseNumber:    "D1234567",
		VerificationStatus: "UNVERIFIED",
		AssignedManagerID:  manager,
		CreatedAt:          now,
	}
}

func newAttemptRecord(ownerID uuid.UUID, now time.Time) AttemptRecord {
	return AttemptRecord{
		AttemptID:       uuid.New(),
		OwnerID:         ownerID,
		InitiatedAt:     now,
		InitiatedBy:     "manager-1",
		InitiatedByName: "Manager One",
		Decision:        "PENDING",
		Sections: SectionsRecord{
			Identity:            SectionRecord{Status: "INCOMPLETE"},
			Address:             SectionRecord{Status: "INCOMPLETE"},
			BusinessAffiliation: SectionRecord{Status: "INCOMPLETE"},
		},
	}
}

// exerciseStore runs the behaviour every Store implementation must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	owner := newOwnerRecord("manager-1", now)

	t.Run("insert and read owner", func(t *testing.T) {
		err := store.WithTx(ctx, func(tx Tx) error {
			created, err := tx.InsertOwner(ctx, owner)
			require.NoError(t, err)
			require.Equal(t, int64(1), created.Version)
			return nil
		})
		require.NoError(t, err)

		err = store.WithTx(ctx, func(tx Tx) error {
			got, err := tx.GetOwner(ctx, owner.OwnerID)
			require.NoError(t, err)
			require.Equal(t, "Ada", got.FirstName)
			require.Equal(t, "manager-1", got.AssignedManagerID)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("rollback discards every write", func(t *testing.T) {
		err := store.WithTx(ctx, func(tx Tx) error {
			current, err := tx.GetOwner(ctx, owner.OwnerID)
			require.NoError(t, err)
			current.FirstName = "Rolled"
			current.UpdatedAt = now.Add(time.Second)
			_, err = tx.UpdateOwner(ctx, current, current.Version)
			require.NoError(t, err)
			require.NoError(t, tx.AppendAuditEntry(ctx, AuditEntryRecord{
				EntryID:     "rollback-entry",
				EntityType:  "BusinessOwner",
				EntityID:    owner.OwnerID.String(),
				OwnerID:     owner.OwnerID,
				Action:      "UPDATE",
				PerformedBy: "manager-1",
				Timestamp:   now,
			}))
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)

		err = store.WithTx(ctx, func(tx Tx) error {
			got, err := tx.GetOwner(ctx, owner.OwnerID)
			require.NoError(t, err)
			require.Equal(t, "Ada", got.FirstName)
			require.Equal(t, int64(1), got.Version)

			entries, err := tx.ListAuditEntries(ctx, AuditQuery{OwnerID: owner.OwnerID})
			require.NoError(t, err)
			require.Empty(t, entries)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		err := store.WithTx(ctx, func(tx Tx) error {
			current, err := tx.GetOwner(ctx, owner.OwnerID)
			require.NoError(t, err)
			current.FirstName = "Augusta"
			current.UpdatedAt = now.Add(2 * time.Second)
			updated, err := tx.UpdateOwner(ctx, current, current.Version)
			require.NoError(t, err)
			require.Equal(t, current.Version+1, updated.Version)
			return nil
		})
		require.NoError(t, err)

		err = store.WithTx(ctx, func(tx Tx) error {
			current, err := tx.GetOwner(ctx, owner.OwnerID)
			require.NoError(t, err)
			current.FirstName = "Lost"
			_, err = tx.UpdateOwner(ctx, current, 1)
			return err
		})
		require.ErrorIs(t, err, ErrStaleVersion)
	})

	t.Run("one open attempt per owner", func(t *testing.T) {
		first := newAttemptRecord(owner.OwnerID, now)
		require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
			_, err := tx.InsertAttempt(ctx, first)
			return err
		}))

		err := store.WithTx(ctx, func(tx Tx) error {
			_, err := tx.InsertAttempt(ctx, newAttemptRecord(owner.OwnerID, now.Add(time.Second)))
			return err
		})
		require.ErrorIs(t, err, ErrOpenAttemptExists)

		require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
			open, err := tx.FindOpenAttempt(ctx, owner.OwnerID)
			require.NoError(t, err)
			require.Equal(t, first.AttemptID, open.AttemptID)
			require.Equal(t, "INCOMPLETE", open.Sections.BusinessAffiliation.Status)

			completed := now.Add(time.Minute)
			open.CompletedAt = &completed
			open.Decision = "REJECTED"
			open.UpdatedAt = completed
			closed, err := tx.UpdateAttempt(ctx, open, open.Version)
			require.NoError(t, err)
			require.False(t, closed.IsOpen())
			require.Equal(t, int64(2), closed.Version)

			_, err = tx.FindOpenAttempt(ctx, owner.OwnerID)
			require.ErrorIs(t, err, ErrAttemptNotFound)
			return nil
		}))
	})

	t.Run("document links and soft delete cascade", func(t *testing.T) {
		doc := DocumentRecord{
			DocumentID:   uuid.New(),
			OwnerID:      owner.OwnerID,
			Name:         "passport.pdf",
			DocumentType: "PASSPORT",
			StorageKey:   "owners/passport.pdf",
			UploadedBy:   "manager-1",
			CreatedAt:    now,
		}
		attempt := newAttemptRecord(owner.OwnerID, now.Add(2*time.Minute))

		require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
			_, err := tx.InsertDocument(ctx, doc)
			require.NoError(t, err)
			_, err = tx.InsertAttempt(ctx, attempt)
			require.NoError(t, err)
			_, err = tx.InsertDocumentVerification(ctx, DocumentVerificationRecord{
				DocumentVerificationID: uuid.New(),
				AttemptID:              attempt.AttemptID,
				DocumentID:             doc.DocumentID,
				Status:                 "PENDING",
				CreatedAt:              now,
			})
			require.NoError(t, err)

			links, err := tx.ListOpenDocumentLinks(ctx, doc.DocumentID)
			require.NoError(t, err)
			require.Len(t, links, 1)
			return nil
		}))

		require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
			current, err := tx.GetOwner(ctx, owner.OwnerID)
			require.NoError(t, err)
			_, err = tx.SoftDeleteOwner(ctx, owner.OwnerID, current.Version, now.Add(time.Hour), "closed business")
			require.NoError(t, err)
			count, err := tx.SoftDeleteOwnerDocuments(ctx, owner.OwnerID, now.Add(time.Hour))
			require.NoError(t, err)
			require.Equal(t, int64(1), count)
			return nil
		}))

		require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
			_, err := tx.GetOwner(ctx, owner.OwnerID)
			require.ErrorIs(t, err, ErrOwnerNotFound)
			_, err = tx.GetDocument(ctx, doc.DocumentID)
			require.ErrorIs(t, err, ErrDocumentNotFound)

			attempts, err := tx.ListAttempts(ctx, owner.OwnerID)
			require.NoError(t, err)
			require.Len(t, attempts, 2)
			return nil
		}))
	})

	t.Run("certificates", func(t *testing.T) {
		other := newOwnerRecord("manager-2", now)
		older := newAttemptRecord(other.OwnerID, now)
		newer := newAttemptRecord(other.OwnerID, now.Add(time.Hour))
		completed := now.Add(time.Minute)
		older.CompletedAt = &completed

		require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
			_, err := tx.InsertOwner(ctx, other)
			require.NoError(t, err)
			_, err = tx.InsertAttempt(ctx, older)
			require.NoError(t, err)
			_, err = tx.InsertAttempt(ctx, newer)
			require.NoError(t, err)

			for i, attempt := range []AttemptRecord{older, newer} {
				issued := now.Add(time.Duration(i) * time.Hour)
				_, err := tx.InsertCertificate(ctx, CertificateRecord{
					CertificateID:    uuid.New(),
					OwnerID:          other.OwnerID,
					AttemptID:        attempt.AttemptID,
					IssuedAt:         issued,
					ExpiresAt:        issued.Add(24 * time.Hour),
					VerificationHash: "hash",
					ValidationURL:    "https://example.com",
				})
				require.NoError(t, err)
			}

			latest, err := tx.LatestCertificate(ctx, other.OwnerID)
			require.NoError(t, err)
			require.Equal(t, newer.AttemptID, latest.AttemptID)

			_, err = tx.GetCertificate(ctx, uuid.New())
			require.ErrorIs(t, err, ErrCertificateNotFound)
			return nil
		}))
	})

	t.Run("audit entries page in time then id order", func(t *testing.T) {
		auditOwner := uuid.New()
		require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
			for _, id := range []string{"b", "a", "c"} {
				require.NoError(t, tx.AppendAuditEntry(ctx, AuditEntryRecord{
					EntryID:      "audit-" + id,
					EntityType:   "VerificationAttempt",
					EntityID:     "attempt-1",
					OwnerID:      auditOwner,
					Action:       "UPDATE",
					PerformedBy:  "manager-1",
					FieldChanges: map[string]FieldChange{"decision": {Old: "PENDING", New: "REJECTED"}},
					Timestamp:    now,
				}))
			}
			return nil
		}))

		require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
			entries, err := tx.ListAuditEntries(ctx, AuditQuery{OwnerID: auditOwner, Limit: 2, Offset: 1})
			require.NoError(t, err)
			require.Len(t, entries, 2)
			require.Equal(t, "audit-b", entries[0].EntryID)
			require.Equal(t, "audit-c", entries[1].EntryID)
			require.Equal(t, "REJECTED", entries[0].FieldChanges["decision"].New)
			return nil
		}))
	})
}
