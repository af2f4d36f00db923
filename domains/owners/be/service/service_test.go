package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/permitdesk/platform/go/audit"
	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
	"github.com/zenGate-Global/permitdesk/platform/go/requesttrace"
	"github.com/zenGate-Global/permitdesk/platform/go/storage"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func managerActor(id string) requesttrace.AuditInfo {
	return requesttrace.AuditInfo{
		ActorKind: requesttrace.ActorKindUser,
		UserID:    &id,
		UserName:  "Dana Manager",
		Role:      "manager",
		RequestID: "req-1",
	}
}

type fixture struct {
	store *persistence.MemoryStore
	clock *clockwork.FakeClock
	svc   Service
}

func newFixture(t *testing.T, docs DocumentStorage) fixture {
	t.Helper()
	store := persistence.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(fixedNow)
	return fixture{
		store: store,
		clock: clock,
		svc:   New(store, audit.NewWriter(clock, nil), clock, docs),
	}
}

func validCreateInput() CreateInput {
	return CreateInput{
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Email:           "ada@example.com",
		Phone:           "+44 20 0000 0000",
		Address:         "12 Analytical Row",
		TaxID:           "GB123456789",
		IDLicenseNumber: "DL-99887766",
	}
}

func auditEntries(t *testing.T, store persistence.Store, ownerID uuid.UUID) []persistence.AuditEntryRecord {
	t.Helper()
	var entries []persistence.AuditEntryRecord
	require.NoError(t, store.WithTx(context.Background(), func(tx persistence.Tx) error {
		var err error
		entries, err = tx.ListAuditEntries(context.Background(), persistence.AuditQuery{OwnerID: ownerID, Limit: 200})
		return err
	}))
	return entries
}

func strPtr(v string) *string { return &v }

func TestCreateAuditsAndMasks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DocumentStorage{})
	actor := managerActor("manager-1")

	owner, err := f.svc.Create(context.Background(), actor, validCreateInput())
	require.NoError(t, err)
	require.Equal(t, int64(1), owner.Version)
	require.Equal(t, StatusUnverified, owner.VerificationStatus)
	require.Equal(t, "manager-1", owner.AssignedManagerID)
	require.Equal(t, "****6789", owner.TaxID)
	require.Equal(t, "****7766", owner.IDLicenseNumber)

	entries := auditEntries(t, f.store, owner.ID)
	require.Len(t, entries, 1)
	require.Equal(t, string(audit.ActionCreate), entries[0].Action)
	require.Equal(t, "manager-1", entries[0].PerformedBy)
	require.Equal(t, "Dana Manager", entries[0].PerformedByName)
	require.Equal(t, "****6789", entries[0].FieldChanges["taxId"].New)
	require.Nil(t, entries[0].FieldChanges["taxId"].Old)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DocumentStorage{})
	_, err := f.svc.Create(context.Background(), managerActor("manager-1"), CreateInput{Email: "nope"})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "firstName")
	require.Contains(t, validationErr.Fields, "email")
	require.Contains(t, validationErr.Fields, "taxId")
}

func TestCreateRequiresUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DocumentStorage{})
	_, err := f.svc.Create(context.Background(), requesttrace.Anonymous("req"), validCreateInput())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestUpdateBumpsVersionAndAudits(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DocumentStorage{})
	actor := managerActor("manager-1")
	owner, err := f.svc.Create(context.Background(), actor, validCreateInput())
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	result, err := f.svc.Update(context.Background(), actor, owner.ID, UpdateInput{
		Email: strPtr("ada@analytical.org"),
		TaxID: strPtr("GB000011112222"),
	})
	require.NoError(t, err)
	require.Equal(t, owner.Version+1, result.Owner.Version)
	require.Equal(t, persistence.FieldChange{Old: "ada@example.com", New: "ada@analytical.org"}, result.Changes["email"])
	require.Equal(t, persistence.FieldChange{Old: "****6789", New: "****2222"}, result.Changes["taxId"])

	entries := auditEntries(t, f.store, owner.ID)
	require.Len(t, entries, 2)
	require.Equal(t, string(audit.ActionUpdate), entries[1].Action)
	require.Len(t, entries[1].FieldChanges, 2)
}

func TestTimestampsAreTruncatedToMicroseconds(t *testing.T) {
	t.Parallel()

	store := persistence.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(fixedNow.Add(123456789 * time.Nanosecond))
	svc := New(store, audit.NewWriter(clock, nil), clock, DocumentStorage{})
	actor := managerActor("manager-1")

	owner, err := svc.Create(context.Background(), actor, validCreateInput())
	require.NoError(t, err)
	require.Equal(t, fixedNow.Add(123456*time.Microsecond), owner.CreatedAt)

	clock.Advance(999 * time.Nanosecond)
	result, err := svc.Update(context.Background(), actor, owner.ID, UpdateInput{FirstName: strPtr("Augusta")})
	require.NoError(t, err)
	require.Equal(t, fixedNow.Add(123457*time.Microsecond), result.Owner.UpdatedAt)
	require.Equal(t, time.UTC, result.Owner.UpdatedAt.Location())
}

func TestUpdateIdenticalPatchWritesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DocumentStorage{})
	actor := managerActor("manager-1")
	owner, err := f.svc.Create(context.Background(), actor, validCreateInput())
	require.NoError(t, err)

	result, err := f.svc.Update(context.Background(), actor, owner.ID, UpdateInput{FirstName: strPtr("Ada")})
	require.NoError(t, err)
	require.Empty(t, result.Changes)
	require.Equal(t, owner.Version, result.Owner.Version)
	require.Len(t, auditEntries(t, f.store, owner.ID), 1)
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DocumentStorage{})
	actor := managerActor("manager-1")
	owner, err := f.svc.Create(context.Background(), actor, validCreateInput())
	require.NoError(t, err)

	readVersion := owner.Version
	_, err = f.svc.Update(context.Background(), actor, owner.ID, UpdateInput{Phone: strPtr("111"), ExpectedVersion: &readVersion})
	require.NoError(t, err)

	_, err = f.svc.Update(context.Background(), actor, owner.ID, UpdateInput{Phone: strPtr("222"), ExpectedVersion: &readVersion})
	require.ErrorIs(t, err, ErrConflict)

	current, err := f.svc.Get(context.Background(), actor, owner.ID)
	require.NoError(t, err)
	require.Equal(t, "111", current.Phone)
	require.Len(t, auditEntries(t, f.store, owner.ID), 2)
}

func TestUpdateByOtherManagerIsUnauthorized(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DocumentStorage{})
	owner, err := f.svc.Create(context.Background(), managerActor("manager-1"), validCreateInput())
	require.NoError(t, err)

	_, err = f.svc.Update(context.Background(), managerActor("manager-2"), owner.ID, UpdateInput{Phone: strPtr("1")})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Len(t, auditEntries(t, f.store, owner.ID), 1)
}

type failingAuditStore struct {
	persistence.Store
}

type failingAuditTx struct {
	persistence.Tx
}

func (s failingAuditStore) WithTx(ctx context.Context, fn func(tx persistence.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx persistence.Tx) error {
		return fn(failingAuditTx{Tx: tx})
	})
}

func (failingAuditTx) AppendAuditEntry(context.Context, persistence.AuditEntryRecord) error {
	return errors.New("audit table unavailable")
}

func TestUpdateRollsBackWhenAuditFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DocumentStorage{})
	actor := managerActor("manager-1")
	owner, err := f.svc.Create(context.Background(), actor, validCreateInput())
	require.NoError(t, err)

	broken := New(failingAuditStore{Store: f.store}, audit.NewWriter(f.clock, nil), f.clock, DocumentStorage{})
	_, err = broken.Update(context.Background(), actor, owner.ID, UpdateInput{Phone: strPtr("999")})
	require.Error(t, err)

	current, err := f.svc.Get(context.Background(), actor, owner.ID)
	require.NoError(t, err)
	require.Equal(t, owner.Version, current.Version)
	require.Equal(t, owner.Phone, current.Phone)
}

func TestDeleteBlockedByOpenAttempt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DocumentStorage{})
	actor := managerActor("manager-1")
	owner, err := f.svc.Create(context.Background(), actor, validCreateInput())
	require.NoError(t, err)

	attemptID := uuid.New()
	require.NoError(t, f.store.WithTx(context.Background(), func(tx persistence.Tx) error {
		_, err := tx.InsertAttempt(context.Background(), persistence.AttemptRecord{
			AttemptID:   attemptID,
			OwnerID:     owner.ID,
			InitiatedAt: fixedNow,
			InitiatedBy: "manager-1",
			Decision:    "PENDING",
		})
		return err
	}))

	_, err = f.svc.Delete(context.Background(), actor, owner.ID, DeleteInput{Reason: "duplicate"})
	var openErr *OpenAttemptError
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, attemptID, openErr.AttemptID)
	require.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Get(context.Background(), actor, owner.ID)
	require.NoError(t, err)
}

func TestDeleteCascadesDocuments(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DocumentStorage{})
	actor := managerActor("manager-1")
	owner, err := f.svc.Create(context.Background(), actor, validCreateInput())
	require.NoError(t, err)

	_, err = f.svc.RegisterDocument(context.Background(), actor, owner.ID, RegisterDocumentInput{
		Name: "Passport", DocumentType: "ID", StorageKey: "identity/passport.pdf",
	})
	require.NoError(t, err)

	_, err = f.svc.Delete(context.Background(), actor, owner.ID, DeleteInput{})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	result, err := f.svc.Delete(context.Background(), actor, owner.ID, DeleteInput{Reason: "closed business"})
	require.NoError(t, err)
	require.Equal(t, int64(1), result.DocumentsDeleted)
	require.Zero(t, result.VerificationAttemptsRetained)

	_, err = f.svc.Get(context.Background(), actor, owner.ID)
	require.ErrorIs(t, err, ErrNotFound)

	entries := auditEntries(t, f.store, owner.ID)
	last := entries[len(entries)-1]
	require.Equal(t, string(audit.ActionDelete), last.Action)
	require.Equal(t, "closed business", last.Metadata["reason"])
	require.EqualValues(t, 1, last.Metadata["documentsDeleted"])
}

func TestRegisterDocumentChecksBlob(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := newFixture(t, DocumentStorage{Checker: storage.NewLocalChecker(dir)})
	actor := managerActor("manager-1")
	owner, err := f.svc.Create(context.Background(), actor, validCreateInput())
	require.NoError(t, err)

	input := RegisterDocumentInput{Name: "Lease", DocumentType: "ADDRESS", StorageKey: "address/lease.pdf"}
	_, err = f.svc.RegisterDocument(context.Background(), actor, owner.ID, input)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "storageKey")

	blob := filepath.Join(dir, "owners", owner.ID.String(), "address", "lease.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(blob), 0o755))
	require.NoError(t, os.WriteFile(blob, []byte("%PDF"), 0o600))

	doc, err := f.svc.RegisterDocument(context.Background(), actor, owner.ID, input)
	require.NoError(t, err)
	require.Equal(t, storage.OwnerPrefix(owner.ID)+"address/lease.pdf", doc.StorageKey)
	require.Equal(t, "manager-1", doc.UploadedBy)

	docs, err := f.svc.ListDocuments(context.Background(), actor, owner.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestListAuditLogFilters(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DocumentStorage{})
	actor := managerActor("manager-1")
	owner, err := f.svc.Create(context.Background(), actor, validCreateInput())
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.svc.RegisterDocument(context.Background(), actor, owner.ID, RegisterDocumentInput{
		Name: "Passport", DocumentType: "ID", StorageKey: "identity/passport.pdf",
	})
	require.NoError(t, err)

	all, err := f.svc.ListAuditLog(context.Background(), actor, AuditQuery{OwnerID: owner.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)

	docsOnly, err := f.svc.ListAuditLog(context.Background(), actor, AuditQuery{OwnerID: owner.ID, EntityType: audit.EntityDocument})
	require.NoError(t, err)
	require.Len(t, docsOnly, 1)

	_, err = f.svc.ListAuditLog(context.Background(), actor, AuditQuery{OwnerID: owner.ID, EntityType: "Tenant"})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = f.svc.ListAuditLog(context.Background(), managerActor("manager-2"), AuditQuery{OwnerID: owner.ID})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestMaskSensitive(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", MaskSensitive(""))
	require.Equal(t, "****", MaskSensitive("123"))
	require.Equal(t, "****", MaskSensitive("1234"))
	require.Equal(t, "****2345", MaskSensitive("12345"))
}
