package persistence

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Transactions are serialised and run
// against a cloned copy of the state; the copy replaces the live state only
// when fn returns nil, so a failed transaction leaves no partial writes.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	owners        map[uuid.UUID]OwnerRecord
	documents     map[uuid.UUID]DocumentRecord
	attempts      map[uuid.UUID]AttemptRecord
	docVerifs     map[uuid.UUID]DocumentVerificationRecord
	certificates  map[uuid.UUID]CertificateRecord
	audit         []AuditEntryRecord
	auditEntryIDs map[string]struct{}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func newMemoryState() memoryState {
	return memoryState{
		owners:        map[uuid.UUID]OwnerRecord{},
		documents:     map[uuid.UUID]DocumentRecord{},
		attempts:      map[uuid.UUID]AttemptRecord{},
		docVerifs:     map[uuid.UUID]DocumentVerificationRecord{},
		certificates:  map[uuid.UUID]CertificateRecord{},
		audit:         []AuditEntryRecord{},
		auditEntryIDs: map[string]struct{}{},
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.owners {
		out.owners[k] = v
	}
	for k, v := range s.documents {
		out.documents[k] = v
	}
	for k, v := range s.attempts {
		out.attempts[k] = cloneAttempt(v)
	}
	for k, v := range s.docVerifs {
		out.docVerifs[k] = v
	}
	for k, v := range s.certificates {
		out.certificates[k] = v
	}
	out.audit = append(out.audit, s.audit...)
	for k := range s.auditEntryIDs {
		out.auditEntryIDs[k] = struct{}{}
	}
	return out
}

func cloneAttempt(a AttemptRecord) AttemptRecord {
	if a.DraftData != nil {
		a.DraftData = append(json.RawMessage(nil), a.DraftData...)
	}
	return a
}

// WithTx runs fn against a private copy of the state and publishes it on success.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&memTx{state: &working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = working
	return nil
}

type memTx struct {
	state *memoryState
}

func (t *memTx) InsertOwner(_ context.Context, rec OwnerRecord) (OwnerRecord, error) {
	if _, exists := t.state.owners[rec.OwnerID]; exists {
		return OwnerRecord{}, ErrDuplicate
	}
	rec.Version = 1
	rec.UpdatedAt = rec.CreatedAt
	t.state.owners[rec.OwnerID] = rec
	return rec, nil
}

func (t *memTx) GetOwner(_ context.Context, ownerID uuid.UUID) (OwnerRecord, error) {
	owner, ok := t.state.owners[ownerID]
	if !ok || owner.DeletedAt != nil {
		return OwnerRecord{}, ErrOwnerNotFound
	}
	return owner, nil
}

func (t *memTx) UpdateOwner(_ context.Context, rec OwnerRecord, expectedVersion int64) (OwnerRecord, error) {
	current, ok := t.state.owners[rec.OwnerID]
	if !ok || current.DeletedAt != nil {
		return OwnerRecord{}, ErrOwnerNotFound
	}
	if current.Version != expectedVersion {
		return OwnerRecord{}, ErrStaleVersion
	}

	updated := current
	updated.FirstName = rec.FirstName
	updated.LastName = rec.LastName
	updated.Email = rec.Email
	updated.Phone = rec.Phone
	updated.Address = rec.Address
	updated.TaxID = rec.TaxID
	updated.IDLicenseNumber = rec.IDLicenseNumber
	updated.VerificationStatus = rec.VerificationStatus
	updated.LastVerifiedAt = rec.LastVerifiedAt
	updated.VerificationExpiresAt = rec.VerificationExpiresAt
	updated.UpdatedAt = rec.UpdatedAt
	updated.Version = current.Version + 1

	t.state.owners[rec.OwnerID] = updated
	return updated, nil
}

func (t *memTx) SoftDeleteOwner(_ context.Context, ownerID uuid.UUID, expectedVersion int64, deletedAt time.Time, reason string) (OwnerRecord, error) {
	current, ok := t.state.owners[ownerID]
	if !ok || current.DeletedAt != nil {
		return OwnerRecord{}, ErrOwnerNotFound
	}
	if current.Version != expectedVersion {
		return OwnerRecord{}, ErrStaleVersion
	}

	ts := deletedAt
	r := reason
	current.DeletedAt = &ts
	current.DeletionReason = &r
	current.UpdatedAt = deletedAt
	current.Version++

	t.state.owners[ownerID] = current
	return current, nil
}

func (t *memTx) InsertDocument(_ context.Context, rec DocumentRecord) (DocumentRecord, error) {
	if _, exists := t.state.documents[rec.DocumentID]; exists {
		return DocumentRecord{}, ErrDuplicate
	}
	rec.Version = 1
	rec.UpdatedAt = rec.CreatedAt
	t.state.documents[rec.DocumentID] = rec
	return rec, nil
}

func (t *memTx) GetDocument(_ context.Context, documentID uuid.UUID) (DocumentRecord, error) {
	doc, ok := t.state.documents[documentID]
	if !ok || doc.DeletedAt != nil {
		return DocumentRecord{}, ErrDocumentNotFound
	}
	return doc, nil
}

func (t *memTx) ListDocuments(_ context.Context, ownerID uuid.UUID) ([]DocumentRecord, error) {
	docs := make([]DocumentRecord, 0)
	for _, doc := range t.state.documents {
		if doc.OwnerID == ownerID && doc.DeletedAt == nil {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].DocumentID.String() < docs[j].DocumentID.String()
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

func (t *memTx) SoftDeleteOwnerDocuments(_ context.Context, ownerID uuid.UUID, deletedAt time.Time) (int64, error) {
	var count int64
	for id, doc := range t.state.documents {
		if doc.OwnerID != ownerID || doc.DeletedAt != nil {
			continue
		}
		ts := deletedAt
		doc.DeletedAt = &ts
		doc.UpdatedAt = deletedAt
		doc.Version++
		t.state.documents[id] = doc
		count++
	}
	return count, nil
}

func (t *memTx) InsertAttempt(_ context.Context, rec AttemptRecord) (AttemptRecord, error) {
	if _, exists := t.state.attempts[rec.AttemptID]; exists {
		return AttemptRecord{}, ErrDuplicate
	}
	if rec.IsOpen() {
		for _, existing := range t.state.attempts {
			if existing.OwnerID == rec.OwnerID && existing.IsOpen() {
				return AttemptRecord{}, ErrOpenAttemptExists
			}
		}
	}
	rec.Version = 1
	rec.UpdatedAt = rec.InitiatedAt
	rec = cloneAttempt(rec)
	t.state.attempts[rec.AttemptID] = rec
	return cloneAttempt(rec), nil
}

func (t *memTx) GetAttempt(_ context.Context, attemptID uuid.UUID) (AttemptRecord, error) {
	attempt, ok := t.state.attempts[attemptID]
	if !ok {
		return AttemptRecord{}, ErrAttemptNotFound
	}
	return cloneAttempt(attempt), nil
}

func (t *memTx) UpdateAttempt(_ context.Context, rec AttemptRecord, expectedVersion int64) (AttemptRecord, error) {
	current, ok := t.state.attempts[rec.AttemptID]
	if !ok {
		return AttemptRecord{}, ErrAttemptNotFound
	}
	if current.Version != expectedVersion {
		return AttemptRecord{}, ErrStaleVersion
	}

	updated := current
	updated.CompletedAt = rec.CompletedAt
	updated.Decision = rec.Decision
	updated.DecisionReason = rec.DecisionReason
	updated.Sections = rec.Sections
	updated.DraftData = rec.DraftData
	updated.UpdatedAt = rec.UpdatedAt
	updated.Version = current.Version + 1
	updated = cloneAttempt(updated)

	t.state.attempts[rec.AttemptID] = updated
	return cloneAttempt(updated), nil
}

func (t *memTx) FindOpenAttempt(_ context.Context, ownerID uuid.UUID) (AttemptRecord, error) {
	for _, attempt := range t.state.attempts {
		if attempt.OwnerID == ownerID && attempt.IsOpen() {
			return cloneAttempt(attempt), nil
		}
	}
	return AttemptRecord{}, ErrAttemptNotFound
}

func (t *memTx) ListAttempts(_ context.Context, ownerID uuid.UUID) ([]AttemptRecord, error) {
	attempts := make([]AttemptRecord, 0)
	for _, attempt := range t.state.attempts {
		if attempt.OwnerID == ownerID {
			attempts = append(attempts, cloneAttempt(attempt))
		}
	}
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].InitiatedAt.After(attempts[j].InitiatedAt)
	})
	return attempts, nil
}

func (t *memTx) InsertDocumentVerification(_ context.Context, rec DocumentVerificationRecord) (DocumentVerificationRecord, error) {
	for _, existing := range t.state.docVerifs {
		if existing.DocumentVerificationID == rec.DocumentVerificationID ||
			(existing.AttemptID == rec.AttemptID && existing.DocumentID == rec.DocumentID) {
			return DocumentVerificationRecord{}, ErrDuplicate
		}
	}
	rec.Version = 1
	rec.UpdatedAt = rec.CreatedAt
	t.state.docVerifs[rec.DocumentVerificationID] = rec
	return rec, nil
}

func (t *memTx) GetDocumentVerification(_ context.Context, attemptID, documentID uuid.UUID) (DocumentVerificationRecord, error) {
	for _, dv := range t.state.docVerifs {
		if dv.AttemptID == attemptID && dv.DocumentID == documentID {
			return dv, nil
		}
	}
	return DocumentVerificationRecord{}, ErrDocumentVerificationNotFound
}

func (t *memTx) UpdateDocumentVerification(_ context.Context, rec DocumentVerificationRecord, expectedVersion int64) (DocumentVerificationRecord, error) {
	current, ok := t.state.docVerifs[rec.DocumentVerificationID]
	if !ok {
		return DocumentVerificationRecord{}, ErrDocumentVerificationNotFound
	}
	if current.Version != expectedVersion {
		return DocumentVerificationRecord{}, ErrStaleVersion
	}
	current.Status = rec.Status
	current.Notes = rec.Notes
	current.UpdatedAt = rec.UpdatedAt
	current.Version++
	t.state.docVerifs[rec.DocumentVerificationID] = current
	return current, nil
}

func (t *memTx) ListDocumentVerifications(_ context.Context, attemptID uuid.UUID) ([]DocumentVerificationRecord, error) {
	out := make([]DocumentVerificationRecord, 0)
	for _, dv := range t.state.docVerifs {
		if dv.AttemptID == attemptID {
			out = append(out, dv)
		}
	}
	sortDocumentVerifications(out)
	return out, nil
}

func (t *memTx) ListOpenDocumentLinks(_ context.Context, documentID uuid.UUID) ([]DocumentVerificationRecord, error) {
	out := make([]DocumentVerificationRecord, 0)
	for _, dv := range t.state.docVerifs {
		if dv.DocumentID != documentID {
			continue
		}
		if attempt, ok := t.state.attempts[dv.AttemptID]; ok && attempt.IsOpen() {
			out = append(out, dv)
		}
	}
	sortDocumentVerifications(out)
	return out, nil
}

func sortDocumentVerifications(items []DocumentVerificationRecord) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].DocumentVerificationID.String() < items[j].DocumentVerificationID.String()
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func (t *memTx) AppendAuditEntry(_ context.Context, entry AuditEntryRecord) error {
	if _, exists := t.state.auditEntryIDs[entry.EntryID]; exists {
		return ErrDuplicate
	}
	if entry.FieldChanges == nil {
		entry.FieldChanges = map[string]FieldChange{}
	}
	t.state.audit = append(t.state.audit, entry)
	t.state.auditEntryIDs[entry.EntryID] = struct{}{}
	return nil
}

func (t *memTx) ListAuditEntries(_ context.Context, query AuditQuery) ([]AuditEntryRecord, error) {
	entityType := strings.TrimSpace(query.EntityType)
	entityID := strings.TrimSpace(query.EntityID)

	matched := make([]AuditEntryRecord, 0)
	for _, entry := range t.state.audit {
		if query.OwnerID != uuid.Nil && entry.OwnerID != query.OwnerID {
			continue
		}
		if entityType != "" && entry.EntityType != entityType {
			continue
		}
		if entityID != "" && entry.EntityID != entityID {
			continue
		}
		matched = append(matched, entry)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].EntryID < matched[j].EntryID
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []AuditEntryRecord{}, nil
	}
	end := offset + normalizeAuditLimit(query.Limit)
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (t *memTx) InsertCertificate(_ context.Context, rec CertificateRecord) (CertificateRecord, error) {
	for _, existing := range t.state.certificates {
		if existing.CertificateID == rec.CertificateID || existing.AttemptID == rec.AttemptID {
			return CertificateRecord{}, ErrDuplicate
		}
	}
	t.state.certificates[rec.CertificateID] = rec
	return rec, nil
}

func (t *memTx) GetCertificate(_ context.Context, certificateID uuid.UUID) (CertificateRecord, error) {
	cert, ok := t.state.certificates[certificateID]
	if !ok {
		return CertificateRecord{}, ErrCertificateNotFound
	}
	return cert, nil
}

func (t *memTx) LatestCertificate(_ context.Context, ownerID uuid.UUID) (CertificateRecord, error) {
	var (
		latest CertificateRecord
		found  bool
	)
	for _, cert := range t.state.certificates {
		if cert.OwnerID != ownerID {
			continue
		}
		if !found || cert.IssuedAt.After(latest.IssuedAt) {
			latest = cert
			found = true
		}
	}
	if !found {
		return CertificateRecord{}, ErrCertificateNotFound
	}
	return latest, nil
}

var _ Store = (*MemoryStore)(nil)
