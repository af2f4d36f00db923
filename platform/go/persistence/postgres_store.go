package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation   = "23505"
	openAttemptIndex    = "verification_attempts_open_owner_idx"
	ownerColumns        = "owner_id, first_name, last_name, email, phone, address, tax_id, id_license_number, verification_status, last_verified_at, verification_expires_at, assigned_manager_id, version, created_at, updated_at, deleted_at, deletion_reason"
	documentColumns     = "document_id, owner_id, name, document_type, storage_key, uploaded_by, version, created_at, updated_at, deleted_at"
	attemptColumns      = "attempt_id, owner_id, initiated_at, initiated_by, initiated_by_name, completed_at, decision, decision_reason, sections, draft_data, version, updated_at"
	docVerifColumns     = "document_verification_id, attempt_id, document_id, status, notes, version, created_at, updated_at"
	auditColumns        = "entry_id, entity_type, entity_id, owner_id, action, performed_by, performed_by_name, performed_by_role, field_changes, metadata, occurred_at"
	certificateColumns  = "certificate_id, owner_id, attempt_id, issued_at, expires_at, verification_hash, validation_url"
	prefixedDocVerifCol = "dv.document_verification_id, dv.attempt_id, dv.document_id, dv.status, dv.notes, dv.version, dv.created_at, dv.updated_at"
)

// txBeginner exposes the minimal pgx pool behaviour needed by PostgresStore.
type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresStore implements Store on top of a pgx pool.
type PostgresStore struct {
	pool txBeginner
}

// NewPostgresStore wraps the pool. Schema DDL is applied separately via BootstrapSchema.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("PostgresStore requires pool")
	}
	return &PostgresStore{pool: pool}
}

// WithTx executes fn inside a read-committed transaction. Rows read through
// GetOwner/GetAttempt are locked FOR UPDATE until the transaction ends.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertOwner(ctx context.Context, rec OwnerRecord) (OwnerRecord, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO business_owners (
			owner_id, first_name, last_name, email, phone, address, tax_id, id_license_number,
			verification_status, assigned_manager_id, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $11)
		RETURNING `+ownerColumns,
		rec.OwnerID, rec.FirstName, rec.LastName, rec.Email, rec.Phone, rec.Address, rec.TaxID, rec.IDLicenseNumber,
		rec.VerificationStatus, rec.AssignedManagerID, rec.CreatedAt,
	)
	owner, err := scanOwner(row)
	if err != nil {
		if isUniqueViolation(err) {
			return OwnerRecord{}, ErrDuplicate
		}
		return OwnerRecord{}, fmt.Errorf("insert owner: %w", err)
	}
	return owner, nil
}

func (t *pgTx) GetOwner(ctx context.Context, ownerID uuid.UUID) (OwnerRecord, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+ownerColumns+`
		FROM business_owners
		WHERE owner_id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, ownerID)
	owner, err := scanOwner(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OwnerRecord{}, ErrOwnerNotFound
		}
		return OwnerRecord{}, fmt.Errorf("get owner: %w", err)
	}
	return owner, nil
}

func (t *pgTx) UpdateOwner(ctx context.Context, rec OwnerRecord, expectedVersion int64) (OwnerRecord, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE business_owners
		SET first_name = $3, last_name = $4, email = $5, phone = $6, address = $7,
		    tax_id = $8, id_license_number = $9, verification_status = $10,
		    last_verified_at = $11, verification_expires_at = $12,
		    version = version + 1, updated_at = $13
		WHERE owner_id = $1 AND version = $2 AND deleted_at IS NULL
		RETURNING `+ownerColumns,
		rec.OwnerID, expectedVersion, rec.FirstName, rec.LastName, rec.Email, rec.Phone, rec.Address,
		rec.TaxID, rec.IDLicenseNumber, rec.VerificationStatus,
		rec.LastVerifiedAt, rec.VerificationExpiresAt, rec.UpdatedAt,
	)
	owner, err := scanOwner(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OwnerRecord{}, t.classifyMissingOwner(ctx, rec.OwnerID)
		}
		return OwnerRecord{}, fmt.Errorf("update owner: %w", err)
	}
	return owner, nil
}

func (t *pgTx) SoftDeleteOwner(ctx context.Context, ownerID uuid.UUID, expectedVersion int64, deletedAt time.Time, reason string) (OwnerRecord, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE business_owners
		SET deleted_at = $3, deletion_reason = $4, version = version + 1, updated_at = $3
		WHERE owner_id = $1 AND version = $2 AND deleted_at IS NULL
		RETURNING `+ownerColumns,
		ownerID, expectedVersion, deletedAt, reason,
	)
	owner, err := scanOwner(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OwnerRecord{}, t.classifyMissingOwner(ctx, ownerID)
		}
		return OwnerRecord{}, fmt.Errorf("soft delete owner: %w", err)
	}
	return owner, nil
}

// classifyMissingOwner distinguishes a vanished row from a concurrent version bump.
func (t *pgTx) classifyMissingOwner(ctx context.Context, ownerID uuid.UUID) error {
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM business_owners WHERE owner_id = $1 AND deleted_at IS NULL)`, ownerID).Scan(&exists); err != nil {
		return fmt.Errorf("check owner existence: %w", err)
	}
	if exists {
		return ErrStaleVersion
	}
	return ErrOwnerNotFound
}

func (t *pgTx) InsertDocument(ctx context.Context, rec DocumentRecord) (DocumentRecord, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO documents (document_id, owner_id, name, document_type, storage_key, uploaded_by, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
		RETURNING `+documentColumns,
		rec.DocumentID, rec.OwnerID, rec.Name, rec.DocumentType, rec.StorageKey, rec.UploadedBy, rec.CreatedAt,
	)
	doc, err := scanDocument(row)
	if err != nil {
		if isUniqueViolation(err) {
			return DocumentRecord{}, ErrDuplicate
		}
		return DocumentRecord{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (t *pgTx) GetDocument(ctx context.Context, documentID uuid.UUID) (DocumentRecord, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE document_id = $1 AND deleted_at IS NULL
	`, documentID)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DocumentRecord{}, ErrDocumentNotFound
		}
		return DocumentRecord{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (t *pgTx) ListDocuments(ctx context.Context, ownerID uuid.UUID) ([]DocumentRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]DocumentRecord, 0)
	for rows.Next() {
		doc, scanErr := scanDocument(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan document: %w", scanErr)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (t *pgTx) SoftDeleteOwnerDocuments(ctx context.Context, ownerID uuid.UUID, deletedAt time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE documents
		SET deleted_at = $2, version = version + 1, updated_at = $2
		WHERE owner_id = $1 AND deleted_at IS NULL
	`, ownerID, deletedAt)
	if err != nil {
		return 0, fmt.Errorf("soft delete documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) InsertAttempt(ctx context.Context, rec AttemptRecord) (AttemptRecord, error) {
	sections, err := json.Marshal(rec.Sections)
	if err != nil {
		return AttemptRecord{}, fmt.Errorf("encode sections: %w", err)
	}

	row := t.tx.QueryRow(ctx, `
		INSERT INTO verification_attempts (
			attempt_id, owner_id, initiated_at, initiated_by, initiated_by_name, completed_at,
			decision, decision_reason, sections, draft_data, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $3)
		RETURNING `+attemptColumns,
		rec.AttemptID, rec.OwnerID, rec.InitiatedAt, rec.InitiatedBy, rec.InitiatedByName, rec.CompletedAt,
		rec.Decision, rec.DecisionReason, sections, nullableJSON(rec.DraftData),
	)
	attempt, err := scanAttempt(row)
	if err != nil {
		if isUniqueViolationOn(err, openAttemptIndex) {
			return AttemptRecord{}, ErrOpenAttemptExists
		}
		if isUniqueViolation(err) {
			return AttemptRecord{}, ErrDuplicate
		}
		return AttemptRecord{}, fmt.Errorf("insert attempt: %w", err)
	}
	return attempt, nil
}

func (t *pgTx) GetAttempt(ctx context.Context, attemptID uuid.UUID) (AttemptRecord, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+attemptColumns+`
		FROM verification_attempts
		WHERE attempt_id = $1
		FOR UPDATE
	`, attemptID)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AttemptRecord{}, ErrAttemptNotFound
		}
		return AttemptRecord{}, fmt.Errorf("get attempt: %w", err)
	}
	return attempt, nil
}

func (t *pgTx) UpdateAttempt(ctx context.Context, rec AttemptRecord, expectedVersion int64) (AttemptRecord, error) {
	sections, err := json.Marshal(rec.Sections)
	if err != nil {
		return AttemptRecord{}, fmt.Errorf("encode sections: %w", err)
	}

	row := t.tx.QueryRow(ctx, `
		UPDATE verification_attempts
		SET completed_at = $3, decision = $4, decision_reason = $5, sections = $6, draft_data = $7,
		    version = version + 1, updated_at = $8
		WHERE attempt_id = $1 AND version = $2
		RETURNING `+attemptColumns,
		rec.AttemptID, expectedVersion, rec.CompletedAt, rec.Decision, rec.DecisionReason,
		sections, nullableJSON(rec.DraftData), rec.UpdatedAt,
	)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if existsErr := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM verification_attempts WHERE attempt_id = $1)`, rec.AttemptID).Scan(&exists); existsErr != nil {
				return AttemptRecord{}, fmt.Errorf("check attempt existence: %w", existsErr)
			}
			if exists {
				return AttemptRecord{}, ErrStaleVersion
			}
			return AttemptRecord{}, ErrAttemptNotFound
		}
		return AttemptRecord{}, fmt.Errorf("update attempt: %w", err)
	}
	return attempt, nil
}

func (t *pgTx) FindOpenAttempt(ctx context.Context, ownerID uuid.UUID) (AttemptRecord, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+attemptColumns+`
		FROM verification_attempts
		WHERE owner_id = $1 AND completed_at IS NULL
	`, ownerID)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AttemptRecord{}, ErrAttemptNotFound
		}
		return AttemptRecord{}, fmt.Errorf("find open attempt: %w", err)
	}
	return attempt, nil
}

func (t *pgTx) ListAttempts(ctx context.Context, ownerID uuid.UUID) ([]AttemptRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM verification_attempts
		WHERE owner_id = $1
		ORDER BY initiated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]AttemptRecord, 0)
	for rows.Next() {
		attempt, scanErr := scanAttempt(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan attempt: %w", scanErr)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

func (t *pgTx) InsertDocumentVerification(ctx context.Context, rec DocumentVerificationRecord) (DocumentVerificationRecord, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO document_verifications (
			document_verification_id, attempt_id, document_id, status, notes, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		RETURNING `+docVerifColumns,
		rec.DocumentVerificationID, rec.AttemptID, rec.DocumentID, rec.Status, rec.Notes, rec.CreatedAt,
	)
	dv, err := scanDocumentVerification(row)
	if err != nil {
		if isUniqueViolation(err) {
			return DocumentVerificationRecord{}, ErrDuplicate
		}
		return DocumentVerificationRecord{}, fmt.Errorf("insert document verification: %w", err)
	}
	return dv, nil
}

func (t *pgTx) GetDocumentVerification(ctx context.Context, attemptID, documentID uuid.UUID) (DocumentVerificationRecord, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+docVerifColumns+`
		FROM document_verifications
		WHERE attempt_id = $1 AND document_id = $2
		FOR UPDATE
	`, attemptID, documentID)
	dv, err := scanDocumentVerification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DocumentVerificationRecord{}, ErrDocumentVerificationNotFound
		}
		return DocumentVerificationRecord{}, fmt.Errorf("get document verification: %w", err)
	}
	return dv, nil
}

func (t *pgTx) UpdateDocumentVerification(ctx context.Context, rec DocumentVerificationRecord, expectedVersion int64) (DocumentVerificationRecord, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE document_verifications
		SET status = $3, notes = $4, version = version + 1, updated_at = $5
		WHERE document_verification_id = $1 AND version = $2
		RETURNING `+docVerifColumns,
		rec.DocumentVerificationID, expectedVersion, rec.Status, rec.Notes, rec.UpdatedAt,
	)
	dv, err := scanDocumentVerification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DocumentVerificationRecord{}, ErrStaleVersion
		}
		return DocumentVerificationRecord{}, fmt.Errorf("update document verification: %w", err)
	}
	return dv, nil
}

func (t *pgTx) ListDocumentVerifications(ctx context.Context, attemptID uuid.UUID) ([]DocumentVerificationRecord, error) {
	return t.queryDocumentVerifications(ctx, `
		SELECT `+docVerifColumns+`
		FROM document_verifications
		WHERE attempt_id = $1
		ORDER BY created_at ASC
	`, attemptID)
}

func (t *pgTx) ListOpenDocumentLinks(ctx context.Context, documentID uuid.UUID) ([]DocumentVerificationRecord, error) {
	return t.queryDocumentVerifications(ctx, `
		SELECT `+prefixedDocVerifCol+`
		FROM document_verifications dv
		JOIN verification_attempts va ON va.attempt_id = dv.attempt_id
		WHERE dv.document_id = $1 AND va.completed_at IS NULL
	`, documentID)
}

func (t *pgTx) queryDocumentVerifications(ctx context.Context, query string, args ...any) ([]DocumentVerificationRecord, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list document verifications: %w", err)
	}
	defer rows.Close()

	out := make([]DocumentVerificationRecord, 0)
	for rows.Next() {
		dv, scanErr := scanDocumentVerification(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan document verification: %w", scanErr)
		}
		out = append(out, dv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document verifications: %w", err)
	}
	return out, nil
}

func (t *pgTx) AppendAuditEntry(ctx context.Context, entry AuditEntryRecord) error {
	changes := entry.FieldChanges
	if changes == nil {
		changes = map[string]FieldChange{}
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("encode field changes: %w", err)
	}

	var metadataJSON []byte
	if len(entry.Metadata) > 0 {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	if _, err := t.tx.Exec(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		entry.EntryID, entry.EntityType, entry.EntityID, entry.OwnerID, entry.Action,
		entry.PerformedBy, entry.PerformedByName, entry.PerformedByRole,
		changesJSON, metadataJSON, entry.Timestamp,
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (t *pgTx) ListAuditEntries(ctx context.Context, query AuditQuery) ([]AuditEntryRecord, error) {
	whereParts := []string{"1=1"}
	var args []any

	if query.OwnerID != uuid.Nil {
		args = append(args, query.OwnerID)
		whereParts = append(whereParts, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if strings.TrimSpace(query.EntityType) != "" {
		args = append(args, strings.TrimSpace(query.EntityType))
		whereParts = append(whereParts, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if strings.TrimSpace(query.EntityID) != "" {
		args = append(args, strings.TrimSpace(query.EntityID))
		whereParts = append(whereParts, fmt.Sprintf("entity_id = $%d", len(args)))
	}

	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, normalizeAuditLimit(query.Limit), offset)

	sql := fmt.Sprintf(`
		SELECT %s
		FROM audit_log
		WHERE %s
		ORDER BY occurred_at ASC, entry_id ASC
		LIMIT $%d OFFSET $%d
	`, auditColumns, strings.Join(whereParts, " AND "), len(args)-1, len(args))

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]AuditEntryRecord, 0)
	for rows.Next() {
		entry, scanErr := scanAuditEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan audit entry: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func (t *pgTx) InsertCertificate(ctx context.Context, rec CertificateRecord) (CertificateRecord, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO certificates (`+certificateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+certificateColumns,
		rec.CertificateID, rec.OwnerID, rec.AttemptID, rec.IssuedAt, rec.ExpiresAt, rec.VerificationHash, rec.ValidationURL,
	)
	cert, err := scanCertificate(row)
	if err != nil {
		if isUniqueViolation(err) {
			return CertificateRecord{}, ErrDuplicate
		}
		return CertificateRecord{}, fmt.Errorf("insert certificate: %w", err)
	}
	return cert, nil
}

func (t *pgTx) GetCertificate(ctx context.Context, certificateID uuid.UUID) (CertificateRecord, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE certificate_id = $1`, certificateID)
	cert, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CertificateRecord{}, ErrCertificateNotFound
		}
		return CertificateRecord{}, fmt.Errorf("get certificate: %w", err)
	}
	return cert, nil
}

func (t *pgTx) LatestCertificate(ctx context.Context, ownerID uuid.UUID) (CertificateRecord, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+certificateColumns+`
		FROM certificates
		WHERE owner_id = $1
		ORDER BY issued_at DESC
		LIMIT 1
	`, ownerID)
	cert, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CertificateRecord{}, ErrCertificateNotFound
		}
		return CertificateRecord{}, fmt.Errorf("latest certificate: %w", err)
	}
	return cert, nil
}

func scanOwner(row pgx.Row) (OwnerRecord, error) {
	var o OwnerRecord
	if err := row.Scan(
		&o.OwnerID, &o.FirstName, &o.LastName, &o.Email, &o.Phone, &o.Address, &o.TaxID, &o.IDLicenseNumber,
		&o.VerificationStatus, &o.LastVerifiedAt, &o.VerificationExpiresAt, &o.AssignedManagerID,
		&o.Version, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt, &o.DeletionReason,
	); err != nil {
		return OwnerRecord{}, err
	}
	return o, nil
}

func scanDocument(row pgx.Row) (DocumentRecord, error) {
	var d DocumentRecord
	if err := row.Scan(
		&d.DocumentID, &d.OwnerID, &d.Name, &d.DocumentType, &d.StorageKey, &d.UploadedBy,
		&d.Version, &d.CreatedAt, &d.UpdatedAt, &d.DeletedAt,
	); err != nil {
		return DocumentRecord{}, err
	}
	return d, nil
}

func scanAttempt(row pgx.Row) (AttemptRecord, error) {
	var (
		a        AttemptRecord
		sections []byte
		draft    []byte
	)
	if err := row.Scan(
		&a.AttemptID, &a.OwnerID, &a.InitiatedAt, &a.InitiatedBy, &a.InitiatedByName, &a.CompletedAt,
		&a.Decision, &a.DecisionReason, &sections, &draft, &a.Version, &a.UpdatedAt,
	); err != nil {
		return AttemptRecord{}, err
	}
	if err := json.Unmarshal(sections, &a.Sections); err != nil {
		return AttemptRecord{}, fmt.Errorf("decode sections: %w", err)
	}
	if len(draft) > 0 {
		a.DraftData = json.RawMessage(draft)
	}
	return a, nil
}

func scanDocumentVerification(row pgx.Row) (DocumentVerificationRecord, error) {
	var dv DocumentVerificationRecord
	if err := row.Scan(
		&dv.DocumentVerificationID, &dv.AttemptID, &dv.DocumentID, &dv.Status, &dv.Notes,
		&dv.Version, &dv.CreatedAt, &dv.UpdatedAt,
	); err != nil {
		return DocumentVerificationRecord{}, err
	}
	return dv, nil
}

func scanAuditEntry(row pgx.Row) (AuditEntryRecord, error) {
	var (
		e        AuditEntryRecord
		changes  []byte
		metadata []byte
	)
	if err := row.Scan(
		&e.EntryID, &e.EntityType, &e.EntityID, &e.OwnerID, &e.Action,
		&e.PerformedBy, &e.PerformedByName, &e.PerformedByRole, &changes, &metadata, &e.Timestamp,
	); err != nil {
		return AuditEntryRecord{}, err
	}
	if err := json.Unmarshal(changes, &e.FieldChanges); err != nil {
		return AuditEntryRecord{}, fmt.Errorf("decode field changes: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return AuditEntryRecord{}, fmt.Errorf("decode audit metadata: %w", err)
		}
	}
	return e, nil
}

func scanCertificate(row pgx.Row) (CertificateRecord, error) {
	var c CertificateRecord
	if err := row.Scan(&c.CertificateID, &c.OwnerID, &c.AttemptID, &c.IssuedAt, &c.ExpiresAt, &c.VerificationHash, &c.ValidationURL); err != nil {
		return CertificateRecord{}, err
	}
	return c, nil
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isUniqueViolationOn(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

var _ Store = (*PostgresStore)(nil)
