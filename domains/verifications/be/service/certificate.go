package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/permitdesk/platform/go/ids"
	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
)

// DefaultCertificateValidity is how long a certificate stays valid when not configured.
const DefaultCertificateValidity = 365 * 24 * time.Hour

// CertificateIssuer mints certificates for VERIFIED attempts.
type CertificateIssuer struct {
	Validity time.Duration
	// BaseURL prefixes the public validation link, e.g. https://permitdesk.dev.
	BaseURL string
}

// VerificationHash is the hex SHA-256 of "attemptId|ownerId|issuedAt" with issuedAt in
// RFC 3339 UTC at microsecond precision. Third parties can recompute it from the
// certificate fields alone.
func VerificationHash(attemptID, ownerID uuid.UUID, issuedAt time.Time) string {
	payload := attemptID.String() + "|" + ownerID.String() + "|" +
		issuedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Issue builds the certificate row for attempt. It does not persist it.
func (i CertificateIssuer) Issue(attempt persistence.AttemptRecord, issuedAt time.Time) persistence.CertificateRecord {
	issuedAt = issuedAt.UTC().Truncate(time.Microsecond)
	certificateID := ids.NewEntityID()
	hash := VerificationHash(attempt.AttemptID, attempt.OwnerID, issuedAt)

	return persistence.CertificateRecord{
		CertificateID:    certificateID,
		OwnerID:          attempt.OwnerID,
		AttemptID:        attempt.AttemptID,
		IssuedAt:         issuedAt,
		ExpiresAt:        issuedAt.Add(i.Validity),
		VerificationHash: hash,
		ValidationURL:    i.validationURL(certificateID, hash),
	}
}

func (i CertificateIssuer) validationURL(certificateID uuid.UUID, hash string) string {
	base := strings.TrimSuffix(i.BaseURL, "/")
	return base + "/api/v1/certificates/" + certificateID.String() + "/validate?hash=" + url.QueryEscape(hash)
}

func (s *service) ValidateCertificate(ctx context.Context, certificateID uuid.UUID, hash string) (CertificateValidation, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return CertificateValidation{}, newValidationError(map[string]string{"hash": "hash is required"})
	}

	var result CertificateValidation
	err := s.store.WithTx(ctx, func(tx persistence.Tx) error {
		cert, err := tx.GetCertificate(ctx, certificateID)
		if err != nil {
			return err
		}

		latest, err := tx.LatestCertificate(ctx, cert.OwnerID)
		if err != nil && !errors.Is(err, persistence.ErrCertificateNotFound) {
			return err
		}

		expected := VerificationHash(cert.AttemptID, cert.OwnerID, cert.IssuedAt)
		valid := subtle.ConstantTimeCompare([]byte(expected), []byte(hash)) == 1 &&
			subtle.ConstantTimeCompare([]byte(expected), []byte(cert.VerificationHash)) == 1

		result = CertificateValidation{
			CertificateID: cert.CertificateID,
			OwnerID:       cert.OwnerID,
			IssuedAt:      cert.IssuedAt,
			ExpiresAt:     cert.ExpiresAt,
			Valid:         valid,
			Current:       latest.CertificateID == cert.CertificateID,
			Expired:       !s.clock.Now().Before(cert.ExpiresAt),
		}
		return nil
	})
	if err != nil {
		return CertificateValidation{}, mapPersistenceError(err)
	}
	return result, nil
}
