package sqlassets

import _ "embed"

//go:embed schema/business_owners.sql
var BusinessOwnersSQL string

//go:embed schema/verification_attempts.sql
var VerificationAttemptsSQL string

//go:embed schema/audit_log.sql
var AuditLogSQL string

//go:embed schema/certificates.sql
var CertificatesSQL string
