package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/zenGate-Global/permitdesk/database"
)

// BootstrapSchema applies the verification DDL in a single transaction, in this order:
//  1. schema/business_owners.sql
//  2. schema/verification_attempts.sql
//  3. schema/audit_log.sql
//  4. schema/certificates.sql
//
// SQL is embedded at build time so binaries stay self-contained. Every
// statement is idempotent, so the helper is safe to run on each start.
func BootstrapSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap schema: pool is required")
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range SchemaStatements() {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SchemaStatements returns the embedded DDL split into executable statements.
func SchemaStatements() []string {
	var statements []string
	statements = append(statements, splitStatements(sqlassets.BusinessOwnersSQL)...)
	statements = append(statements, splitStatements(sqlassets.VerificationAttemptsSQL)...)
	statements = append(statements, splitStatements(sqlassets.AuditLogSQL)...)
	statements = append(statements, splitStatements(sqlassets.CertificatesSQL)...)
	return statements
}

func splitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		stmt := strings.TrimSpace(part)
		if stmt == "" || isCommentOnly(stmt) {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

func isCommentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
