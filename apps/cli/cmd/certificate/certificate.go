package certificate

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	verificationsservice "github.com/zenGate-Global/permitdesk/domains/verifications/be/service"
)

// Command groups certificate helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certificate",
		Short: "Certificate utilities",
	}

	cmd.AddCommand(hashCommand())
	return cmd
}

// hashCommand recomputes a verification hash offline so a third party can check a
// certificate without calling the API.
func hashCommand() *cobra.Command {
	var (
		attemptID string
		ownerID   string
		issuedAt  string
		expect    string
	)

	c := &cobra.Command{
		Use:   "hash",
		Short: "Recompute a certificate verification hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			attempt, err := uuid.Parse(attemptID)
			if err != nil {
				return fmt.Errorf("invalid --attempt-id: %w", err)
			}
			owner, err := uuid.Parse(ownerID)
			if err != nil {
				return fmt.Errorf("invalid --owner-id: %w", err)
			}
			issued, err := time.Parse(time.RFC3339Nano, issuedAt)
			if err != nil {
				return fmt.Errorf("invalid --issued-at (RFC 3339): %w", err)
			}

			hash := verificationsservice.VerificationHash(attempt, owner, issued)
			fmt.Fprintln(cmd.OutOrStdout(), hash)

			if expect != "" && subtle.ConstantTimeCompare([]byte(hash), []byte(expect)) != 1 {
				return fmt.Errorf("hash mismatch: certificate is not authentic")
			}
			return nil
		},
	}

	c.Flags().StringVar(&attemptID, "attempt-id", "", "verification attempt id")
	c.Flags().StringVar(&ownerID, "owner-id", "", "business owner id")
	c.Flags().StringVar(&issuedAt, "issued-at", "", "certificate issuedAt (RFC 3339)")
	c.Flags().StringVar(&expect, "expect", "", "fail unless the recomputed hash equals this value")

	_ = c.MarkFlagRequired("attempt-id")
	_ = c.MarkFlagRequired("owner-id")
	_ = c.MarkFlagRequired("issued-at")

	return c
}
