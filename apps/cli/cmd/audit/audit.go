package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/permitdesk/platform/go/persistence"
)

// Command groups audit log helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit log utilities",
	}

	cmd.AddCommand(listCommand())
	return cmd
}

func listCommand() *cobra.Command {
	var (
		databaseURL string
		ownerID     string
		entityType  string
		entityID    string
		limit       int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries of a business owner, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := uuid.Parse(ownerID)
			if err != nil {
				return fmt.Errorf("invalid --owner-id: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL, ApplicationName: "permitdesk-cli"})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			entries, err := listEntries(ctx, persistence.NewPostgresStore(pool), persistence.AuditQuery{
				OwnerID:    owner,
				EntityType: entityType,
				EntityID:   entityID,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return renderJSON(cmd.OutOrStdout(), entries)
			}
			return renderEntries(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "business owner id")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "filter by entity type (BusinessOwner, Document, VerificationAttempt, DocumentVerification)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "filter by entity id")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to print (max 200)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")

	_ = cmd.MarkFlagRequired("database-url")
	_ = cmd.MarkFlagRequired("owner-id")

	return cmd
}

func listEntries(ctx context.Context, store persistence.Store, query persistence.AuditQuery) ([]persistence.AuditEntryRecord, error) {
	var entries []persistence.AuditEntryRecord
	err := store.WithTx(ctx, func(tx persistence.Tx) error {
		var err error
		entries, err = tx.ListAuditEntries(ctx, query)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

func renderEntries(w io.Writer, entries []persistence.AuditEntryRecord) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No audit entries found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tENTITY\tACTION\tBY\tFIELDS")
	for _, entry := range entries {
		fields := make([]string, 0, len(entry.FieldChanges))
		for name := range entry.FieldChanges {
			fields = append(fields, name)
		}
		sort.Strings(fields)

		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%s\n",
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.EntityType,
			entry.EntityID,
			entry.Action,
			entry.PerformedBy,
			strings.Join(fields, ","),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return nil
}

// renderJSON writes entries as indented JSON.
func renderJSON(w io.Writer, entries []persistence.AuditEntryRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
