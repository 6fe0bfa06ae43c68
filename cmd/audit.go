package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"strdash/storage"
)

var errAuditDisabled = errors.New("audit trail is disabled (audit.enabled=false)")

// newAuditCmd creates the 'audit' subcommand
func newAuditCmd() *cobra.Command {
	var (
		limit int
		kind  string
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent investigator actions",
		Long:  "List the most recent searches, connection attempts and exports from the audit trail.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			if app.Storage.Audit == nil {
				return errAuditDisabled
			}
			events, err := app.Storage.Audit.Recent(ctx, limit, kind)
			if err != nil {
				return fmt.Errorf("failed to read audit trail: %w", err)
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), events)
			}
			renderAuditTable(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to show")
	cmd.Flags().StringVar(&kind, "kind", "", "Only show one kind: search, connection or export")

	return cmd
}

func renderAuditTable(w io.Writer, events []storage.AuditEvent) {
	if len(events) == 0 {
		warningColor.Fprintln(w, "No audit entries")
		return
	}

	headerColor.Fprintln(w, "AUDIT TRAIL")
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%-16s %-11s %-14s %-18s %-10s %s\n",
		"When", "Kind", "Actor", "Subject", "Took", "Outcome")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, e := range events {
		actor := e.Actor
		if actor == "" {
			actor = "-"
		}
		fmt.Fprintf(w, "%-16s %-11s %-14s %-18s %-10s %s\n",
			humanize.Time(e.CreatedAt),
			e.Kind,
			truncate(actor, 14),
			truncate(e.Subject, 18),
			e.Duration.Round(time.Millisecond),
			formatOutcome(e.Outcome))
	}

	fmt.Fprintln(w, strings.Repeat("=", 100))
}

func formatOutcome(outcome string) string {
	switch outcome {
	case "success", "connected", "both", "sections_rendered":
		return successColor.Sprint(outcome)
	case "primary_only", "analytics_only", "skipped":
		return warningColor.Sprint(outcome)
	default:
		return errorColor.Sprint(outcome)
	}
}
