package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"strdash/api"
	"strdash/core"
	"strdash/render"
	"strdash/search"
)

// searchSummary is the JSON form of a CLI search.
type searchSummary struct {
	*search.Outcome
	Sections []sectionSummary `json:"sections"`
}

type sectionSummary struct {
	Section core.Section `json:"section"`
	Title   string       `json:"title"`
	Rows    int          `json:"rows"`
}

// newSearchCmd creates the 'search' subcommand
func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <alert-id>",
		Short: "Search an alert and summarise its sections",
		Long: `Connect the configured data sources, search the alert and print which
sections were rendered, failed or skipped along with the derived
transaction period.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			_, ws, cleanup, err := openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			outcome, err := runSearch(ctx, cmd, ws, args[0])
			if outcome != nil {
				if outputJSON {
					if jerr := outputAsJSON(cmd.OutOrStdout(), summarise(outcome, ws.Page.Sections())); jerr != nil {
						return jerr
					}
				} else {
					renderOutcome(cmd.OutOrStdout(), outcome, ws.Page.Sections())
				}
			}
			return err
		},
	}
}

// runSearch connects the sources and searches alertID in ws.
func runSearch(ctx context.Context, cmd *cobra.Command, ws *api.Workspace, alertID string) (*search.Outcome, error) {
	report, err := connectSources(ctx, cmd, ws, "")
	if err != nil {
		return nil, err
	}
	if !quiet && !outputJSON {
		renderConnectReport(cmd.ErrOrStderr(), report)
	}
	if err := requirePrimary(report); err != nil {
		return nil, err
	}

	stop := startSpinner(cmd.ErrOrStderr(), " Searching alert "+alertID+"...")
	defer stop()
	return ws.Search.Search(ctx, alertID)
}

func summarise(outcome *search.Outcome, views []render.SectionView) searchSummary {
	s := searchSummary{Outcome: outcome, Sections: make([]sectionSummary, 0, len(views))}
	for _, v := range views {
		s.Sections = append(s.Sections, sectionSummary{Section: v.Section, Title: v.Title, Rows: v.Rows})
	}
	return s
}

func renderOutcome(w io.Writer, outcome *search.Outcome, views []render.SectionView) {
	headerColor.Fprintf(w, "Alert %s\n", outcome.AlertID)
	headerColor.Fprintln(w, strings.Repeat("=", 60))

	if outcome.State == search.StateFailed {
		errorColor.Fprintf(w, "✖ %s\n", outcome.Message)
		return
	}

	printField(w, "State", string(outcome.State))
	printField(w, "Duration", outcome.Duration.Round(time.Millisecond).String())
	printField(w, "Representative rule", outcome.Derived.RepRuleID)
	printField(w, "Customer", outcome.Derived.CustIDForPerson)
	printField(w, "Rules", strings.Join(outcome.Derived.CanonicalIDs, ", "))
	if outcome.Period.Valid() {
		period := outcome.Period.Start + " ~ " + outcome.Period.End
		if outcome.Period.UsedKYCDate {
			period += " (KYC floor " + outcome.Period.KYCDate + ")"
		}
		printField(w, "Transaction period", period)
	} else {
		printField(w, "Transaction period", "")
	}
	fmt.Fprintln(w)

	for _, v := range views {
		successColor.Fprintf(w, "  ✔ %-20s", v.Section)
		fmt.Fprintf(w, " %s  %s rows\n", v.Title, humanize.Comma(int64(v.Rows)))
	}
	for _, s := range outcome.Failed {
		errorColor.Fprintf(w, "  ✖ %-20s failed\n", s)
	}
	for _, s := range outcome.Skipped {
		warningColor.Fprintf(w, "  - %-20s skipped\n", s)
	}
}
