package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"strdash/api"
	"strdash/connection"
	"strdash/session"
)

var errNotConnected = errors.New("data source not connected")

// connectReport is the result of a CLI connection attempt.
type connectReport struct {
	Primary   *connection.TestResult `json:"primary,omitempty"`
	Analytics *connection.TestResult `json:"analytics,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

// connected reports whether every attempted source connected.
func (r *connectReport) connected() bool {
	for _, res := range []*connection.TestResult{r.Primary, r.Analytics} {
		if res != nil && !res.Connected {
			return false
		}
	}
	return r.Primary != nil || r.Analytics != nil
}

// newConnectCmd creates the 'connect' subcommand
func newConnectCmd() *cobra.Command {
	var only string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Test the configured data source connections",
		Long: `Test the Oracle and Redshift connections configured under sources.
Passwords are read from the secret provider. Both sources are connected in
one request when Redshift is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			_, ws, cleanup, err := openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := connectSources(ctx, cmd, ws, only)
			if err != nil {
				return err
			}

			if outputJSON {
				if err := outputAsJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				renderConnectReport(cmd.OutOrStdout(), report)
			}
			if !report.connected() {
				return errNotConnected
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&only, "only", "", "Test a single source: primary or analytics")

	return cmd
}

// connectSources tests the sources named by only, or every configured
// source when only is empty.
func connectSources(ctx context.Context, cmd *cobra.Command, ws *api.Workspace, only string) (*connectReport, error) {
	var target session.Source
	if only != "" {
		source, err := session.ParseSource(only)
		if err != nil {
			return nil, err
		}
		target = source
	}

	stop := startSpinner(cmd.ErrOrStderr(), " Connecting to data sources...")
	defer stop()

	report := &connectReport{}
	switch {
	case target == session.SourcePrimary:
		res, err := ws.Connection.TestPrimary(ctx, ws.Defaults.Primary)
		if err != nil {
			return nil, err
		}
		report.Primary = res
	case target == session.SourceAnalytics:
		res, err := ws.Connection.TestAnalytics(ctx, ws.Defaults.Analytics)
		if err != nil {
			return nil, err
		}
		report.Analytics = res
	case ws.Defaults.Analytics.Host == "":
		res, err := ws.Connection.TestPrimary(ctx, ws.Defaults.Primary)
		if err != nil {
			return nil, err
		}
		report.Primary = res
	default:
		res, err := ws.Connection.ConnectAll(ctx, ws.Defaults)
		if err != nil {
			return nil, err
		}
		report.Primary = sourceResult(session.SourcePrimary, res.Primary, res.PrimaryError)
		report.Analytics = sourceResult(session.SourceAnalytics, res.Analytics, res.AnalyticsError)
		report.Message = res.Message
	}
	return report, nil
}

func sourceResult(source session.Source, connected bool, detail string) *connection.TestResult {
	res := &connection.TestResult{Source: source, Connected: connected}
	switch {
	case connected:
		res.Message = source.Label() + " connected"
	case detail != "":
		res.Message = source.Label() + " failed: " + detail
	default:
		res.Message = source.Label() + " failed"
	}
	return res
}

// startSpinner shows progress on w unless output is quiet or JSON. The
// returned func stops it.
func startSpinner(w io.Writer, suffix string) func() {
	if quiet || outputJSON {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = suffix
	s.Start()
	return s.Stop
}

func renderConnectReport(w io.Writer, report *connectReport) {
	for _, res := range []*connection.TestResult{report.Primary, report.Analytics} {
		if res == nil {
			continue
		}
		if res.Connected {
			successColor.Fprintf(w, "✔ %s\n", res.Message)
		} else {
			errorColor.Fprintf(w, "✖ %s\n", res.Message)
		}
	}
	if report.Message != "" && !quiet {
		infoColor.Fprintln(w, report.Message)
	}
}

// requirePrimary fails unless the Oracle source connected.
func requirePrimary(report *connectReport) error {
	if report.Primary != nil && report.Primary.Connected {
		return nil
	}
	msg := "not attempted"
	if report.Primary != nil {
		msg = report.Primary.Message
	}
	return fmt.Errorf("%w: %s", errNotConnected, msg)
}
