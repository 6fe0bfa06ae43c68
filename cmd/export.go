package cmd

import (
	"context"
	"errors"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"strdash/export"
	"strdash/search"
)

// newExportCmd creates the 'export' subcommand
func newExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export <alert-id>",
		Short: "Search an alert and export it as TOML",
		Long: `Search the alert, then have the backend stage the TOML export from the
searched data and download it. Without --out the backend's filename is used
inside export.output_dir.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			app, ws, cleanup, err := openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			outcome, err := runSearch(ctx, cmd, ws, args[0])
			if err != nil {
				if outcome != nil && !outputJSON {
					renderOutcome(cmd.ErrOrStderr(), outcome, nil)
				}
				return err
			}
			if !outcome.ExportReady() {
				return export.ErrNothingToExport
			}

			stop := startSpinner(cmd.ErrOrStderr(), " Exporting...")
			res, err := ws.Export.ToFile(ctx, out, app.Config.Export.OutputDir)
			stop()
			if err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), res)
			}
			renderExportResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (relative paths resolve inside export.output_dir)")

	return cmd
}

func renderExportResult(w io.Writer, res *export.Result) {
	successColor.Fprintf(w, "✔ Exported alert %s\n", res.AlertID)
	printField(w, "File", res.Path)
	printField(w, "Size", humanize.Bytes(uint64(res.Bytes)))
	if res.Message != "" {
		printField(w, "Backend", res.Message)
	}
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errNotConnected), errors.Is(err, search.ErrPrimaryNotConnected):
		return 3
	case errors.Is(err, search.ErrSearchFailed), errors.Is(err, export.ErrNothingToExport):
		return 4
	default:
		return 1
	}
}
