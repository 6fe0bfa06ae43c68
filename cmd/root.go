// Package cmd provides the command-line interface of the STR dashboard.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"strdash/api"
	"strdash/bootstrap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool
	verbose    bool
)

// defaultTimeout bounds one CLI operation.
const defaultTimeout = 5 * time.Minute

// testLogger replaces the console logger in tests.
var testLogger *zap.Logger

// NewRootCmd creates the strdash command. Without a subcommand it serves
// the dashboard.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "strdash",
		Short: "STR alert investigation dashboard",
		Long: `Investigate suspicious transaction report alerts: search an alert, review
the customer, rule and trading history sections, and export the case as TOML.

Without a subcommand the web dashboard is served.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file path")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newConnectCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newAuditCmd())

	return root
}

// Execute runs the CLI.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the web dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := bootstrap.NewApp(ctx, bootstrap.Options{
		ConfigPath: configFile,
		Logger:     testLogger,
		LogLevel:   logLevel(zapcore.InfoLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Shutdown()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	return app.WaitForShutdown(ctx)
}

// logLevel keeps CLI output readable unless --verbose is set.
func logLevel(normal zapcore.Level) zapcore.Level {
	if verbose {
		return zapcore.DebugLevel
	}
	return normal
}

// openApp loads configuration and storage for a one-shot command.
func openApp(ctx context.Context) (*bootstrap.App, error) {
	app, err := bootstrap.NewApp(ctx, bootstrap.Options{
		ConfigPath: configFile,
		Logger:     testLogger,
		LogLevel:   logLevel(zapcore.WarnLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return app, nil
}

// openWorkspace creates a single investigator workspace and initialises
// its backend session.
func openWorkspace(ctx context.Context) (*bootstrap.App, *api.Workspace, func(), error) {
	app, err := openApp(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	ws, err := app.NewWorkspace("cli-" + uuid.NewString())
	if err != nil {
		app.Shutdown()
		return nil, nil, nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	cleanup := func() {
		ws.Close()
		// A CLI session is never resumed.
		_ = ws.Bridge.Clear(context.Background())
		app.Shutdown()
	}

	if err := ws.Ready(ctx); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("backend session initialization failed: %w", err)
	}
	return app, ws, cleanup, nil
}
