package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"strdash/api"
	"strdash/config"
	"strdash/core"
	"strdash/util/goroutine"
)

const shutdownTimeout = 30 * time.Second

// Options configure NewApp.
type Options struct {
	// ConfigPath is an explicit config file; empty searches the defaults.
	ConfigPath string
	// Logger replaces the colored console logger when set.
	Logger *zap.Logger
	// LogLevel of the console logger.
	LogLevel zapcore.Level
}

// App is the dashboard application with all its components.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Sugar   *zap.SugaredLogger
	Storage *StorageComponents
	Catalog *core.RuleCatalog
	Server  *api.Server

	serverErr chan error
}

// NewApp loads configuration and opens storage. The HTTP server is created
// by Start, so CLI commands can use an App for a single workspace.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	app := &App{serverErr: make(chan error, 1)}

	if opts.Logger != nil {
		app.Logger = opts.Logger
		app.Sugar = opts.Logger.Sugar()
	} else {
		logger, sugar, err := InitLogger(opts.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		app.Logger = logger
		app.Sugar = sugar
	}

	cfg, err := InitConfig(opts.ConfigPath, app.Sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	if err := EnsureDataDirectories(DataDirectoriesFromConfig(cfg), app.Sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	sc, err := InitStorage(ctx, cfg, app.Sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = sc

	app.Catalog = core.LoadRuleCatalog(cfg.Rules.CatalogPath, app.Sugar).
		WithSpecialRules(cfg.Rules.SpecialRules...)
	return app, nil
}

// WorkspaceOptions are the options shared by every workspace of the app.
func (a *App) WorkspaceOptions() api.WorkspaceOptions {
	var auditor api.Auditor
	if a.Storage.Audit != nil {
		auditor = a.Storage.Audit
	}
	return api.WorkspaceOptionsFromConfig(a.Config, a.Catalog, a.Storage.Store, auditor)
}

// NewWorkspace creates an investigator workspace. It is the server's
// workspace factory.
func (a *App) NewWorkspace(id string) (*api.Workspace, error) {
	return api.NewWorkspace(id, a.WorkspaceOptions(), a.Sugar)
}

// Start creates the dashboard server and serves it in the background.
func (a *App) Start(ctx context.Context) error {
	var reader api.AuditReader
	if a.Storage.Audit != nil {
		reader = a.Storage.Audit
	}

	server, err := api.NewServer(a.Config, a.NewWorkspace, reader, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	a.Server = server

	go func() {
		defer goroutine.Recover("api-server", a.Sugar)
		if err := server.Start(); err != nil {
			a.Sugar.Errorw("API server failed", "error", err)
			a.serverErr <- err
		}
	}()

	a.Sugar.Infow("Dashboard started", "addr", a.Config.Addr())
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received or the server
// fails, and returns the server error if any.
func (a *App) WaitForShutdown(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		return nil
	case err := <-a.serverErr:
		return err
	}
}

// Shutdown gracefully stops the server and closes storage.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	if a.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.Server.Stop(ctx); err != nil {
			a.Sugar.Errorw("API server shutdown error", "error", err)
		}
		cancel()
	}

	if a.Storage != nil {
		a.Storage.Close(a.Sugar)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
