// Package bootstrap provides application initialization and lifecycle management.
// It loads configuration, opens storage and wires the dashboard server.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, bootstrap.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wait for shutdown signal
//	_ = app.WaitForShutdown(ctx)
package bootstrap
