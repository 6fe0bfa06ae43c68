package bootstrap

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"strdash/config"
)

// InitLogger initializes the zap logger with colored console output.
func InitLogger(level zapcore.Level) (*zap.Logger, *zap.SugaredLogger, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	core := zapcore.NewCore(
		consoleEncoder,
		zapcore.AddSync(os.Stderr),
		level,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration.
func InitConfig(path string, sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	description := "will fail fast on any initialization error"
	if cfg.IsGracefulMode() {
		description = "will continue with degraded functionality on non-critical errors"
	}
	sugar.Infow("Startup mode",
		"mode", string(cfg.StartupMode),
		"description", description)

	sugar.Infow("Config loaded",
		"addr", cfg.Addr(),
		"backend", cfg.Backend.BaseURL,
		"session_store", cfg.Session.Store,
		"audit", cfg.Audit.Enabled,
		"secrets_provider", cfg.Secrets.Provider)

	return cfg, nil
}
