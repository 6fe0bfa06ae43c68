package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"strdash/config"
	"strdash/session"
	"strdash/storage"
)

// redisRetryDelays are the waits between Redis connection attempts.
var redisRetryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// StorageComponents holds all storage-related components.
type StorageComponents struct {
	SQLite *storage.SQLite
	Audit  *storage.AuditStore // nil when the audit trail is off
	Redis  *storage.RedisCache // nil for the memory store
	Store  session.Store
}

// InitStorage opens the audit database and the session snapshot store. In
// graceful mode an audit failure disables the trail and a Redis failure
// falls back to the in-memory store.
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	sc := &StorageComponents{}

	if cfg.Audit.Enabled {
		db, err := InitSQLite(cfg.Audit.SQLitePath, sugar)
		switch {
		case err == nil:
			sc.SQLite = db
			sc.Audit = storage.NewAuditStore(db, sugar)
		case cfg.IsGracefulMode():
			sugar.Warnw("Audit trail disabled after initialization failure", "error", err)
		default:
			return nil, err
		}
	} else {
		sugar.Info("Audit trail disabled by configuration")
	}

	if cfg.Session.Store == config.StoreRedis {
		cache, err := InitRedis(ctx, cfg, sugar)
		switch {
		case err == nil:
			sc.Redis = cache
			sc.Store = session.NewRedisStore(cache, cfg.Session.TTL)
			sugar.Infow("Session snapshots stored in Redis", "addr", cfg.Session.Redis.Addr)
			return sc, nil
		case cfg.IsGracefulMode():
			sugar.Warnw("Falling back to in-memory session snapshots", "error", err)
		default:
			sc.Close(sugar)
			return nil, err
		}
	}

	store, err := session.NewMemoryStore(cfg.Session.SnapshotSize)
	if err != nil {
		sc.Close(sugar)
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	sc.Store = store
	sugar.Infow("Session snapshots stored in memory", "size", cfg.Session.SnapshotSize)
	return sc, nil
}

// InitSQLite opens the audit database.
func InitSQLite(path string, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	db, err := storage.NewSQLite(path, sugar)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "Audit Database Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", ClassifySQLiteError(err, path))
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize audit database: %w", err)
	}
	return db, nil
}

// InitRedis connects to Redis with retry logic.
func InitRedis(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*storage.RedisCache, error) {
	rc := cfg.Session.Redis
	cache := storage.NewRedisCache(storage.RedisOptions{
		Addr:      rc.Addr,
		Password:  rc.Password,
		DB:        rc.DB,
		PoolSize:  rc.PoolSize,
		KeyPrefix: rc.KeyPrefix,
	}, sugar)

	var lastErr error
	for attempt := 0; attempt <= len(redisRetryDelays); attempt++ {
		if attempt > 0 {
			delay := redisRetryDelays[attempt-1]
			sugar.Infow("Retrying Redis connection",
				"attempt", attempt,
				"max_retries", len(redisRetryDelays),
				"delay", delay)
			select {
			case <-ctx.Done():
				_ = cache.Close()
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = cache.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			sugar.Infow("Connected to Redis", "addr", rc.Addr)
			return cache, nil
		}

		sugar.Warnw("Redis connection attempt failed",
			"attempt", attempt+1,
			"error", lastErr)
	}

	_ = cache.Close()
	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "Redis Connection Failed\n")
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "%s\n", ClassifyConnectionError(lastErr, rc.Addr))
	fmt.Fprintf(os.Stderr, "========================================\n\n")
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", len(redisRetryDelays)+1, lastErr)
}

// Close releases the storage connections.
func (sc *StorageComponents) Close(sugar *zap.SugaredLogger) {
	if sc.Redis != nil {
		if err := sc.Redis.Close(); err != nil {
			sugar.Warnw("Failed to close Redis", "error", err)
		}
		sc.Redis = nil
	}
	if sc.SQLite != nil {
		if err := sc.SQLite.Close(); err != nil {
			sugar.Warnw("Failed to close audit database", "error", err)
		}
		sc.SQLite = nil
	}
}
