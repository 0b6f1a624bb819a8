package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/convertscout/awesome-ai-prompts-sub000/internal/config"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/database"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/quota"
	iredis "github.com/convertscout/awesome-ai-prompts-sub000/internal/redis"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/usage"
)

// ledgerDeps is the opened usage ledger. pool is set only for the postgres
// driver, where it is shared with the audit repository.
type ledgerDeps struct {
	ledger usage.Ledger
	pool   *pgxpool.Pool
	close  func()
}

func openLedger(ctx context.Context, cfg *config.Config) (*ledgerDeps, error) {
	switch cfg.Ledger.Driver {
	case config.LedgerSQLite:
		l, err := usage.OpenSQLite(cfg.Ledger.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("using sqlite usage ledger", "path", cfg.Ledger.SQLitePath)
		return &ledgerDeps{ledger: l, close: func() { l.Close() }}, nil

	case config.LedgerPostgres:
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.Ledger.MigrationsPath); err != nil {
			return nil, err
		}
		pool, err := database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
		return &ledgerDeps{ledger: usage.NewPostgresLedger(pool), pool: pool, close: pool.Close}, nil

	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
}

// openRedis connects when either the quota counter or the rate limiter needs
// Redis. A nil client means neither does.
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.Quota.Backend != config.QuotaRedis && cfg.RateLimit.Requests <= 0 {
		return nil, nil
	}
	return iredis.NewClient(ctx, cfg.Redis)
}

func newCounter(cfg *config.Config, rdb *redis.Client) (quota.Counter, error) {
	switch cfg.Quota.Backend {
	case config.QuotaRedis:
		if rdb == nil {
			return nil, fmt.Errorf("quota backend %q needs a redis client", cfg.Quota.Backend)
		}
		return quota.NewRedisCounter(rdb), nil
	case config.QuotaMemory:
		return quota.NewMemoryCounter(), nil
	case config.QuotaLedger:
		return quota.LedgerCounter{}, nil
	default:
		return nil, fmt.Errorf("unknown quota backend %q", cfg.Quota.Backend)
	}
}
