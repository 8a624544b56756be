package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tabwarden/tabwarden/internal/config"
	storepkg "github.com/tabwarden/tabwarden/internal/store"
	"github.com/tabwarden/tabwarden/internal/store/memory"
	storepg "github.com/tabwarden/tabwarden/internal/store/postgres"
	storesqlite "github.com/tabwarden/tabwarden/internal/store/sqlite"
)

// NewStore opens the store selected by cfg.DBDriver and applies its schema.
// The returned close function releases the connection pool.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, func() error, error) {
	bootstrapCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.BootstrapTimeoutSeconds)*time.Second)
	defer cancel()

	switch cfg.DBDriver {
	case "memory":
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return memory.New(), func() error { return nil }, nil
	case "sqlite":
		st, err := storesqlite.New(bootstrapCtx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite store ready")
		return st, st.Close, nil
	case "postgres":
		st, err := storepg.New(bootstrapCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		log.Info().Msg("postgres store ready")
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}
