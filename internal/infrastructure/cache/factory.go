package cache

import (
	"fmt"

	"github.com/jobdeck/backend/internal/domain/shared"
	"github.com/jobdeck/backend/internal/infrastructure/config"
)

// New builds the configured cache backend. Redis is the default; the
// in-memory backend only guarantees dedup within a single instance.
func New(cfg *config.Config) (shared.Cache, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return NewInMemoryCache(cfg.Cache.CleanupInterval), nil
	case "redis":
		return NewRedisCache(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, "jobdeck:")
	default:
		return nil, fmt.Errorf("unknown cache backend: %q", cfg.Cache.Backend)
	}
}
