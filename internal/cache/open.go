package cache

import (
	"context"
	"fmt"

	"github.com/halden/converse/internal/config"
	"github.com/halden/converse/internal/security"

	cachemongo "github.com/halden/converse/internal/cache/mongo"
	cacheredis "github.com/halden/converse/internal/cache/redis"
	cachesqlite "github.com/halden/converse/internal/cache/sqlite"
)

// Open builds the configured cache backend and wraps it in a Store. When a
// passphrase is configured, entries are sealed at rest.
func Open(ctx context.Context, cfg config.CacheConfig) (*Store, error) {
	var (
		kv  KV
		err error
	)

	switch cfg.Backend {
	case "", "sqlite":
		kv, err = cachesqlite.Open(cfg.SQLite.Path)
	case "redis":
		kv, err = cacheredis.Open(cfg.Redis)
	case "mongo":
		kv, err = cachemongo.Open(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", cfg.Backend, err)
	}

	var enc *security.Encryptor
	if cfg.Passphrase != "" {
		enc, err = security.NewEncryptorFromPassphrase(cfg.Passphrase)
		if err != nil {
			kv.Close()
			return nil, err
		}
	}

	return NewStore(kv, enc), nil
}
