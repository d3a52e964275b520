package ratelimit

import (
	"context"

	"github.com/stayloop/authkit/config"
	"go.uber.org/fx"
)

func ProvideRateLimitStore(cfg *config.Config) Store {
	return NewStore(&cfg.RateLimit)
}

func registerStoreCleanup(lc fx.Lifecycle, store Store) {
	memStore, ok := store.(*MemoryStore)
	if !ok {
		return
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			memStore.Close()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(ProvideRateLimitStore),
	fx.Invoke(registerStoreCleanup),
)
