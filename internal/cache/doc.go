// Package cache provides short-lived key stores used to remember token
// identifiers.
//
// Two backends implement Store:
//
//   - an in-memory map with per-key expiry, bounded by MaxEntries
//   - Redis (standalone or Sentinel) using SET NX PX, shared by every replica
//
// Example:
//
//	store, err := cache.New(ctx, cache.Config{
//	    Type:  cache.TypeRedis,
//	    Redis: &cache.RedisConfig{URL: "redis://localhost:6379/0"},
//	}, cache.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	fresh, err := store.SetNX(ctx, "issuer|jti", time.Hour)
package cache
