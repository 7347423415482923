package rbac

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// InvalidationChannel is the redis pub/sub channel carrying cache eviction
// signals between instances. The payload is the affected user ID.
const InvalidationChannel = "rbac:invalidate"

// Cache keeps computed effective permission sets per user. Entries are held
// in a process-local LRU with a TTL backstop; evictions triggered by catalog
// or assignment changes are broadcast over redis so every instance drops its
// copy. The cache is advisory: a miss always recomputes from the repository.
type Cache struct {
	lru    *expirable.LRU[string, []string]
	client *redis.Client
	logger *slog.Logger
}

// NewCache constructs a Cache. client may be nil for single-instance
// deployments and tests; broadcasting is then disabled.
func NewCache(size int, ttl time.Duration, client *redis.Client, logger *slog.Logger) *Cache {
	if size <= 0 {
		size = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		lru:    expirable.NewLRU[string, []string](size, nil, ttl),
		client: client,
		logger: logger,
	}
}

// Get returns the cached permission set for a user, if present.
func (c *Cache) Get(userID string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(userID)
}

// Put stores a computed permission set.
func (c *Cache) Put(userID string, perms []string) {
	if c == nil {
		return
	}
	c.lru.Add(userID, perms)
}

// Evict drops the local entry and broadcasts the eviction to peers.
// Broadcast failures are logged and swallowed; the TTL bounds staleness.
func (c *Cache) Evict(ctx context.Context, userID string) {
	if c == nil {
		return
	}
	c.lru.Remove(userID)
	if c.client == nil {
		return
	}
	if err := c.client.Publish(ctx, InvalidationChannel, userID).Err(); err != nil {
		c.logger.Warn("rbac cache publish eviction", slog.String("user", userID), slog.Any("error", err))
	}
}

// EvictAll purges every entry locally and broadcasts a full purge. Used when
// a catalog-wide change (permission deactivation) affects an unknown set of
// users.
func (c *Cache) EvictAll(ctx context.Context) {
	if c == nil {
		return
	}
	c.lru.Purge()
	if c.client == nil {
		return
	}
	if err := c.client.Publish(ctx, InvalidationChannel, purgeSignal).Err(); err != nil {
		c.logger.Warn("rbac cache publish purge", slog.Any("error", err))
	}
}

const purgeSignal = "*"

// evictLocal drops the entry without re-broadcasting.
func (c *Cache) evictLocal(userID string) {
	if c == nil {
		return
	}
	if userID == purgeSignal {
		c.lru.Purge()
		return
	}
	c.lru.Remove(userID)
}

// Listen subscribes to the invalidation channel and evicts local entries
// until the context is cancelled. It returns immediately when no redis
// client is configured.
func (c *Cache) Listen(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	sub := c.client.Subscribe(ctx, InvalidationChannel)
	defer func() {
		_ = sub.Close()
	}()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.evictLocal(msg.Payload)
		}
	}
}
