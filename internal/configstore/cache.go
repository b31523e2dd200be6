package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// cacheTTL bounds how stale a cached topology read can be between ReconfigureController cycles.
	cacheTTL = 5 * time.Minute

	cacheKeyPeripherals = "configstore:peripherals"
	cacheKeyAutomations = "configstore:automations"
	cacheKeyTriggers    = "configstore:triggers"
	cacheKeyActionsScan = "configstore:actions:*"
)

func cacheKeyActions(automationID uuid.UUID) string {
	return "configstore:actions:" + automationID.String()
}

// CachedStore wraps a Store with a Valkey read-through cache over its list-shaped reads (peripherals, automations,
// triggers, actions). Operation logging always passes straight through: it's a write, and /status reads recent
// activity often enough that caching it would only serve stale data.
type CachedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
}

// NewCachedStore wraps inner with a Valkey-backed cache.
func NewCachedStore(inner Store, client *redis.Client) *CachedStore {
	return &CachedStore{inner: inner, client: client, ttl: cacheTTL}
}

func (c *CachedStore) GetPeripherals(ctx context.Context) ([]Peripheral, error) {
	var out []Peripheral
	if ok := c.getCached(ctx, cacheKeyPeripherals, &out); ok {
		return out, nil
	}
	out, err := c.inner.GetPeripherals(ctx)
	if err != nil {
		return nil, err
	}
	c.setCached(ctx, cacheKeyPeripherals, out)
	return out, nil
}

func (c *CachedStore) GetAutomations(ctx context.Context) ([]Automation, error) {
	var out []Automation
	if ok := c.getCached(ctx, cacheKeyAutomations, &out); ok {
		return out, nil
	}
	out, err := c.inner.GetAutomations(ctx)
	if err != nil {
		return nil, err
	}
	c.setCached(ctx, cacheKeyAutomations, out)
	return out, nil
}

func (c *CachedStore) GetTriggers(ctx context.Context) ([]Trigger, error) {
	var out []Trigger
	if ok := c.getCached(ctx, cacheKeyTriggers, &out); ok {
		return out, nil
	}
	out, err := c.inner.GetTriggers(ctx)
	if err != nil {
		return nil, err
	}
	c.setCached(ctx, cacheKeyTriggers, out)
	return out, nil
}

func (c *CachedStore) GetActions(ctx context.Context, automationID uuid.UUID) ([]Action, error) {
	key := cacheKeyActions(automationID)
	var out []Action
	if ok := c.getCached(ctx, key, &out); ok {
		return out, nil
	}
	out, err := c.inner.GetActions(ctx, automationID)
	if err != nil {
		return nil, err
	}
	c.setCached(ctx, key, out)
	return out, nil
}

func (c *CachedStore) LogOperation(ctx context.Context, operationType, status, details string) error {
	return c.inner.LogOperation(ctx, operationType, status, details)
}

func (c *CachedStore) ListOperations(ctx context.Context, limit int) ([]OperationRecord, error) {
	return c.inner.ListOperations(ctx, limit)
}

// Invalidate drops every cached topology read, so the next read after a ReconfigureController cycle goes to
// Postgres. It scans rather than tracking keys explicitly, mirroring permission.ValkeyCache's DeleteAll.
func (c *CachedStore) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, cacheKeyPeripherals, cacheKeyAutomations, cacheKeyTriggers).Err(); err != nil {
		return fmt.Errorf("configstore: invalidate cache: %w", err)
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, cacheKeyActionsScan, 100).Result()
		if err != nil {
			return fmt.Errorf("configstore: scan action cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("configstore: delete action cache keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (c *CachedStore) getCached(ctx context.Context, key string, dst any) bool {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) || err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), dst) == nil
}

func (c *CachedStore) setCached(ctx context.Context, key string, src any) {
	body, err := json.Marshal(src)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, body, c.ttl).Err()
}

var _ Store = (*CachedStore)(nil)
