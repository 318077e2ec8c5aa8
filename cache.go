package accesskit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// permissionCache holds a clinic's role-permission map and disabled set with
// a TTL. Reads never block on the network: a fresh snapshot is returned
// directly, a stale one is returned while a background refresh runs, and a
// missing one is fetched with the caller's context. Fetch failures fail open
// (nil map / empty set) so rendering is never held up by permission data.
type permissionCache struct {
	src    PermissionSource
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	log    *zap.SugaredLogger

	mu         sync.RWMutex
	perms      RolePermissionMap
	permsAt    time.Time
	disabled   DisabledSet
	disabledAt time.Time
	clinicID   uuid.UUID

	refreshing bool
}

func newPermissionCache(src PermissionSource, rdb *redis.Client, ttl time.Duration, prefix string, log *zap.SugaredLogger) *permissionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if prefix == "" {
		prefix = "accesskit:"
	}
	return &permissionCache{
		src:    src,
		redis:  rdb,
		ttl:    ttl,
		prefix: prefix,
		log:    log,
	}
}

func (c *permissionCache) permsKey(clinicID uuid.UUID) string {
	return fmt.Sprintf("%sclinic:%s:roleperms", c.prefix, clinicID)
}

func (c *permissionCache) disabledKey(clinicID uuid.UUID) string {
	return fmt.Sprintf("%sclinic:%s:disabled", c.prefix, clinicID)
}

// Snapshot returns the current role-permission map and disabled set for the
// clinic, refreshing in the background when stale.
func (c *permissionCache) Snapshot(ctx context.Context, clinicID uuid.UUID) (RolePermissionMap, DisabledSet) {
	c.mu.RLock()
	sameClinic := c.clinicID == clinicID
	fresh := sameClinic && time.Since(c.permsAt) < c.ttl && time.Since(c.disabledAt) < c.ttl
	havePrevious := sameClinic && !c.permsAt.IsZero()
	perms, disabled := c.perms, c.disabled
	c.mu.RUnlock()

	if fresh {
		return perms, disabled
	}

	if havePrevious {
		// Stale but present: serve it and refresh behind the request.
		c.refreshAsync(clinicID)
		return perms, disabled
	}

	return c.load(ctx, clinicID)
}

// Invalidate drops the local snapshot and the shared redis copy, forcing the
// next read to refetch.
func (c *permissionCache) Invalidate(ctx context.Context, clinicID uuid.UUID) {
	c.mu.Lock()
	if c.clinicID == clinicID {
		c.perms = nil
		c.disabled = nil
		c.permsAt = time.Time{}
		c.disabledAt = time.Time{}
	}
	c.mu.Unlock()

	if c.redis != nil {
		c.redis.Del(ctx, c.permsKey(clinicID), c.disabledKey(clinicID))
	}
}

func (c *permissionCache) refreshAsync(clinicID uuid.UUID) {
	c.mu.Lock()
	if c.refreshing {
		c.mu.Unlock()
		return
	}
	c.refreshing = true
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.ttl)
		defer cancel()
		c.load(ctx, clinicID)

		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()
}

// load fetches from redis first, then the source. A superseding load simply
// overwrites the snapshot; failures keep whatever was there before.
func (c *permissionCache) load(ctx context.Context, clinicID uuid.UUID) (RolePermissionMap, DisabledSet) {
	perms, permsOK := c.loadPerms(ctx, clinicID)
	disabled, disabledOK := c.loadDisabled(ctx, clinicID)

	now := time.Now()
	c.mu.Lock()
	if c.clinicID != clinicID {
		c.clinicID = clinicID
		c.perms = nil
		c.disabled = nil
		c.permsAt = time.Time{}
		c.disabledAt = time.Time{}
	}
	if permsOK {
		c.perms = perms
		c.permsAt = now
	}
	if disabledOK {
		c.disabled = disabled
		c.disabledAt = now
	}
	perms, disabled = c.perms, c.disabled
	c.mu.Unlock()
	return perms, disabled
}

func (c *permissionCache) loadPerms(ctx context.Context, clinicID uuid.UUID) (RolePermissionMap, bool) {
	if c.redis != nil {
		raw, err := c.redis.Get(ctx, c.permsKey(clinicID)).Bytes()
		if err == nil {
			var perms RolePermissionMap
			if jsonErr := json.Unmarshal(raw, &perms); jsonErr == nil {
				return perms, true
			}
		} else if err != redis.Nil {
			c.log.Warnw("redis role-permission read failed", "error", err)
		}
	}

	perms, err := c.src.FetchRolePermissions(ctx, clinicID)
	if err != nil {
		c.log.Warnw("role-permission fetch failed, failing open", "clinic_id", clinicID, "error", err)
		return nil, false
	}

	if c.redis != nil && perms != nil {
		if raw, err := json.Marshal(perms); err == nil {
			c.redis.Set(ctx, c.permsKey(clinicID), raw, c.ttl)
		}
	}
	return perms, true
}

func (c *permissionCache) loadDisabled(ctx context.Context, clinicID uuid.UUID) (DisabledSet, bool) {
	if c.redis != nil {
		raw, err := c.redis.Get(ctx, c.disabledKey(clinicID)).Bytes()
		if err == nil {
			var patterns []string
			if jsonErr := json.Unmarshal(raw, &patterns); jsonErr == nil {
				return NewDisabledSet(patterns), true
			}
		} else if err != redis.Nil {
			c.log.Warnw("redis disabled-permission read failed", "error", err)
		}
	}

	controls, err := c.src.FetchAccessControls(ctx, clinicID)
	if err != nil {
		c.log.Warnw("access-control fetch failed, failing open", "clinic_id", clinicID, "error", err)
		return nil, false
	}

	if c.redis != nil {
		if raw, err := json.Marshal(controls.DisabledPermissions); err == nil {
			c.redis.Set(ctx, c.disabledKey(clinicID), raw, c.ttl)
		}
	}
	return NewDisabledSet(controls.DisabledPermissions), true
}

// RedisSessionStore persists acting-as markers in redis so a "view as"
// survives a reload within the same session.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSessionStore builds a store. The TTL bounds how long a marker can
// outlive its session.
func NewRedisSessionStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSessionStore {
	if prefix == "" {
		prefix = "accesskit:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisSessionStore) key(sessionID uuid.UUID) string {
	return fmt.Sprintf("%ssession:%s:actingas", s.prefix, sessionID)
}

// SaveActingAs replaces the marker for the session.
func (s *RedisSessionStore) SaveActingAs(ctx context.Context, sessionID, actingAsID uuid.UUID) error {
	return s.client.Set(ctx, s.key(sessionID), actingAsID.String(), s.ttl).Err()
}

// LoadActingAs returns the marker, reporting absence without error.
func (s *RedisSessionStore) LoadActingAs(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, bool, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err == redis.Nil {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt acting-as marker: %w", err)
	}
	return id, true, nil
}

// ClearActingAs removes the marker.
func (s *RedisSessionStore) ClearActingAs(ctx context.Context, sessionID uuid.UUID) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}
