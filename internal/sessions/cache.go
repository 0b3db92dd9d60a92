package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// DefaultCacheTTL is how long a cached session read stays fresh.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	session  *models.Session
	cachedAt time.Time
}

// CachedStore wraps a Store with a TTL read cache for session metadata.
// Writes go to the backing store first and only then refresh the cache, so
// a crash between the two leaves the cache stale, never the store.
// Message reads always hit the backing store.
type CachedStore struct {
	backing Store
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCachedStore wraps backing with a read cache. A non-positive ttl uses
// DefaultCacheTTL.
func NewCachedStore(backing Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{
		backing: backing,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

// SetClock overrides the cache clock, for tests.
func (c *CachedStore) SetClock(now func() time.Time) { c.now = now }

func (c *CachedStore) put(session *models.Session) {
	copied := *session
	c.mu.Lock()
	c.cache[sessionKey(session.TenantID, session.UserID, session.ID)] = cacheEntry{
		session:  &copied,
		cachedAt: c.now(),
	}
	c.mu.Unlock()
}

func (c *CachedStore) invalidate(tenantID, userID, sessionID string) {
	c.mu.Lock()
	delete(c.cache, sessionKey(tenantID, userID, sessionID))
	c.mu.Unlock()
}

func (c *CachedStore) lookup(tenantID, userID, sessionID string) (*models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := sessionKey(tenantID, userID, sessionID)
	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.cachedAt) > c.ttl {
		delete(c.cache, key)
		return nil, false
	}
	copied := *entry.session
	return &copied, true
}

func (c *CachedStore) Create(ctx context.Context, session *models.Session) error {
	if err := c.backing.Create(ctx, session); err != nil {
		return err
	}
	c.put(session)
	return nil
}

func (c *CachedStore) Get(ctx context.Context, tenantID, userID, sessionID string) (*models.Session, error) {
	if session, ok := c.lookup(tenantID, userID, sessionID); ok {
		return session, nil
	}
	session, err := c.backing.Get(ctx, tenantID, userID, sessionID)
	if err != nil {
		return nil, err
	}
	c.put(session)
	return session, nil
}

func (c *CachedStore) Update(ctx context.Context, session *models.Session) error {
	if err := c.backing.Update(ctx, session); err != nil {
		return err
	}
	c.put(session)
	return nil
}

func (c *CachedStore) Delete(ctx context.Context, tenantID, userID, sessionID string) error {
	if err := c.backing.Delete(ctx, tenantID, userID, sessionID); err != nil {
		return err
	}
	c.invalidate(tenantID, userID, sessionID)
	return nil
}

func (c *CachedStore) List(ctx context.Context, tenantID, userID string, limit, offset int) ([]*models.Session, error) {
	// Listings are not cached; they change on every append.
	return c.backing.List(ctx, tenantID, userID, limit, offset)
}

func (c *CachedStore) AppendMessage(ctx context.Context, tenantID, userID, sessionID string, msg *models.Message) error {
	if err := c.backing.AppendMessage(ctx, tenantID, userID, sessionID, msg); err != nil {
		return err
	}
	// The append bumped counters in the backing store; drop the stale copy.
	c.invalidate(tenantID, userID, sessionID)
	return nil
}

func (c *CachedStore) Messages(ctx context.Context, tenantID, userID, sessionID string) ([]*models.Message, error) {
	return c.backing.Messages(ctx, tenantID, userID, sessionID)
}

func (c *CachedStore) Close() error { return c.backing.Close() }
