package memory

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"sales-intel-be/pkg/agentic/session"
)

// SessionRepository holds one search controller per user. Entries expire
// after ttl without access; an expired controller is reset so its channel
// and timers are released.
type SessionRepository struct {
	cache *cache.Cache
	mu    sync.Mutex

	onEvict func(userID string)
}

func NewSessionRepository(ttl time.Duration, onEvict func(userID string)) *SessionRepository {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return newSessionRepository(ttl, ttl/3, onEvict)
}

// newSessionRepository runs the go-cache janitor every cleanup; zero
// disables it and expired entries are only evicted on access.
func newSessionRepository(ttl, cleanup time.Duration, onEvict func(userID string)) *SessionRepository {
	r := &SessionRepository{
		cache:   cache.New(ttl, cleanup),
		onEvict: onEvict,
	}
	r.cache.OnEvicted(func(userID string, x interface{}) {
		x.(*session.Controller).Reset()
		if r.onEvict != nil {
			r.onEvict(userID)
		}
	})
	return r
}

// GetOrCreate returns the user's controller, building it with create the
// first time. Every access extends the entry's lifetime. created reports
// whether create was called.
func (r *SessionRepository) GetOrCreate(userID string, create func() *session.Controller) (c *session.Controller, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if x, found := r.cache.Get(userID); found {
		c = x.(*session.Controller)
	} else {
		r.evictExpired(userID)
		c = create()
		created = true
	}
	r.cache.Set(userID, c, cache.DefaultExpiration)
	return c, created
}

func (r *SessionRepository) Get(userID string) (*session.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	x, found := r.cache.Get(userID)
	if !found {
		r.evictExpired(userID)
		return nil, false
	}
	r.cache.Set(userID, x, cache.DefaultExpiration)
	return x.(*session.Controller), true
}

// Delete resets and drops the user's controller.
func (r *SessionRepository) Delete(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Delete(userID)
}

// evictExpired drops an entry that expired before the janitor got to it.
// Get reports such an entry as missing, and Set would overwrite it without
// the eviction callback. Deleting a missing key is a no-op.
func (r *SessionRepository) evictExpired(userID string) {
	r.cache.Delete(userID)
}

func (r *SessionRepository) Count() int {
	return r.cache.ItemCount()
}

// Flush resets every controller, used on shutdown.
func (r *SessionRepository) Flush() {
	r.mu.Lock()
	items := r.cache.Items()
	r.cache.Flush()
	r.mu.Unlock()

	for userID, it := range items {
		it.Object.(*session.Controller).Reset()
		if r.onEvict != nil {
			r.onEvict(userID)
		}
	}
}
