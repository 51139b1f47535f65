package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"sales-intel-be/pkg/agentic"
)

type knownPartner struct {
	Partner  agentic.Partner `json:"partner"`
	Hits     int             `json:"hits"`
	LastSeen time.Time       `json:"last_seen"`
}

// MemoryDirectory keeps known partners in process, expiring those not seen
// for the configured TTL.
type MemoryDirectory struct {
	mu    sync.Mutex
	cache *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryDirectory(ttl time.Duration) *MemoryDirectory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryDirectory{
		cache: cache.New(ttl, ttl/2),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (d *MemoryDirectory) Remember(_ context.Context, partners []agentic.Partner) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range partners {
		key := p.SelectionKey()
		kp := knownPartner{Partner: p, Hits: 1, LastSeen: d.now()}
		if x, found := d.cache.Get(key); found {
			kp.Hits = x.(knownPartner).Hits + 1
		}
		d.cache.Set(key, kp, d.ttl)
	}
	return nil
}

// Known returns up to limit partners, most often seen first, then most
// recently seen.
func (d *MemoryDirectory) Known(_ context.Context, limit int) ([]agentic.Partner, error) {
	items := d.cache.Items()
	known := make([]knownPartner, 0, len(items))
	for _, it := range items {
		known = append(known, it.Object.(knownPartner))
	}
	sort.SliceStable(known, func(i, j int) bool {
		if known[i].Hits != known[j].Hits {
			return known[i].Hits > known[j].Hits
		}
		if !known[i].LastSeen.Equal(known[j].LastSeen) {
			return known[i].LastSeen.After(known[j].LastSeen)
		}
		return known[i].Partner.SelectionKey() < known[j].Partner.SelectionKey()
	})
	if limit > 0 && len(known) > limit {
		known = known[:limit]
	}
	out := make([]agentic.Partner, 0, len(known))
	for _, kp := range known {
		out = append(out, kp.Partner)
	}
	return out, nil
}

const (
	redisRankKey = "partners:known:rank"
	redisDataKey = "partners:known:data"
)

// RedisDirectory shares known partners between instances: a sorted set of
// hit counts plus a hash of partner payloads.
type RedisDirectory struct {
	rdb *redis.Client
}

func NewRedisDirectory(rdb *redis.Client) *RedisDirectory {
	return &RedisDirectory{rdb: rdb}
}

func (d *RedisDirectory) Remember(ctx context.Context, partners []agentic.Partner) error {
	if len(partners) == 0 {
		return nil
	}
	_, err := d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range partners {
			payload, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("failed to marshal partner %s: %w", p.SelectionKey(), err)
			}
			key := p.SelectionKey()
			pipe.ZIncrBy(ctx, redisRankKey, 1, key)
			pipe.HSet(ctx, redisDataKey, key, payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remember partners: %w", err)
	}
	return nil
}

func (d *RedisDirectory) Known(ctx context.Context, limit int) ([]agentic.Partner, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	keys, err := d.rdb.ZRevRange(ctx, redisRankKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to rank known partners: %w", err)
	}
	if len(keys) == 0 {
		return []agentic.Partner{}, nil
	}
	values, err := d.rdb.HMGet(ctx, redisDataKey, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load known partners: %w", err)
	}
	out := make([]agentic.Partner, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var p agentic.Partner
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
