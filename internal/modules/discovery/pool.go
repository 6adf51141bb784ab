// README: Driver pool backed by Redis GEO and sets, with a memory fallback.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ridecore/internal/geo"
	"ridecore/internal/types"
)

const (
	driverGeoKey       = "discovery:drivers"
	favoritesKeyPrefix = "discovery:favorites:%s"
	notifiedKeyPrefix  = "discovery:session:%s:notified"
	// Sessions resolve well within a day; notified sets just need to outlive them.
	notifiedTTL = 24 * time.Hour
)

// Pool tracks available drivers and which ones a session already reached.
type Pool interface {
	UpsertDriver(ctx context.Context, id types.ID, p types.Point) error
	RemoveDriver(ctx context.Context, id types.ID) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
	Favorites(ctx context.Context, riderID types.ID) ([]types.ID, error)
	AddFavorite(ctx context.Context, riderID, driverID types.ID) error
	// MarkNotified adds drivers to the session's notified set and returns only
	// the ones that were not in it yet, so waves never re-ping a driver.
	MarkNotified(ctx context.Context, sessionID types.ID, drivers []types.ID) ([]types.ID, error)
}

type RedisPool struct {
	redis *redis.Client
}

func NewRedisPool(rdb *redis.Client) *RedisPool {
	return &RedisPool{redis: rdb}
}

func (p *RedisPool) UpsertDriver(ctx context.Context, id types.ID, pt types.Point) error {
	return p.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: pt.Lng,
		Latitude:  pt.Lat,
	}).Err()
}

func (p *RedisPool) RemoveDriver(ctx context.Context, id types.ID) error {
	return p.redis.ZRem(ctx, driverGeoKey, string(id)).Err()
}

func (p *RedisPool) Nearby(ctx context.Context, pt types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := p.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  pt.Lng,
		Latitude:   pt.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

func (p *RedisPool) Favorites(ctx context.Context, riderID types.ID) ([]types.ID, error) {
	members, err := p.redis.SMembers(ctx, favoritesKey(riderID)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

func (p *RedisPool) AddFavorite(ctx context.Context, riderID, driverID types.ID) error {
	return p.redis.SAdd(ctx, favoritesKey(riderID), string(driverID)).Err()
}

func (p *RedisPool) MarkNotified(ctx context.Context, sessionID types.ID, drivers []types.ID) ([]types.ID, error) {
	key := notifiedKey(sessionID)
	var fresh []types.ID
	for _, d := range drivers {
		added, err := p.redis.SAdd(ctx, key, string(d)).Result()
		if err != nil {
			return fresh, err
		}
		if added == 1 {
			fresh = append(fresh, d)
		}
	}
	if len(fresh) > 0 {
		if err := p.redis.Expire(ctx, key, notifiedTTL).Err(); err != nil {
			return fresh, err
		}
	}
	return fresh, nil
}

func favoritesKey(riderID types.ID) string {
	return fmt.Sprintf(favoritesKeyPrefix, string(riderID))
}

func notifiedKey(sessionID types.ID) string {
	return fmt.Sprintf(notifiedKeyPrefix, string(sessionID))
}

// MemoryPool mirrors RedisPool for tests and DSN-less dev runs. Nearby does a
// straight haversine scan, which is fine at dev-pool sizes.
type MemoryPool struct {
	mu        sync.Mutex
	drivers   map[types.ID]types.Point
	favorites map[types.ID][]types.ID
	notified  map[types.ID]map[types.ID]bool
}

func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		drivers:   map[types.ID]types.Point{},
		favorites: map[types.ID][]types.ID{},
		notified:  map[types.ID]map[types.ID]bool{},
	}
}

func (p *MemoryPool) UpsertDriver(_ context.Context, id types.ID, pt types.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drivers[id] = pt
	return nil
}

func (p *MemoryPool) RemoveDriver(_ context.Context, id types.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.drivers, id)
	return nil
}

func (p *MemoryPool) Nearby(_ context.Context, pt types.Point, radiusKm float64) ([]types.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []types.ID
	for id, pos := range p.drivers {
		if geo.HaversineKm(pt, pos) <= radiusKm {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (p *MemoryPool) Favorites(_ context.Context, riderID types.ID) ([]types.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ID, len(p.favorites[riderID]))
	copy(out, p.favorites[riderID])
	return out, nil
}

func (p *MemoryPool) AddFavorite(_ context.Context, riderID, driverID types.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.favorites[riderID] {
		if d == driverID {
			return nil
		}
	}
	p.favorites[riderID] = append(p.favorites[riderID], driverID)
	return nil
}

func (p *MemoryPool) MarkNotified(_ context.Context, sessionID types.ID, drivers []types.ID) ([]types.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.notified[sessionID]
	if set == nil {
		set = map[types.ID]bool{}
		p.notified[sessionID] = set
	}
	var fresh []types.ID
	for _, d := range drivers {
		if set[d] {
			continue
		}
		set[d] = true
		fresh = append(fresh, d)
	}
	return fresh, nil
}
