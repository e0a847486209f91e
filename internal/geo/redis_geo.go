package geo

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/rideshare/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisGeo implements RideIndex using Redis GEO commands. Each route point is
// stored as member "<rideID>#<i>"; a companion set remembers the members so a
// ride can be removed in one pass.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, rideID string, points []models.Coord) error {
	if err := r.Remove(ctx, rideID); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	locs := make([]*redis.GeoLocation, 0, len(points))
	members := make([]interface{}, 0, len(points))
	for i, p := range points {
		name := fmt.Sprintf("%s#%d", rideID, i)
		locs = append(locs, &redis.GeoLocation{Longitude: p.Lon, Latitude: p.Lat, Name: name})
		members = append(members, name)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, r.key, locs...)
		pipe.SAdd(ctx, membersKey(rideID), members...)
		return nil
	})
	return err
}

func (r *RedisGeo) Remove(ctx context.Context, rideID string) error {
	members, err := r.client.SMembers(ctx, membersKey(rideID)).Result()
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	zm := make([]interface{}, len(members))
	for i, m := range members {
		zm[i] = m
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.key, zm...)
		pipe.Del(ctx, membersKey(rideID))
		return nil
	})
	return err
}

func (r *RedisGeo) Nearby(ctx context.Context, c models.Coord, radiusKm float64, limit int) ([]string, error) {
	res, err := r.client.GeoSearch(ctx, r.key, &redis.GeoSearchQuery{
		Longitude:  c.Lon,
		Latitude:   c.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(res))
	out := make([]string, 0, len(res))
	for _, name := range res {
		id, _, ok := strings.Cut(name, "#")
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *RedisGeo) Close() error { return r.client.Close() }

func membersKey(rideID string) string { return "ride:geo:members:" + rideID }
