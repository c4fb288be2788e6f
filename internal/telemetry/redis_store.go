package telemetry

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/sewaghar/internal/models"
)

// RedisStore implements Store on Redis: GEOADD for the proximity index, a
// hash per provider for the full record, and pub/sub for change
// subscriptions.
type RedisStore struct {
	client *redis.Client
	geoKey string
}

func NewRedisStore(addr, password, geoKey string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, geoKey: geoKey}
}

// NewRedisStoreFromClient wires an existing client, used by the consumer.
func NewRedisStoreFromClient(client *redis.Client, geoKey string) *RedisStore {
	return &RedisStore{client: client, geoKey: geoKey}
}

func metaKey(providerID string) string    { return "provider:loc:" + providerID }
func channelKey(providerID string) string { return "provider:loc:changed:" + providerID }

func (r *RedisStore) Publish(ctx context.Context, loc models.ProviderLocation) error {
	pipe := r.client.Pipeline()
	pipe.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
		Name:      loc.ProviderID,
		Longitude: loc.Longitude,
		Latitude:  loc.Latitude,
	})
	pipe.HSet(ctx, metaKey(loc.ProviderID), map[string]interface{}{
		"latitude":  loc.Latitude,
		"longitude": loc.Longitude,
		"status":    string(loc.Status),
		"timestamp": loc.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	pipe.Publish(ctx, channelKey(loc.ProviderID), b)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Get(ctx context.Context, providerID string) (*models.ProviderLocation, error) {
	m, err := r.client.HGetAll(ctx, metaKey(providerID)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return decodeMeta(providerID, m)
}

func (r *RedisStore) Subscribe(providerID string, fn func(*models.ProviderLocation)) *Subscription {
	sub := &subscriber{fn: fn}
	ctx, cancelCtx := context.WithCancel(context.Background())
	ps := r.client.Subscribe(ctx, channelKey(providerID))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Initial delivery with whatever is stored right now (nil if the
		// provider has never published).
		cur, err := r.Get(ctx, providerID)
		if err == nil {
			sub.deliver(cur)
		}
		for msg := range ps.Channel() {
			var loc models.ProviderLocation
			if err := json.Unmarshal([]byte(msg.Payload), &loc); err != nil {
				continue
			}
			sub.deliver(&loc)
		}
	}()

	return newSubscription(func() {
		cancelCtx()
		_ = ps.Close()
		wg.Wait()
		sub.close()
	})
}

func (r *RedisStore) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]models.ProviderLocation, error) {
	res, err := r.client.GeoRadius(ctx, r.geoKey, lon, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.ProviderLocation, 0, len(res))
	for _, g := range res {
		loc := models.ProviderLocation{
			ProviderID: g.Name,
			Latitude:   g.Latitude,
			Longitude:  g.Longitude,
		}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil && len(m) > 0 {
			if dec, err := decodeMeta(g.Name, m); err == nil {
				loc = *dec
			}
		}
		out = append(out, loc)
	}
	return out, nil
}

func decodeMeta(providerID string, m map[string]string) (*models.ProviderLocation, error) {
	loc := models.ProviderLocation{ProviderID: providerID}
	if v, ok := m["latitude"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		loc.Latitude = f
	}
	if v, ok := m["longitude"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		loc.Longitude = f
	}
	if v, ok := m["status"]; ok {
		loc.Status = models.ProviderStatus(v)
	}
	if v, ok := m["timestamp"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			loc.Timestamp = ts
		}
	}
	return &loc, nil
}
