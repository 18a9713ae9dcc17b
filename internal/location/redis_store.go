package location

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/fulfillment-tracker/internal/models"
	"github.com/example/fulfillment-tracker/internal/observability"
)

// RedisStore implements Store on Redis: one hash per provider plus a
// pub/sub channel for fan-out. The monotonic updated_at check runs inside a
// Lua script so concurrent writers cannot interleave a regression.
type RedisStore struct {
	client *redis.Client
}

// publishScript compares updated_at (unix nanos) and only accepts strictly
// newer samples; accepted samples are fanned out on the events channel.
var publishScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'updated_at')
if cur and tonumber(cur) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('HSET', KEYS[1], 'lat', ARGV[1], 'lng', ARGV[2], 'updated_at', ARGV[3])
redis.call('PUBLISH', KEYS[2], ARGV[4])
return 1
`)

func NewRedisStore(addr, password string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c}
}

func locKey(providerID string) string    { return "provider:loc:" + providerID }
func eventsKey(providerID string) string { return "provider:loc:events:" + providerID }

func (r *RedisStore) Publish(ctx context.Context, loc models.LiveLocation) error {
	payload, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	accepted, err := publishScript.Run(ctx, r.client,
		[]string{locKey(loc.ProviderID), eventsKey(loc.ProviderID)},
		strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		strconv.FormatFloat(loc.Lng, 'f', -1, 64),
		strconv.FormatInt(loc.UpdatedAt.UnixNano(), 10),
		payload,
	).Int()
	if err != nil {
		return err
	}
	if accepted == 0 {
		observability.LocationStaleDropped.Inc()
		return nil
	}
	observability.LocationWritesTotal.Inc()
	return nil
}

func (r *RedisStore) Get(ctx context.Context, providerID string) (models.LiveLocation, error) {
	m, err := r.client.HGetAll(ctx, locKey(providerID)).Result()
	if err != nil {
		return models.LiveLocation{}, err
	}
	if len(m) == 0 {
		return models.LiveLocation{}, ErrNoLocation
	}
	loc := models.LiveLocation{ProviderID: providerID}
	if v, ok := m["lat"]; ok {
		loc.Lat, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := m["lng"]; ok {
		loc.Lng, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := m["updated_at"]; ok {
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			loc.UpdatedAt = time.Unix(0, ns)
		}
	}
	return loc, nil
}

func (r *RedisStore) Subscribe(ctx context.Context, providerID string) (<-chan models.LiveLocation, func(), error) {
	ps := r.client.Subscribe(ctx, eventsKey(providerID))
	// force the subscription so errors surface here, not on first receive
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	out := make(chan models.LiveLocation, 16)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var loc models.LiveLocation
			if err := json.Unmarshal([]byte(msg.Payload), &loc); err != nil {
				continue
			}
			select {
			case out <- loc:
			default:
			}
		}
	}()
	stop := func() { _ = ps.Close() }
	return out, stop, nil
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisStore) Close() error { return r.client.Close() }
