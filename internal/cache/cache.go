// internal/cache/cache.go

// Package cache implements the hot cache and pub/sub layer: the latest
// DeviceStatus/InterfaceReading/wireless sample per key, with TTL refreshed
// on every write, and a channel fan-out for live updates. It delegates to
// an external Redis-equivalent service when configured and falls back to
// an in-process store with identical semantics when that service is
// unreachable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"netwatch/internal/config"
	"netwatch/internal/logger"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelDeviceUpdate    = "device:update"
	ChannelInterfaceUpdate = "interface:update"
	ChannelWirelessUpdate  = "wireless:update"
	ChannelAlertFlapping   = "alert:flapping"
	ChannelSystemStatus    = "system:status"
)

func DeviceStatusKey(deviceID string) string {
	return fmt.Sprintf("device:status:%s", deviceID)
}

func InterfaceStatusKey(deviceID string, ifIndex int) string {
	return fmt.Sprintf("interface:status:%s:%d", deviceID, ifIndex)
}

func WirelessStatusKey(deviceID string) string {
	return fmt.Sprintf("wireless:status:%s", deviceID)
}

// Cache is the behavior subsystems depend on. Set refreshes the TTL;
// Publish fans an event out to every live Subscribe call on that channel.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Publish(ctx context.Context, channel string, payload interface{}) error
	Subscribe(ctx context.Context, channels ...string) <-chan Event
	Mode() string
	Close() error
}

// Event is one pub/sub delivery, tagged with the channel it arrived on so
// a single Subscribe call can multiplex several channels.
type Event struct {
	Channel string
	Payload []byte
}

// New builds a Cache, preferring the external service when configured and
// reachable, and transparently falling back to an in-process store
// otherwise.
func New(ctx context.Context, cfg config.CacheConfig, log *logger.Logger) Cache {
	if !cfg.Enabled() {
		log.Info("cache: no CACHE_HOST set, running in-process")
		return newLocalCache(log)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("cache: redis at %s unreachable (%v), falling back to in-process", cfg.Addr(), err)
		rdb.Close()
		return newLocalCache(log)
	}

	log.Info("cache: connected to redis at %s", cfg.Addr())
	return &redisCache{client: rdb, log: log, local: newLocalCache(log)}
}

// redisCache delegates to Redis, demoting to its embedded local cache on
// any live round-trip error so a mid-run outage degrades gracefully.
type redisCache struct {
	client *redis.Client
	log    *logger.Logger
	local  *localCache

	mu       sync.Mutex
	degraded bool
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.markDegraded(err)
		return c.local.Set(ctx, key, value, ttl)
	}
	c.markRecovered()
	return nil
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.markDegraded(err)
		return c.local.Get(ctx, key, dest)
	}
	return true, json.Unmarshal(data, dest)
}

func (c *redisCache) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
		c.markDegraded(err)
		return c.local.Publish(ctx, channel, payload)
	}
	return nil
}

// Subscribe listens on both the Redis channel and the embedded local
// fallback, merging both into the returned channel. A write that degrades
// mid-run (markDegraded) publishes through c.local instead of Redis, so a
// subscriber that only heard Redis would silently stop seeing updates for
// the rest of the outage; listening on both sources the whole time makes
// that transition invisible to the caller.
func (c *redisCache) Subscribe(ctx context.Context, channels ...string) <-chan Event {
	out := make(chan Event, 64)
	sub := c.client.Subscribe(ctx, channels...)
	localEvents := c.local.Subscribe(ctx, channels...)

	forward := func(evt Event) {
		select {
		case out <- evt:
		default:
			c.log.Warn("cache: subscriber channel full, dropping event on %s", evt.Channel)
		}
	}

	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				forward(Event{Channel: msg.Channel, Payload: []byte(msg.Payload)})
			case evt, ok := <-localEvents:
				if !ok {
					return
				}
				forward(evt)
			}
		}
	}()

	return out
}

func (c *redisCache) Mode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded {
		return "local"
	}
	return "redis"
}

func (c *redisCache) Close() error {
	return c.client.Close()
}

func (c *redisCache) markDegraded(err error) {
	c.mu.Lock()
	first := !c.degraded
	c.degraded = true
	c.mu.Unlock()
	if first {
		c.log.Warn("cache: redis round-trip failed (%v), falling back to in-process", err)
	}
}

func (c *redisCache) markRecovered() {
	c.mu.Lock()
	was := c.degraded
	c.degraded = false
	c.mu.Unlock()
	if was {
		c.log.Info("cache: redis round-trip succeeded, leaving in-process fallback")
	}
}
