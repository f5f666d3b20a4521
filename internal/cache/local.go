// internal/cache/local.go

package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"netwatch/internal/logger"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// localCache is the in-process fallback: a guarded map for key/value
// storage and a guarded set of subscriber channels for pub/sub. Pub/sub is
// single-process only in this mode: it never reaches other instances.
type localCache struct {
	log *logger.Logger

	mu      sync.RWMutex
	entries map[string]entry

	subMu sync.Mutex
	subs  map[string][]chan Event
}

func newLocalCache(log *logger.Logger) *localCache {
	c := &localCache{
		log:     log,
		entries: make(map[string]entry),
		subs:    make(map[string][]chan Event),
	}
	go c.sweep()
	return c
}

func (c *localCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		c.mu.Unlock()
	}
}

func (c *localCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = entry{data: data, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *localCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return false, nil
	}
	return true, json.Unmarshal(e.data, dest)
}

func (c *localCache) Publish(_ context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.subMu.Lock()
	subs := append([]chan Event(nil), c.subs[channel]...)
	c.subMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- Event{Channel: channel, Payload: data}:
		default:
			c.log.Warn("cache: local subscriber channel full, dropping event on %s", channel)
		}
	}
	return nil
}

func (c *localCache) Subscribe(ctx context.Context, channels ...string) <-chan Event {
	out := make(chan Event, 64)

	c.subMu.Lock()
	for _, ch := range channels {
		c.subs[ch] = append(c.subs[ch], out)
	}
	c.subMu.Unlock()

	go func() {
		<-ctx.Done()
		c.subMu.Lock()
		for _, chName := range channels {
			subs := c.subs[chName]
			for i, s := range subs {
				if s == out {
					c.subs[chName] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		c.subMu.Unlock()
		close(out)
	}()

	return out
}

func (c *localCache) Mode() string { return "local" }

func (c *localCache) Close() error { return nil }
