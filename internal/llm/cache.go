package llm

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rustyclaw/rustyclaw/internal/config"
)

// CacheStrategy determines how long models stay hot on the backend.
type CacheStrategy string

const (
	// CacheRAM keeps models resident for fast swaps.
	CacheRAM CacheStrategy = "ram"
	// CacheSSD unloads quickly and reloads from disk.
	CacheSSD CacheStrategy = "ssd"
	// CacheNone always reloads.
	CacheNone CacheStrategy = "none"
)

// KeepAlive returns the backend keep-alive hint for the strategy.
func (s CacheStrategy) KeepAlive() string {
	switch s {
	case CacheRAM:
		return "30m"
	case CacheSSD:
		return "2m"
	default:
		return "0"
	}
}

// ModelCache tracks hot models with LRU eviction.
type ModelCache struct {
	mu       sync.Mutex
	strategy CacheStrategy
	models   *lru.Cache[string, time.Time]
}

// NewModelCache creates a cache sized from config.
func NewModelCache(cfg *config.CacheConfig) (*ModelCache, error) {
	maxModels := cfg.MaxModels
	if maxModels <= 0 {
		maxModels = 3
	}
	models, err := lru.New[string, time.Time](maxModels)
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}
	strategy := CacheStrategy(cfg.Type)
	switch strategy {
	case CacheRAM, CacheSSD, CacheNone:
	default:
		strategy = CacheNone
	}
	return &ModelCache{strategy: strategy, models: models}, nil
}

// MarkUsed records a model as hot, evicting the least recently used
// entry when the cache is full.
func (c *ModelCache) MarkUsed(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models.Add(model, time.Now())
}

// Loaded returns the hot models, most recently used last.
func (c *ModelCache) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.models.Keys()
}

// Contains reports whether a model is currently hot.
func (c *ModelCache) Contains(model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.models.Contains(model)
}

// KeepAlive returns the keep-alive hint for backend requests.
func (c *ModelCache) KeepAlive() string {
	return c.strategy.KeepAlive()
}
