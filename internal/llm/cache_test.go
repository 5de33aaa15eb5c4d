package llm

import (
	"testing"

	"github.com/rustyclaw/rustyclaw/internal/config"
)

func TestModelCacheLRUEviction(t *testing.T) {
	cache, err := NewModelCache(&config.CacheConfig{Type: "ram", MaxModels: 3})
	if err != nil {
		t.Fatalf("NewModelCache: %v", err)
	}

	for _, model := range []string{"m1", "m2", "m3"} {
		cache.MarkUsed(model)
	}
	// Refresh m1 so m2 is now least recently used.
	cache.MarkUsed("m1")
	cache.MarkUsed("m4")

	if cache.Contains("m2") {
		t.Error("m2 should have been evicted as LRU")
	}
	for _, model := range []string{"m1", "m3", "m4"} {
		if !cache.Contains(model) {
			t.Errorf("%s missing from cache", model)
		}
	}
	if got := len(cache.Loaded()); got != 3 {
		t.Errorf("Loaded count = %d, want 3", got)
	}
}

func TestCacheKeepAlive(t *testing.T) {
	cases := map[string]string{
		"ram":  "30m",
		"ssd":  "2m",
		"none": "0",
		"":     "0",
	}
	for cacheType, want := range cases {
		cache, err := NewModelCache(&config.CacheConfig{Type: cacheType, MaxModels: 2})
		if err != nil {
			t.Fatalf("NewModelCache(%q): %v", cacheType, err)
		}
		if got := cache.KeepAlive(); got != want {
			t.Errorf("KeepAlive(%q) = %q, want %q", cacheType, got, want)
		}
	}
}
