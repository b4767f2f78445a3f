package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("unexpected default port: %s", cfg.Port)
	}
	if cfg.CacheBackend != "memory" {
		t.Fatalf("unexpected default cache backend: %s", cfg.CacheBackend)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("unexpected default cache TTL: %s", cfg.CacheTTL)
	}
	if cfg.CoalescerMaxEntries != 256 {
		t.Fatalf("unexpected default coalescer cap: %d", cfg.CoalescerMaxEntries)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("COALESCER_MAX_ENTRIES", "12")
	t.Setenv("BAD_DOMAINS", "evil-example,scraper.net")

	cfg := Load()
	if cfg.Port != "9999" {
		t.Fatalf("PORT override ignored: %s", cfg.Port)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Fatalf("CACHE_TTL override ignored: %s", cfg.CacheTTL)
	}
	if cfg.CoalescerMaxEntries != 12 {
		t.Fatalf("COALESCER_MAX_ENTRIES override ignored: %d", cfg.CoalescerMaxEntries)
	}
	if cfg.BadDomains != "evil-example,scraper.net" {
		t.Fatalf("BAD_DOMAINS override ignored: %s", cfg.BadDomains)
	}
}

func TestMalformedNumericFallsBack(t *testing.T) {
	t.Setenv("COALESCER_MAX_ENTRIES", "many")
	t.Setenv("CACHE_TTL", "soon")

	cfg := Load()
	if cfg.CoalescerMaxEntries != 256 || cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("malformed values must fall back to defaults: %+v", cfg)
	}
}
