package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IDX_PROPERTY_URL", "https://feed.example.com/odata/Property")
	cfg := Load()

	if cfg.RequestTimeout != 90*time.Second {
		t.Errorf("RequestTimeout: got %v, want 90s", cfg.RequestTimeout)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("BatchSize: got %d, want 50", cfg.BatchSize)
	}
	if cfg.Public.MediaURL != "https://feed.example.com/odata/Media" {
		t.Errorf("Public.MediaURL: got %q", cfg.Public.MediaURL)
	}
	if cfg.Restricted.PropertyURL != cfg.Public.PropertyURL {
		t.Errorf("Restricted.PropertyURL should default to the public URL, got %q", cfg.Restricted.PropertyURL)
	}
}

func TestLoadClampsRanges(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(*Config) bool
	}{
		{"REQUEST_TIMEOUT_SEC", "2", func(c *Config) bool { return c.RequestTimeout == 10*time.Second }},
		{"REQUEST_TIMEOUT_SEC", "9999", func(c *Config) bool { return c.RequestTimeout == 300*time.Second }},
		{"BATCH_SIZE", "0", func(c *Config) bool { return c.BatchSize == 1 }},
		{"PAGE_SIZE", "50000", func(c *Config) bool { return c.PageSize == 1000 }},
		{"INTER_BATCH_PAUSE_MS", "-5", func(c *Config) bool { return c.InterBatchPause == 0 }},
		{"SINK_TIMEOUT_SEC", "1", func(c *Config) bool { return c.SinkTimeout == 5*time.Second }},
		{"PAGE_SIZE", "abc", func(c *Config) bool { return c.PageSize == 100 }},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if cfg := Load(); !tt.check(cfg) {
				t.Errorf("%s=%s not clamped as expected", tt.key, tt.value)
			}
		})
	}
}

func TestMediaURLFor(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://h/odata/Property", "https://h/odata/Media"},
		{"https://h/odata/Property/", "https://h/odata/Media"},
		{"Property", "Property/Media"},
	}
	for _, tt := range tests {
		if got := MediaURLFor(tt.in); got != tt.want {
			t.Errorf("MediaURLFor(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefaultFieldMap(t *testing.T) {
	fm := DefaultFieldMap()
	if fm.Identity[0] != "ListingKey" {
		t.Errorf("identity[0]: got %q, want ListingKey", fm.Identity[0])
	}
	if len(fm.Media.FilterFields) < 2 {
		t.Errorf("expected an alternate media filter field, got %v", fm.Media.FilterFields)
	}
	if got := fm.Names("close_price"); len(got) == 0 || got[0] != "ClosePrice" {
		t.Errorf("close_price aliases: got %v", got)
	}
}

func TestParseFieldMapRequiresIdentity(t *testing.T) {
	if _, err := ParseFieldMap([]byte("select: [A]\n")); err == nil {
		t.Error("expected error for missing identity")
	}
}
