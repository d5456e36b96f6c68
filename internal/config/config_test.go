package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"NANOIMAGE_API_ADDR", "NANOIMAGE_BASE_URL", "STORAGE_DIR", "ALLOWED_ORIGINS",
		"NANOIMAGE_MAX_JOBS", "PROVIDER", "GOOGLE_API_KEY", "GOOGLE_IMAGE_MODEL",
		"PROXY_BASE_URL", "PROXY_API_KEY", "PROXY_MODEL", "PROXY_TIMEOUT", "NANOIMAGE_EDIT_FALLBACK",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Addr != ":8000" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.StorageDir != "storage" {
		t.Fatalf("storage dir = %q", cfg.StorageDir)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("allowed origins = %v", cfg.AllowedOrigins)
	}
	if cfg.Provider.Name != "google" {
		t.Fatalf("provider = %q, want google", cfg.Provider.Name)
	}
	if cfg.Provider.ProxyModel != DefaultGoogleModel {
		t.Fatalf("proxy model = %q, want %q", cfg.Provider.ProxyModel, DefaultGoogleModel)
	}
	if cfg.Provider.ProxyTimeout != 180*time.Second {
		t.Fatalf("proxy timeout = %s", cfg.Provider.ProxyTimeout)
	}
	if cfg.Provider.FallbackToOriginal {
		t.Fatal("fallback should default to off")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PROVIDER", "Proxy")
	t.Setenv("GOOGLE_IMAGE_MODEL", "custom-image")
	t.Setenv("PROXY_MODEL", "")
	t.Setenv("PROXY_TIMEOUT", "30")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("NANOIMAGE_BASE_URL", "http://localhost:8000/")
	t.Setenv("NANOIMAGE_MAX_JOBS", "4")
	t.Setenv("NANOIMAGE_EDIT_FALLBACK", "original")

	cfg := Load()
	if cfg.Provider.Name != "proxy" {
		t.Fatalf("provider = %q, want proxy", cfg.Provider.Name)
	}
	if cfg.Provider.ProxyModel != "custom-image" {
		t.Fatalf("proxy model = %q, want google model fallback", cfg.Provider.ProxyModel)
	}
	if cfg.Provider.ProxyTimeout != 30*time.Second {
		t.Fatalf("proxy timeout = %s", cfg.Provider.ProxyTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("allowed origins = %v", cfg.AllowedOrigins)
	}
	if cfg.BaseURL != "http://localhost:8000" {
		t.Fatalf("base url = %q", cfg.BaseURL)
	}
	if cfg.MaxConcurrentJobs != 4 {
		t.Fatalf("max jobs = %d", cfg.MaxConcurrentJobs)
	}
	if !cfg.Provider.FallbackToOriginal {
		t.Fatal("expected fallback to original")
	}
}

func TestMaskKey(t *testing.T) {
	if got := MaskKey(""); got != "<EMPTY>" {
		t.Fatalf("MaskKey(\"\") = %q", got)
	}
	if got := MaskKey("AIzaSyABCDEFGHIJ1234"); got != "AIzaSy...1234" {
		t.Fatalf("MaskKey = %q", got)
	}
	if got := MaskKey("short"); got != "*****" {
		t.Fatalf("MaskKey(short) = %q", got)
	}
}
