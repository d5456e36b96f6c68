package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const DefaultGoogleModel = "gemini-2.5-flash-image-preview"

type Config struct {
	Addr              string
	BaseURL           string
	StorageDir        string
	AllowedOrigins    []string
	MaxConcurrentJobs int
	LogLevel          string
	Provider          Provider
}

// Provider selects and configures the image backend. Credentials are
// validated when a job builds its adapter, not at startup.
type Provider struct {
	Name               string
	GoogleAPIKey       string
	GoogleModel        string
	ProxyBaseURL       string
	ProxyAPIKey        string
	ProxyModel         string
	ProxyTimeout       time.Duration
	FallbackToOriginal bool
}

func Load() Config {
	googleModel := getenv("GOOGLE_IMAGE_MODEL", DefaultGoogleModel)
	return Config{
		Addr:              getenv("NANOIMAGE_API_ADDR", ":8000"),
		BaseURL:           strings.TrimRight(strings.TrimSpace(os.Getenv("NANOIMAGE_BASE_URL")), "/"),
		StorageDir:        getenv("STORAGE_DIR", "storage"),
		AllowedOrigins:    getenvCSV("ALLOWED_ORIGINS", []string{"*"}),
		MaxConcurrentJobs: getenvInt("NANOIMAGE_MAX_JOBS", 0),
		LogLevel:          getenv("NANOIMAGE_LOG_LEVEL", "info"),
		Provider: Provider{
			Name:               strings.ToLower(getenv("PROVIDER", "google")),
			GoogleAPIKey:       strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
			GoogleModel:        googleModel,
			ProxyBaseURL:       getenv("PROXY_BASE_URL", "https://api.laozhang.ai"),
			ProxyAPIKey:        strings.TrimSpace(os.Getenv("PROXY_API_KEY")),
			ProxyModel:         getenv("PROXY_MODEL", googleModel),
			ProxyTimeout:       getenvDuration("PROXY_TIMEOUT", 180*time.Second),
			FallbackToOriginal: strings.EqualFold(strings.TrimSpace(os.Getenv("NANOIMAGE_EDIT_FALLBACK")), "original"),
		},
	}
}

// MaskKey keeps the first 6 and last 4 characters of a secret for logging.
func MaskKey(key string) string {
	if key == "" {
		return "<EMPTY>"
	}
	if len(key) <= 10 {
		return strings.Repeat("*", len(key))
	}
	return key[:6] + "..." + key[len(key)-4:]
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getenvCSV(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	values := splitCSV(raw)
	if len(values) == 0 {
		return fallback
	}
	return values
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
