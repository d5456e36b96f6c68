// Package ai adapts image-generation backends to one edit/generate contract.
//
// Adapters treat "no images" as a normal outcome. Backend and transport
// failures are logged and reported as an empty result, never as an error;
// callers only see errors for context cancellation and unsupported
// capabilities.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/example/nanoimage/api-go/internal/config"
)

const DefaultSize = "1024x1024"

var (
	ErrUpscaleUnsupported = errors.New("upscale is not implemented")
	ErrMissingCredentials = errors.New("missing provider credentials")
	ErrUnknownProvider    = errors.New("unknown provider")
)

type EditRequest struct {
	Image    []byte
	MIMEType string
	Prompt   string
	Size     string
	N        int
	Seed     *int64
}

type GenerateRequest struct {
	Prompt string
	Size   string
	N      int
	Seed   *int64
}

type Provider interface {
	Name() string
	Edit(ctx context.Context, req EditRequest) ([][]byte, error)
	Generate(ctx context.Context, req GenerateRequest) ([][]byte, error)
	Upscale(ctx context.Context, image []byte, factor int) ([]byte, error)
}

// New builds the adapter selected by cfg.Name ("google" or "proxy").
func New(ctx context.Context, cfg config.Provider, logger logrus.FieldLogger) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", "google":
		return NewGoogle(ctx, cfg.GoogleAPIKey, cfg.GoogleModel, cfg.FallbackToOriginal, logger)
	case "proxy":
		model := cfg.ProxyModel
		if model == "" {
			model = cfg.GoogleModel
		}
		return NewProxy(ProxyOptions{
			APIKey:             cfg.ProxyAPIKey,
			BaseURL:            cfg.ProxyBaseURL,
			Model:              model,
			Timeout:            cfg.ProxyTimeout,
			FallbackToOriginal: cfg.FallbackToOriginal,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
}

// Describe is a short provider summary for logs.
func Describe(cfg config.Provider) string {
	if strings.EqualFold(strings.TrimSpace(cfg.Name), "proxy") {
		return fmt.Sprintf("proxy base=%s model=%s key=%s", cfg.ProxyBaseURL, cfg.ProxyModel, config.MaskKey(cfg.ProxyAPIKey))
	}
	return fmt.Sprintf("google model=%s key=%s", cfg.GoogleModel, config.MaskKey(cfg.GoogleAPIKey))
}

// editFallback is the shared policy for an edit that produced no image.
func editFallback(req EditRequest, enabled bool, log logrus.FieldLogger) [][]byte {
	if !enabled || len(req.Image) == 0 {
		return nil
	}
	log.WithField("bytes", len(req.Image)).Warn("edit fallback: returning original image")
	return [][]byte{req.Image}
}
