package ai

import (
	"context"
	"fmt"
	"math"
	"net/http"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/example/nanoimage/api-go/internal/config"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Google calls the Gemini API through the genai SDK.
type Google struct {
	model    string
	fallback bool
	models   contentGenerator
	log      logrus.FieldLogger
}

func NewGoogle(ctx context.Context, apiKey, model string, fallback bool, logger logrus.FieldLogger) (*Google, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GOOGLE_API_KEY is not set", ErrMissingCredentials)
	}
	if model == "" {
		model = config.DefaultGoogleModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return newGoogle(client.Models, model, fallback, logger), nil
}

func newGoogle(models contentGenerator, model string, fallback bool, logger logrus.FieldLogger) *Google {
	return &Google{
		model:    model,
		fallback: fallback,
		models:   models,
		log:      logger.WithFields(logrus.Fields{"provider": "google", "model": model}),
	}
}

func (g *Google) Name() string { return "google" }

func (g *Google) Generate(ctx context.Context, req GenerateRequest) ([][]byte, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: req.Prompt}},
	}}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, generateConfig(req.N, req.Seed))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.log.WithError(err).Error("generate failed, returning no images")
		return nil, nil
	}
	images := extractImages(resp)
	if len(images) == 0 {
		g.log.Warn("generate: response had no images")
	} else {
		g.log.Infof("generate: extracted %d image(s)", len(images))
	}
	return images, nil
}

func (g *Google) Edit(ctx context.Context, req EditRequest) ([][]byte, error) {
	log := g.log.WithField("prompt_len", len(req.Prompt))
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(req.Image)
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: req.Prompt},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: req.Image}},
		},
	}}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, generateConfig(req.N, req.Seed))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithError(err).Error("edit failed")
		return editFallback(req, g.fallback, log), nil
	}
	images := extractImages(resp)
	if len(images) == 0 {
		log.Warnf("edit: response had no images; prompt=%.60q", req.Prompt)
		return editFallback(req, g.fallback, log), nil
	}
	log.Infof("edit: extracted %d image(s)", len(images))
	return images, nil
}

func (g *Google) Upscale(context.Context, []byte, int) ([]byte, error) {
	return nil, ErrUpscaleUnsupported
}

// maxCandidates is the most candidates the Gemini API accepts per request.
const maxCandidates = 8

// generateConfig clamps n to [1, maxCandidates]. Seeds outside the int32
// range the API accepts are left unset.
func generateConfig(n int, seed *int64) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if n > 1 {
		cfg.CandidateCount = int32(min(n, maxCandidates))
	}
	if seed != nil && *seed >= math.MinInt32 && *seed <= math.MaxInt32 {
		s := int32(*seed)
		cfg.Seed = &s
	}
	return cfg
}

// extractImages collects every inline image part of every candidate.
func extractImages(resp *genai.GenerateContentResponse) [][]byte {
	if resp == nil {
		return nil
	}
	var images [][]byte
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || part.InlineData.Data == nil {
				continue
			}
			images = append(images, part.InlineData.Data)
		}
	}
	return images
}
