package ai

import (
	"context"
	"errors"
	"math"
	"testing"

	"google.golang.org/genai"

	"github.com/example/nanoimage/api-go/internal/config"
	"github.com/example/nanoimage/api-go/internal/logging"
)

// fakeModels records the last request and returns canned output.
type fakeModels struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.cfg = cfg
	return f.resp, f.err
}

func imagePart(data string) *genai.Part {
	return &genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte(data)}}
}

func TestGoogleEditExtractsAllCandidates(t *testing.T) {
	fake := &fakeModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: "here"}, imagePart("one")}}},
			{Content: nil},
			{Content: &genai.Content{Parts: []*genai.Part{imagePart("two"), imagePart("three")}}},
		},
	}}
	g := newGoogle(fake, "gemini-test", false, logging.Discard())

	seed := int64(7)
	images, err := g.Edit(context.Background(), EditRequest{
		Image:    []byte("input"),
		MIMEType: "image/jpeg",
		Prompt:   "restore",
		N:        2,
		Seed:     &seed,
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if len(images) != 3 || string(images[0]) != "one" || string(images[2]) != "three" {
		t.Fatalf("images = %q", images)
	}

	if fake.model != "gemini-test" {
		t.Fatalf("model = %q", fake.model)
	}
	parts := fake.contents[0].Parts
	if len(parts) != 2 || parts[0].Text != "restore" || parts[1].InlineData == nil || parts[1].InlineData.MIMEType != "image/jpeg" {
		t.Fatalf("request parts = %+v", parts)
	}
	if fake.cfg.CandidateCount != 2 || fake.cfg.Seed == nil || *fake.cfg.Seed != 7 {
		t.Fatalf("config = %+v", fake.cfg)
	}
}

func TestGenerateConfig(t *testing.T) {
	seed := func(v int64) *int64 { return &v }
	cases := []struct {
		name      string
		n         int
		seed      *int64
		wantCount int32
		wantSeed  *int32
	}{
		{"defaults", 1, nil, 0, nil},
		{"negative n", -3, nil, 0, nil},
		{"n forwarded", 3, seed(-1), 3, func() *int32 { v := int32(-1); return &v }()},
		{"n clamped", 1 << 40, nil, maxCandidates, nil},
		{"seed above int32", 1, seed(1 << 40), 0, nil},
		{"seed below int32", 1, seed(-(1 << 40)), 0, nil},
		{"seed at max", 1, seed(math.MaxInt32), 0, func() *int32 { v := int32(math.MaxInt32); return &v }()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := generateConfig(tc.n, tc.seed)
			if cfg.CandidateCount != tc.wantCount {
				t.Fatalf("CandidateCount = %d, want %d", cfg.CandidateCount, tc.wantCount)
			}
			switch {
			case tc.wantSeed == nil && cfg.Seed != nil:
				t.Fatalf("Seed = %d, want unset", *cfg.Seed)
			case tc.wantSeed != nil && (cfg.Seed == nil || *cfg.Seed != *tc.wantSeed):
				t.Fatalf("Seed = %v, want %d", cfg.Seed, *tc.wantSeed)
			}
		})
	}
}

func TestGoogleEditFailure(t *testing.T) {
	fake := &fakeModels{err: errors.New("503 unavailable")}

	images, err := newGoogle(fake, "m", false, logging.Discard()).Edit(context.Background(), EditRequest{Image: []byte("input"), Prompt: "p"})
	if err != nil || len(images) != 0 {
		t.Fatalf("without fallback: %q, %v", images, err)
	}

	images, err = newGoogle(fake, "m", true, logging.Discard()).Edit(context.Background(), EditRequest{Image: []byte("input"), Prompt: "p"})
	if err != nil || len(images) != 1 || string(images[0]) != "input" {
		t.Fatalf("with fallback: %q, %v", images, err)
	}
}

func TestGoogleEditCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeModels{err: context.Canceled}

	if _, err := newGoogle(fake, "m", true, logging.Discard()).Edit(ctx, EditRequest{Image: []byte("x")}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want %v", err, context.Canceled)
	}
}

func TestGoogleGenerateFailureReturnsEmpty(t *testing.T) {
	fake := &fakeModels{err: errors.New("boom")}
	images, err := newGoogle(fake, "m", true, logging.Discard()).Generate(context.Background(), GenerateRequest{Prompt: "a fox"})
	if err != nil || len(images) != 0 {
		t.Fatalf("generate = %q, %v", images, err)
	}
	if len(fake.contents[0].Parts) != 1 || fake.contents[0].Parts[0].Text != "a fox" {
		t.Fatalf("parts = %+v", fake.contents[0].Parts)
	}
}

func TestNewProviderSelection(t *testing.T) {
	ctx := context.Background()
	log := logging.Discard()

	if _, err := New(ctx, config.Provider{Name: "google"}, log); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("google without key: %v", err)
	}
	if _, err := New(ctx, config.Provider{Name: "proxy"}, log); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("proxy without key: %v", err)
	}
	if _, err := New(ctx, config.Provider{Name: "dalle"}, log); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("unknown provider: %v", err)
	}

	p, err := New(ctx, config.Provider{Name: "proxy", ProxyAPIKey: "k", ProxyBaseURL: "http://proxy.test", GoogleModel: "g"}, log)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	if p.Name() != "proxy" || p.(*Proxy).model != "g" {
		t.Fatalf("provider = %s model = %q", p.Name(), p.(*Proxy).model)
	}
}
