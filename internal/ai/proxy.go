package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var dataURIPattern = regexp.MustCompile(`data:image/([a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/=]+)`)

type ProxyOptions struct {
	APIKey             string
	BaseURL            string
	Model              string
	Timeout            time.Duration
	FallbackToOriginal bool
	HTTPClient         *http.Client
}

// Proxy talks to an OpenAI-compatible /v1/chat/completions endpoint that
// returns generated images as base64 data URIs inside the message content.
type Proxy struct {
	apiKey   string
	baseURL  string
	model    string
	fallback bool
	http     *http.Client
	log      logrus.FieldLogger
}

func NewProxy(opts ProxyOptions, logger logrus.FieldLogger) (*Proxy, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: PROXY_API_KEY is not set", ErrMissingCredentials)
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 180 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Proxy{
		apiKey:   opts.APIKey,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		model:    opts.Model,
		fallback: opts.FallbackToOriginal,
		http:     client,
		log:      logger.WithFields(logrus.Fields{"provider": "proxy", "model": opts.Model}),
	}, nil
}

func (p *Proxy) Name() string { return "proxy" }

func (p *Proxy) Edit(ctx context.Context, req EditRequest) ([][]byte, error) {
	if len(req.Image) == 0 {
		p.log.Error("edit: empty input image")
		return nil, nil
	}
	mimeType := req.MIMEType
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/png"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(req.Image)
	text := req.Prompt
	if text == "" {
		text = "Edit this image"
	}
	parts := []chatPart{
		{Type: "text", Text: text},
		{Type: "image_url", ImageURL: &chatImageURL{URL: dataURL}},
	}
	images, err := p.complete(ctx, parts)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return editFallback(req, p.fallback, p.log), nil
	}
	return images, nil
}

func (p *Proxy) Generate(ctx context.Context, req GenerateRequest) ([][]byte, error) {
	return p.complete(ctx, []chatPart{{Type: "text", Text: req.Prompt}})
}

func (p *Proxy) Upscale(context.Context, []byte, int) ([]byte, error) {
	return nil, ErrUpscaleUnsupported
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content []chatPart `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete sends one chat request and returns the first embedded image, if
// any. Only context cancellation is reported as an error.
func (p *Proxy) complete(ctx context.Context, parts []chatPart) ([][]byte, error) {
	url := p.baseURL + "/v1/chat/completions"
	body, err := json.Marshal(chatRequest{
		Model:    p.model,
		Stream:   false,
		Messages: []chatMessage{{Role: "user", Content: parts}},
	})
	if err != nil {
		p.log.WithError(err).Error("encode chat request")
		return nil, nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		p.log.WithError(err).Error("build chat request")
		return nil, nil
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	p.log.WithField("url", url).Info("chat completion request")
	resp, err := p.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.WithError(err).Error("chat completion request failed")
		return nil, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		p.log.WithError(err).Error("read chat completion response")
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.log.WithField("status", resp.StatusCode).Errorf("chat completion http error: %.800s", raw)
		return nil, nil
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		p.log.WithError(err).Error("decode chat completion response")
		return nil, nil
	}
	if len(payload.Choices) == 0 {
		p.log.Warn("chat completion response has no choices")
		return nil, nil
	}
	text := messageText(payload.Choices[0].Message.Content)
	if text == "" {
		p.log.Warn("chat completion response has no content")
		return nil, nil
	}

	img, ok := firstDataURIImage(text)
	if !ok {
		p.log.Warnf("no base64 image in content: %.200s", text)
		return nil, nil
	}
	p.log.Infof("extracted 1 image (%d bytes)", len(img))
	return [][]byte{img}, nil
}

// messageText accepts content as a plain string or as an array of parts.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type     string        `json:"type"`
		Text     string        `json:"text"`
		ImageURL *chatImageURL `json:"image_url"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, part := range parts {
		if part.Text != "" {
			b.WriteString(part.Text)
			b.WriteByte('\n')
		}
		if part.ImageURL != nil {
			b.WriteString(part.ImageURL.URL)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func firstDataURIImage(text string) ([]byte, bool) {
	m := dataURIPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	img, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return nil, false
	}
	return img, true
}
