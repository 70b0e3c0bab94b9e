package enhance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

var ErrAPIKeyRequired = errors.New("gemini api key is required")

const DefaultModel = "gemini-2.0-flash"

// Enhancer rewrites a raw note into a cleaned-up form. Implementations
// must return the error rather than degraded output; callers fall back
// to the original text through Apply.
type Enhancer interface {
	Enhance(ctx context.Context, text string) (string, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

// Apply runs the enhancer and falls back to the original text when
// enhancement fails or produces nothing. A nil enhancer is a no-op, so
// the capture path never depends on the model being configured.
func Apply(ctx context.Context, e Enhancer, text string) string {
	if e == nil {
		return text
	}
	enhanced, err := e.Enhance(ctx, text)
	if err != nil || strings.TrimSpace(enhanced) == "" {
		return text
	}
	return strings.TrimSpace(enhanced)
}

type GeminiOptions struct {
	APIKey string
	Model  string
	// HTTPClient overrides the transport, e.g. for tests.
	HTTPClient *http.Client
	Logger     Logger
}

// GeminiEnhancer cleans up note text with the Gemini API.
type GeminiEnhancer struct {
	client *genai.Client
	model  string
	logger Logger
}

func NewGeminiEnhancer(ctx context.Context, opts GeminiOptions) (*GeminiEnhancer, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrAPIKeyRequired
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiEnhancer{client: client, model: model, logger: opts.Logger}, nil
}

func (g *GeminiEnhancer) Enhance(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("text is required")
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(buildPrompt(text)), nil)
	if err != nil {
		g.logf("gemini call failed: %v", err)
		return "", err
	}
	result := strings.TrimSpace(resp.Text())
	if result == "" {
		return "", fmt.Errorf("empty gemini response")
	}
	return result, nil
}

func (g *GeminiEnhancer) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

// buildPrompt keeps the instruction alongside the text in one turn; the
// model is told to answer with the note alone, no framing.
func buildPrompt(text string) string {
	return "Fix the spelling, grammar and punctuation of the following note. " +
		"Keep its meaning and tone. Reply with the corrected note only, " +
		"no explanation.\n\n" + text
}
