package enhance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type fakeEnhancer struct {
	out string
	err error
}

func (f *fakeEnhancer) Enhance(ctx context.Context, text string) (string, error) {
	return f.out, f.err
}

func TestApplyReturnsEnhancedText(t *testing.T) {
	got := Apply(context.Background(), &fakeEnhancer{out: "  Buy milk.  "}, "by milk")
	if got != "Buy milk." {
		t.Fatalf("expected trimmed enhanced text, got %q", got)
	}
}

func TestApplyFallsBackOnFailure(t *testing.T) {
	got := Apply(context.Background(), &fakeEnhancer{err: errors.New("quota exceeded")}, "by milk")
	if got != "by milk" {
		t.Fatalf("expected original text on failure, got %q", got)
	}
}

func TestApplyFallsBackOnEmptyOutput(t *testing.T) {
	got := Apply(context.Background(), &fakeEnhancer{out: "   "}, "by milk")
	if got != "by milk" {
		t.Fatalf("expected original text on empty output, got %q", got)
	}
}

func TestApplyNilEnhancerIsNoop(t *testing.T) {
	if got := Apply(context.Background(), nil, "raw note"); got != "raw note" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

type scriptedTransport struct {
	status int
	body   string
	gotURL string
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.gotURL = req.URL.String()
	return &http.Response{
		StatusCode: s.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Request:    req,
	}, nil
}

func TestGeminiEnhancerReturnsModelText(t *testing.T) {
	transport := &scriptedTransport{
		status: http.StatusOK,
		body: `{"candidates":[{"content":{"role":"model","parts":[{"text":" Buy milk. "}]},"finishReason":"STOP"}]}`,
	}
	g, err := NewGeminiEnhancer(context.Background(), GeminiOptions{
		APIKey:     "test-key",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new enhancer failed: %v", err)
	}
	got, err := g.Enhance(context.Background(), "by milk")
	if err != nil {
		t.Fatalf("enhance failed: %v", err)
	}
	if got != "Buy milk." {
		t.Fatalf("expected trimmed model text, got %q", got)
	}
	if !strings.Contains(transport.gotURL, DefaultModel) {
		t.Fatalf("expected default model in request URL, got %q", transport.gotURL)
	}
}

func TestGeminiEnhancerRejectsEmptyText(t *testing.T) {
	g, err := NewGeminiEnhancer(context.Background(), GeminiOptions{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("new enhancer failed: %v", err)
	}
	if _, err := g.Enhance(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for empty text")
	}
}

func TestGeminiEnhancerSurfacesEmptyResponse(t *testing.T) {
	transport := &scriptedTransport{status: http.StatusOK, body: `{"candidates":[]}`}
	g, err := NewGeminiEnhancer(context.Background(), GeminiOptions{
		APIKey:     "test-key",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new enhancer failed: %v", err)
	}
	if _, err := g.Enhance(context.Background(), "note"); err == nil {
		t.Fatalf("expected error for empty candidate list")
	}
}

func TestNewGeminiEnhancerRequiresAPIKey(t *testing.T) {
	if _, err := NewGeminiEnhancer(context.Background(), GeminiOptions{APIKey: " "}); !errors.Is(err, ErrAPIKeyRequired) {
		t.Fatalf("expected ErrAPIKeyRequired, got %v", err)
	}
}

func TestBuildPromptEmbedsNote(t *testing.T) {
	prompt := buildPrompt("remember the thing")
	if !strings.HasSuffix(prompt, "remember the thing") {
		t.Fatalf("expected note at end of prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "corrected note only") {
		t.Fatalf("expected reply instruction in prompt, got %q", prompt)
	}
}
