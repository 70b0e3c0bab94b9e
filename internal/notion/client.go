package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/notewell/noterelay/internal/ratelimit"
)

var ErrTokenRequired = errors.New("notion api token is required")

const (
	defaultBaseURL    = "https://api.notion.com"
	defaultAPIVersion = "2022-06-28"
	pagesCacheTTL     = 5 * time.Minute
)

// APIError is a non-2xx Notion response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RateLimit  *ratelimit.Metadata
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion api: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("notion api: status=%d message=%s", e.StatusCode, e.Message)
}

func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Code == "rate_limited"
}

// Permanent reports whether retrying the identical request is pointless:
// the service rejected it for what it is, not for when it arrived.
func (e *APIError) Permanent() bool {
	if e.RateLimited() {
		return false
	}
	switch e.StatusCode {
	case http.StatusRequestTimeout:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

type Page struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
	URL   string `json:"url"`
}

type ClientOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	APIVersion string
	UserAgent  string
	Clock      func() time.Time
}

// HTTPClient talks to the Notion API for a single token. It performs one
// attempt per call; retry policy belongs to the caller, which also owns
// the rate-limit admission decision.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	apiVersion string
	userAgent  string
	clock      func() time.Time

	cacheMu      sync.Mutex
	cachedPages  []Page
	cacheExpires time.Time
}

func NewHTTPClient(opts ClientOptions) (*HTTPClient, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, ErrTokenRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		apiVersion: apiVersion,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		clock:      clock,
	}, nil
}

// AppendText appends one timestamped paragraph block to the target page.
// The returned metadata, when non-nil, is the normalized quota state the
// response carried, present on success and failure alike.
func (c *HTTPClient) AppendText(ctx context.Context, target, text string) (*ratelimit.Metadata, error) {
	if strings.TrimSpace(target) == "" || strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("target and text are required")
	}
	stamp := c.clock().Format("[02 Jan 06, 15:04:05]")
	body := map[string]any{
		"children": []any{
			map[string]any{
				"object": "block",
				"type":   "paragraph",
				"paragraph": map[string]any{
					"rich_text": []any{
						map[string]any{
							"type": "text",
							"text": map[string]any{
								"content": stamp + " " + text,
							},
							"annotations": map[string]any{
								"bold":  true,
								"color": "default",
							},
						},
					},
				},
			},
		},
	}
	path := fmt.Sprintf("/v1/blocks/%s/children", strings.TrimSpace(target))
	md, _, err := c.doJSON(ctx, http.MethodPatch, path, body, nil)
	return md, err
}

// VerifyToken checks the token against the authenticated-user endpoint.
func (c *HTTPClient) VerifyToken(ctx context.Context) (*ratelimit.Metadata, error) {
	md, _, err := c.doJSON(ctx, http.MethodGet, "/v1/users/me", nil, nil)
	return md, err
}

// SearchPages lists pages visible to the integration, newest-edited
// first. Results are cached briefly so settings screens that re-query on
// every keystroke do not burn quota.
func (c *HTTPClient) SearchPages(ctx context.Context) ([]Page, *ratelimit.Metadata, error) {
	c.cacheMu.Lock()
	if c.cachedPages != nil && c.clock().Before(c.cacheExpires) {
		pages := append([]Page(nil), c.cachedPages...)
		c.cacheMu.Unlock()
		return pages, nil, nil
	}
	c.cacheMu.Unlock()

	body := map[string]any{
		"filter": map[string]any{
			"value":    "page",
			"property": "object",
		},
		"sort": map[string]any{
			"direction": "descending",
			"timestamp": "last_edited_time",
		},
	}
	var payload struct {
		Results []json.RawMessage `json:"results"`
	}
	md, _, err := c.doJSON(ctx, http.MethodPost, "/v1/search", body, &payload)
	if err != nil {
		return nil, md, err
	}
	pages := make([]Page, 0, len(payload.Results))
	for _, raw := range payload.Results {
		if page, ok := parseSearchResult(raw); ok {
			pages = append(pages, page)
		}
	}
	c.cacheMu.Lock()
	c.cachedPages = append([]Page(nil), pages...)
	c.cacheExpires = c.clock().Add(pagesCacheTTL)
	c.cacheMu.Unlock()
	return pages, md, nil
}

// PageInfo resolves a page by ID out of the search results, falling back
// to a placeholder title when the page is not reachable.
func (c *HTTPClient) PageInfo(ctx context.Context, pageID string) (Page, error) {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return Page{}, fmt.Errorf("page id is required")
	}
	pages, _, err := c.SearchPages(ctx)
	if err == nil {
		for _, page := range pages {
			if page.ID == pageID {
				return page, nil
			}
		}
	}
	return Page{ID: pageID, Title: "Notion Page"}, nil
}

// InvalidateCache drops the cached search results, e.g. after the
// selected page changed elsewhere.
func (c *HTTPClient) InvalidateCache() {
	c.cacheMu.Lock()
	c.cachedPages = nil
	c.cacheExpires = time.Time{}
	c.cacheMu.Unlock()
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, out any) (*ratelimit.Metadata, int, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, readErr
	}

	md := extractRateLimitMetadata(resp.Header, resp.StatusCode, c.clock())

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out != nil && len(payload) > 0 {
			if err := json.Unmarshal(payload, out); err != nil {
				return md, resp.StatusCode, err
			}
		}
		return md, resp.StatusCode, nil
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(payload)),
		RateLimit:  md,
	}
	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(payload, &parsed) == nil {
		apiErr.Code = parsed.Code
		if strings.TrimSpace(parsed.Message) != "" {
			apiErr.Message = parsed.Message
		}
	}
	return md, resp.StatusCode, apiErr
}

// extractRateLimitMetadata normalizes the x-ratelimit-* family plus
// Retry-After into the fixed shape the governor understands. Header-name
// variants stop here.
func extractRateLimitMetadata(headers http.Header, statusCode int, now time.Time) *ratelimit.Metadata {
	md := &ratelimit.Metadata{}
	seen := false
	if v, ok := parseIntHeader(headers, "X-Ratelimit-Limit", "X-Rate-Limit-Limit"); ok {
		md.Limit = &v
		seen = true
	}
	if v, ok := parseIntHeader(headers, "X-Ratelimit-Remaining", "X-Rate-Limit-Remaining"); ok {
		md.Remaining = &v
		seen = true
	}
	if v, ok := parseIntHeader(headers, "X-Ratelimit-Reset", "X-Rate-Limit-Reset"); ok {
		resetAt := time.Unix(int64(v), 0)
		if resetAt.After(now) {
			md.ResetAt = &resetAt
			seen = true
		}
	}
	if seconds, ok := parseIntHeader(headers, "Retry-After"); ok && seconds >= 0 {
		md.RetryAfter = time.Duration(seconds) * time.Second
		seen = true
	}
	if statusCode == http.StatusTooManyRequests {
		md.Limited = true
		seen = true
	}
	if !seen {
		return nil
	}
	return md
}

func parseIntHeader(headers http.Header, names ...string) (int, bool) {
	for _, name := range names {
		raw := strings.TrimSpace(headers.Get(name))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		return value, true
	}
	return 0, false
}
