// Package render provides page renderers used when a plain HTTP fetch is
// blocked: a FlareSolverr challenge solver and a headless Chrome browser.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/logging"
)

// Cookie represents a cookie from FlareSolverr response.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  int64  `json:"expires"`
	HTTPOnly bool   `json:"httpOnly"`
	Secure   bool   `json:"secure"`
}

// Solution contains the result of a successful FlareSolverr request.
type Solution struct {
	URL       string   `json:"url"`
	Status    int      `json:"status"`
	Response  string   `json:"response"`
	Cookies   []Cookie `json:"cookies"`
	UserAgent string   `json:"userAgent"`
}

// Response is the full response from FlareSolverr API.
type Response struct {
	Status    string   `json:"status"`
	Message   string   `json:"message"`
	StartTime int64    `json:"startTimestamp"`
	EndTime   int64    `json:"endTimestamp"`
	Version   string   `json:"version"`
	Solution  Solution `json:"solution"`
}

// Request is the request body for FlareSolverr API.
type Request struct {
	Cmd        string   `json:"cmd"`
	URL        string   `json:"url"`
	MaxTimeout int      `json:"maxTimeout"`
	Cookies    []Cookie `json:"cookies,omitempty"`
	Session    string   `json:"session,omitempty"`
}

// FlareSolverr renders pages through a FlareSolverr instance.
type FlareSolverr struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	log        *logging.Logger
}

// NewFlareSolverr creates a FlareSolverr client.
func NewFlareSolverr(baseURL string, timeout time.Duration, log *logging.Logger) *FlareSolverr {
	return &FlareSolverr{
		baseURL: baseURL,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout + 10*time.Second, // Add buffer for network overhead
		},
		log: log.WithComponent("flaresolverr"),
	}
}

// Name returns the renderer name.
func (c *FlareSolverr) Name() string {
	return "flaresolverr"
}

// Get fetches a URL through FlareSolverr.
func (c *FlareSolverr) Get(ctx context.Context, targetURL string, existingCookies []Cookie) (*Response, error) {
	c.log.Debug("fetching URL via FlareSolverr", "url", targetURL)

	req := Request{
		Cmd:        "request.get",
		URL:        targetURL,
		MaxTimeout: int(c.timeout.Milliseconds()),
		Cookies:    existingCookies,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("FlareSolverr returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var fsResp Response
	if err := json.Unmarshal(respBody, &fsResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if fsResp.Status != "ok" {
		return nil, fmt.Errorf("FlareSolverr error: %s", fsResp.Message)
	}

	c.log.Debug("FlareSolverr request successful",
		"url", targetURL,
		"status", fsResp.Solution.Status,
		"cookies", len(fsResp.Solution.Cookies),
		"response_length", len(fsResp.Solution.Response))

	return &fsResp, nil
}

// Render returns the solved page HTML.
func (c *FlareSolverr) Render(ctx context.Context, targetURL string) (string, error) {
	page, _, err := c.RenderWithCookies(ctx, targetURL)
	return page, err
}

// RenderWithCookies returns the solved page HTML and the cookies the
// solver collected, so later plain requests can reuse the clearance.
func (c *FlareSolverr) RenderWithCookies(ctx context.Context, targetURL string) (string, []*http.Cookie, error) {
	resp, err := c.Get(ctx, targetURL, nil)
	if err != nil {
		return "", nil, err
	}
	if resp.Solution.Status >= 400 {
		return "", nil, fmt.Errorf("FlareSolverr upstream status %d", resp.Solution.Status)
	}
	return resp.Solution.Response, ToHTTPCookies(resp.Solution.Cookies), nil
}

// ToHTTPCookies converts FlareSolverr cookies to http.Cookie slice.
func ToHTTPCookies(cookies []Cookie) []*http.Cookie {
	result := make([]*http.Cookie, len(cookies))
	for i, cookie := range cookies {
		result[i] = &http.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   cookie.Domain,
			Path:     cookie.Path,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HTTPOnly,
		}
		if cookie.Expires > 0 {
			result[i].Expires = time.Unix(cookie.Expires, 0)
		}
	}
	return result
}

// IsConfigured returns true if the client is properly configured.
func (c *FlareSolverr) IsConfigured() bool {
	return c.baseURL != ""
}

var _ interfaces.PageRenderer = (*FlareSolverr)(nil)
