package httpclient

import (
	"context"
	"net/http"
	"time"

	"clipfetch/pkg/types"
)

// DefaultRedirectTimeout bounds ResolveRedirect when no timeout is given.
const DefaultRedirectTimeout = 30 * time.Second

// ResolveRedirect follows redirects for rawURL and returns the final URL.
// The response body is never read. Any failure is logged and rawURL is
// returned unchanged.
func (c *Client) ResolveRedirect(ctx context.Context, rawURL string, headers http.Header, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = DefaultRedirectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.Get(ctx, rawURL, headers)
	if err != nil {
		c.log.Debug("redirect resolution failed",
			"url", rawURL,
			"error", types.WrapTimeout(err),
			"cause", types.ErrRedirectResolutionFailed,
		)
		return rawURL
	}
	resp.Body.Close()

	if resp.Request == nil || resp.Request.URL == nil {
		return rawURL
	}
	final := resp.Request.URL.String()
	if final != rawURL {
		c.log.Debug("resolved redirect", "from", rawURL, "to", final)
	}
	return final
}
