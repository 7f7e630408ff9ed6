package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"clipfetch/pkg/httpclient"
	"clipfetch/pkg/identity"
	"clipfetch/pkg/jsonwalk"
	"clipfetch/pkg/logging"
	"clipfetch/pkg/types"
)

const (
	DefaultGraphQLEndpoint = "https://www.threads.net/api/graphql"
	DefaultGraphQLOrigin   = "https://www.threads.net"
	// AppID is the web app id the service expects on GraphQL calls.
	AppID = "238260118697367"
)

// GraphQL posts persisted queries keyed by doc id.
type GraphQL struct {
	session  *httpclient.Session
	endpoint string
	origin   string
	attempts int
	timeout  time.Duration
	log      *logging.Logger
}

// NewGraphQL creates a client that shares session's cookie jar, so the CSRF
// cookie set by the page fetch is echoed back in X-CSRFToken. A zero timeout
// means 20s per request.
func NewGraphQL(session *httpclient.Session, endpoint string, timeout time.Duration, log *logging.Logger) *GraphQL {
	if endpoint == "" {
		endpoint = DefaultGraphQLEndpoint
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	origin := DefaultGraphQLOrigin
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	return &GraphQL{
		session:  session,
		endpoint: endpoint,
		origin:   origin,
		attempts: 2,
		timeout:  timeout,
		log:      log.WithComponent("graphql"),
	}
}

// Query tries each doc id in order and returns the first JSON response.
func (g *GraphQL) Query(ctx context.Context, pageURL, lsd, shortcode string, docIDs []string) (Payload, error) {
	variables := fmt.Sprintf(`{"postID":%q}`, shortcode)

	for _, docID := range docIDs {
		for attempt := 1; attempt <= g.attempts; attempt++ {
			payload, err := g.post(ctx, pageURL, lsd, docID, variables)
			if err == nil {
				g.log.Debug("graphql query succeeded", "doc_id", docID, "attempt", attempt)
				return payload, nil
			}
			g.log.Debug("graphql query failed", "doc_id", docID, "attempt", attempt, "error", err)
			if ctx.Err() != nil {
				return Payload{}, types.NewStageError("graphql", types.WrapTimeout(ctx.Err()))
			}
		}
	}
	return Payload{}, types.NewStageError("graphql", fmt.Errorf("%d doc id(s) exhausted: %w", len(docIDs), types.ErrNoCandidatesFound))
}

func (g *GraphQL) post(ctx context.Context, pageURL, lsd, docID, variables string) (Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("lsd", lsd)
	form.Set("doc_id", docID)
	form.Set("variables", variables)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Payload{}, err
	}
	req.Header.Set("User-Agent", identity.MobileUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-FB-LSD", lsd)
	req.Header.Set("X-IG-App-ID", AppID)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", g.origin)
	req.Header.Set("Referer", pageURL)
	if csrf := g.session.Cookie(req.URL, "csrftoken"); csrf != "" {
		req.Header.Set("X-CSRFToken", csrf)
	}

	resp, err := g.session.Do(req)
	if err != nil {
		return Payload{}, types.WrapTimeout(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Payload{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return Payload{}, fmt.Errorf("unexpected content-type %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return Payload{}, types.WrapTimeout(err)
	}
	if !gjson.ValidBytes(body) {
		return Payload{}, jsonwalk.ErrInvalidJSON
	}
	root, err := jsonwalk.Parse(string(body))
	if err != nil {
		return Payload{}, err
	}
	return Payload{Endpoint: g.endpoint, Raw: string(body), Root: root}, nil
}
