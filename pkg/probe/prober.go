// Package probe calls platform-internal endpoints when page scraping fails.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"clipfetch/pkg/identity"
	"clipfetch/pkg/interfaces"
	"clipfetch/pkg/jsonwalk"
	"clipfetch/pkg/logging"
	"clipfetch/pkg/types"
)

// maxPayloadBytes caps how much of an API body is read.
const maxPayloadBytes = 16 << 20

// Endpoint is a URL template with an {id} placeholder.
type Endpoint struct {
	Method      string
	URLTemplate string
	Referer     string
	Mobile      bool
}

// URL substitutes id into the template.
func (e Endpoint) URL(id string) string {
	return strings.ReplaceAll(e.URLTemplate, "{id}", url.QueryEscape(id))
}

// Payload is an accepted endpoint response.
type Payload struct {
	Endpoint string
	// Raw holds the JSON body; empty when DirectURL is set.
	Raw  string
	Root *jsonwalk.Node
	// DirectURL is set when the endpoint answered with media bytes.
	DirectURL string
}

// Get runs a gjson path query against the payload.
func (p Payload) Get(path string) gjson.Result {
	return gjson.Get(p.Raw, path)
}

// Options tune a Prober.
type Options struct {
	Timeout time.Duration
	Limiter *rate.Limiter
	// Accept rejects JSON payloads that parsed but carry nothing useful,
	// so the next endpoint is tried.
	Accept func(Payload) bool
}

// Prober tries endpoints in order and returns the first usable response.
type Prober struct {
	client    interfaces.HTTPClient
	identity  *identity.Provider
	endpoints []Endpoint
	opts      Options
	log       *logging.Logger
}

// New creates a prober.
func New(client interfaces.HTTPClient, ident *identity.Provider, endpoints []Endpoint, opts Options, log *logging.Logger) *Prober {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &Prober{
		client:    client,
		identity:  ident,
		endpoints: endpoints,
		opts:      opts,
		log:       log.WithComponent("probe"),
	}
}

// Probe returns the first endpoint response that is JSON or raw video.
func (p *Prober) Probe(ctx context.Context, id string) mo.Option[Payload] {
	for _, ep := range p.endpoints {
		endpointURL := ep.URL(id)
		payload, err := p.try(ctx, ep, endpointURL)
		if err != nil {
			p.log.Debug("endpoint rejected", "url", endpointURL, "error", err)
			if ctx.Err() != nil {
				return mo.None[Payload]()
			}
			continue
		}
		if payload.DirectURL == "" && p.opts.Accept != nil && !p.opts.Accept(payload) {
			p.log.Debug("endpoint payload not usable", "url", endpointURL)
			continue
		}
		p.log.Debug("endpoint accepted", "url", endpointURL, "direct", payload.DirectURL != "")
		return mo.Some(payload)
	}
	return mo.None[Payload]()
}

func (p *Prober) try(ctx context.Context, ep Endpoint, endpointURL string) (Payload, error) {
	if p.opts.Limiter != nil {
		if err := p.opts.Limiter.Wait(ctx); err != nil {
			return Payload{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	method := ep.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, endpointURL, nil)
	if err != nil {
		return Payload{}, err
	}
	req.Header = p.identity.Headers(ep.Mobile)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Cookie", p.identity.Tokens().Cookie())
	if ep.Referer != "" {
		req.Header.Set("Referer", ep.Referer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Payload{}, types.WrapTimeout(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Payload{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if IsMediaContentType(ct) {
		final := endpointURL
		if resp.Request != nil && resp.Request.URL != nil {
			final = resp.Request.URL.String()
		}
		return Payload{Endpoint: endpointURL, DirectURL: final}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return Payload{}, types.WrapTimeout(err)
	}
	root, err := jsonwalk.Parse(string(body))
	if err != nil {
		return Payload{}, fmt.Errorf("content-type %q: %w", ct, err)
	}
	return Payload{Endpoint: endpointURL, Raw: string(body), Root: root}, nil
}

// IsMediaContentType reports whether ct announces raw media bytes.
func IsMediaContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "video/") || strings.Contains(ct, "application/octet-stream")
}
