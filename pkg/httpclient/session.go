package httpclient

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"clipfetch/pkg/interfaces"
)

// Session layers a cookie jar over any HTTP client so that cookies set by a
// page fetch (CSRF tokens, anti-bot tokens) are replayed on later calls.
type Session struct {
	client interfaces.HTTPClient
	jar    *cookiejar.Jar
}

// NewSession creates a session with an empty jar.
func NewSession(client interfaces.HTTPClient) *Session {
	jar, _ := cookiejar.New(nil)
	return &Session{client: client, jar: jar}
}

// Do sends req with the jar's cookies and stores any cookies it returns.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	for _, ck := range s.jar.Cookies(req.URL) {
		req.AddCookie(ck)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	target := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		target = resp.Request.URL
	}
	if cookies := resp.Cookies(); len(cookies) > 0 {
		s.jar.SetCookies(target, cookies)
	}
	return resp, nil
}

// SetCookies stores cookies for u.
func (s *Session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.jar.SetCookies(u, cookies)
}

// Cookie returns the value of the named cookie visible to u, or "".
func (s *Session) Cookie(u *url.URL, name string) string {
	for _, ck := range s.jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

var _ interfaces.HTTPClient = (*Session)(nil)
