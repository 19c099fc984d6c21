// Package session holds the per-run connection context shared by checks:
// where the target lives, how to authenticate, and the values earlier
// checks produced for later ones.
package session

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

const DefaultTimeout = 10 * time.Second

// Credentials are applied to every HTTP request of a run.
type Credentials struct {
	BearerToken string
	BasicUser   string
	BasicPass   string
}

// Options configures a new Session.
type Options struct {
	BaseURL     string
	Credentials Credentials
	Timeout     time.Duration
	Vars        map[string]any // initial store contents
}

// Session is owned by exactly one run. It is not safe for concurrent use.
type Session struct {
	base    *url.URL
	creds   Credentials
	timeout time.Duration
	jar     *cookiejar.Jar
	store   map[string]any
}

// New validates the base URL and builds an empty session.
func New(opts Options) (*Session, error) {
	u, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (e.g. http://localhost:8080), got %q", opts.BaseURL)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Session{
		base:    u,
		creds:   opts.Credentials,
		timeout: timeout,
		jar:     jar,
		store:   make(map[string]any, len(opts.Vars)),
	}
	for k, v := range opts.Vars {
		s.store[k] = v
	}
	return s, nil
}

// BaseURL returns the root address of the system under test.
func (s *Session) BaseURL() string {
	return strings.TrimRight(s.base.String(), "/")
}

// Timeout is the default per-call timeout.
func (s *Session) Timeout() time.Duration { return s.timeout }

// Jar is the run-scoped cookie jar.
func (s *Session) Jar() http.CookieJar { return s.jar }

// Resolve turns a catalog path into a full URL. Absolute URLs pass through
// untouched so a catalog can address a second host (e.g. the frontend).
func (s *Session) Resolve(ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	if ref == "" {
		return s.BaseURL(), nil
	}
	base := *s.base
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	rel := &url.URL{Path: strings.TrimPrefix(r.Path, "/"), RawQuery: r.RawQuery, Fragment: r.Fragment}
	return base.ResolveReference(rel).String(), nil
}

// Authorize applies the configured credentials to req.
func (s *Session) Authorize(req *http.Request) {
	switch {
	case s.creds.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+s.creds.BearerToken)
	case s.creds.BasicUser != "":
		req.SetBasicAuth(s.creds.BasicUser, s.creds.BasicPass)
	}
}

// Get returns a stored value.
func (s *Session) Get(key string) (any, bool) {
	v, ok := s.store[key]
	return v, ok
}

// Set stores a value for later checks.
func (s *Session) Set(key string, v any) {
	s.store[key] = v
}

// Values returns a copy of the store, suitable as template data.
func (s *Session) Values() map[string]any {
	out := make(map[string]any, len(s.store))
	for k, v := range s.store {
		out[k] = v
	}
	return out
}

// Keys lists the stored keys in sorted order.
func (s *Session) Keys() []string {
	keys := make([]string, 0, len(s.store))
	for k := range s.store {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
