package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/y0f/apiprobe/internal/assertion"
	"github.com/y0f/apiprobe/internal/check"
	"github.com/y0f/apiprobe/internal/poll"
	"github.com/y0f/apiprobe/internal/session"
	"github.com/y0f/apiprobe/internal/transport"
)

// defaultExpect applies when a definition declares no expectations: any
// non-error status passes.
var defaultExpect = assertion.ConditionSet{
	Operator: "and",
	Groups: []assertion.ConditionGroup{{
		Operator:   "and",
		Conditions: []assertion.Assertion{{Type: "status_code", Operator: "lt", Value: "400"}},
	}},
}

// Checks validates every definition and builds executable checks that call
// the target through client. Definition problems are reported together as
// a *check.ConfigError. Dependency graph validation is left to the runner.
func (c *Catalog) Checks(client *transport.Client) ([]check.Check, error) {
	var problems []string
	checks := make([]check.Check, 0, len(c.entries))
	for _, e := range c.entries {
		chk, errs := build(e, client)
		if len(errs) > 0 {
			label := e.def.Name
			if label == "" {
				label = "<unnamed>"
			}
			for _, err := range errs {
				problems = append(problems, fmt.Sprintf("%s: check %s: %v", e.source, label, err))
			}
			continue
		}
		checks = append(checks, chk)
	}
	if len(problems) > 0 {
		return nil, &check.ConfigError{Problems: problems}
	}
	return checks, nil
}

func build(e entry, client *transport.Client) (check.Check, []error) {
	def := e.def
	var errs []error

	kinds := 0
	for _, set := range []bool{def.Request != nil, def.WebSocket != nil, def.TCP != nil} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		errs = append(errs, fmt.Errorf("exactly one of request, websocket or tcp is required"))
	}

	expect := def.Expect
	if expect.Empty() {
		expect = defaultExpect
		if def.TCP != nil {
			expect = assertion.ConditionSet{}
		}
	}
	if err := expect.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("expect: %w", err))
	}

	if def.Poll != nil {
		if err := def.Poll.config().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("poll: %w", err))
		}
		if err := def.Poll.Until.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("poll.until: %w", err))
		}
	}

	var extract check.ExtractFunc
	produces := ""
	if def.Produces != nil {
		p := def.Produces
		produces = p.Key
		path := p.Path
		if path == "" {
			path = p.Key
		}
		switch p.From {
		case "", "json":
			extract = check.JSONField(path)
		case "header":
			extract = check.HeaderValue(path)
		case "body":
			extract = check.BodyValue()
		default:
			errs = append(errs, fmt.Errorf("produces.from must be json, header or body, got %q", p.From))
		}
		if p.Key == "" {
			errs = append(errs, fmt.Errorf("produces.key is required"))
		}
	}

	if err := validateTemplates(def, e.defaults); err != nil {
		errs = append(errs, err)
	}
	if def.Request != nil && def.Request.Body != "" && def.Request.JSON != nil {
		errs = append(errs, fmt.Errorf("request: body and json are mutually exclusive"))
	}
	if len(errs) > 0 {
		return check.Check{}, errs
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = e.defaults.Timeout
	}

	var once func(ctx context.Context, s *session.Session) (func(context.Context) *check.Outcome, error)
	switch {
	case def.Request != nil:
		once = httpCall(client, def.Request, e.defaults, timeout)
	case def.WebSocket != nil:
		once = wsCall(client, def.WebSocket, e.defaults, timeout)
	default:
		once = tcpCall(client, def.TCP, timeout)
	}

	action := func(ctx context.Context, s *session.Session) (*check.Outcome, error) {
		call, err := once(ctx, s)
		if err != nil {
			return nil, err
		}
		if def.Poll == nil {
			return call(ctx), nil
		}
		until := def.Poll.Until
		if until.Empty() {
			until = expect
		}
		return poll.Until(ctx, def.Poll.config(), func(ctx context.Context) (*check.Outcome, bool) {
			o := call(ctx)
			return o, assertion.Evaluate(until, o).Verdict == check.VerdictPass
		}), nil
	}

	return check.Check{
		Name:      def.Name,
		DependsOn: def.DependsOn,
		Produces:  produces,
		Action:    action,
		Score:     assertion.Scorer(expect),
		Detail:    detailer(expect),
		Extract:   extract,
	}, nil
}

// detailer describes passing outcomes by status, or by attempt count when
// polling took more than one try.
func detailer(expect assertion.ConditionSet) check.DetailFunc {
	describe := assertion.Describer(expect)
	return func(o *check.Outcome) string {
		d := describe(o)
		if d == "" && o.StatusCode == 0 {
			d = o.Text()
		}
		if o.Attempts > 1 {
			d = fmt.Sprintf("%s after %d attempts", d, o.Attempts)
		}
		return strings.TrimSpace(d)
	}
}

func validateTemplates(def Definition, defaults Defaults) error {
	var values []any
	for _, v := range defaults.Headers {
		values = append(values, v)
	}
	if r := def.Request; r != nil {
		values = append(values, r.Method, r.Path, r.Body, r.JSON, r.Query, r.Headers)
	}
	if w := def.WebSocket; w != nil {
		values = append(values, w.Path, w.Send, w.Headers)
	}
	if t := def.TCP; t != nil {
		values = append(values, t.Address)
	}
	for _, v := range values {
		if err := checkTemplates(v); err != nil {
			return fmt.Errorf("template: %w", err)
		}
	}
	return nil
}

func renderHeaders(defaults, own map[string]string, data map[string]any) (http.Header, error) {
	h := http.Header{}
	for _, src := range []map[string]string{defaults, own} {
		for k, v := range src {
			r, err := render(v, data)
			if err != nil {
				return nil, fmt.Errorf("header %s: %w", k, err)
			}
			h.Set(k, r)
		}
	}
	return h, nil
}

func httpCall(client *transport.Client, spec *RequestSpec, defaults Defaults, timeout time.Duration) func(context.Context, *session.Session) (func(context.Context) *check.Outcome, error) {
	return func(ctx context.Context, s *session.Session) (func(context.Context) *check.Outcome, error) {
		data := templateData(s)

		method, err := render(spec.Method, data)
		if err != nil {
			return nil, fmt.Errorf("method: %w", err)
		}
		if method == "" {
			method = http.MethodGet
		}
		path, err := render(spec.Path, data)
		if err != nil {
			return nil, fmt.Errorf("path: %w", err)
		}
		target, err := s.Resolve(path)
		if err != nil {
			return nil, err
		}
		if len(spec.Query) > 0 {
			u, err := url.Parse(target)
			if err != nil {
				return nil, fmt.Errorf("url: %w", err)
			}
			q := u.Query()
			for k, v := range spec.Query {
				r, err := render(v, data)
				if err != nil {
					return nil, fmt.Errorf("query %s: %w", k, err)
				}
				q.Set(k, r)
			}
			u.RawQuery = q.Encode()
			target = u.String()
		}

		header, err := renderHeaders(defaults.Headers, spec.Headers, data)
		if err != nil {
			return nil, err
		}

		var body []byte
		switch {
		case spec.JSON != nil:
			v, err := renderValue(spec.JSON, data)
			if err != nil {
				return nil, fmt.Errorf("json: %w", err)
			}
			if body, err = json.Marshal(v); err != nil {
				return nil, fmt.Errorf("json: %w", err)
			}
			if header.Get("Content-Type") == "" {
				header.Set("Content-Type", "application/json")
			}
		case spec.Body != "":
			b, err := render(spec.Body, data)
			if err != nil {
				return nil, fmt.Errorf("body: %w", err)
			}
			body = []byte(b)
		}

		req := transport.Request{
			Method: strings.ToUpper(method),
			URL:    target,
			Header: header,
			Body:   body,
		}
		if !spec.Anonymous {
			req.Authorize = s.Authorize
		}
		t := callTimeout(timeout, s)
		return func(ctx context.Context) *check.Outcome {
			return client.Execute(ctx, req, t)
		}, nil
	}
}

func wsCall(client *transport.Client, spec *WebSocketSpec, defaults Defaults, timeout time.Duration) func(context.Context, *session.Session) (func(context.Context) *check.Outcome, error) {
	return func(ctx context.Context, s *session.Session) (func(context.Context) *check.Outcome, error) {
		data := templateData(s)
		path, err := render(spec.Path, data)
		if err != nil {
			return nil, fmt.Errorf("path: %w", err)
		}
		target, err := s.Resolve(path)
		if err != nil {
			return nil, err
		}
		send, err := render(spec.Send, data)
		if err != nil {
			return nil, fmt.Errorf("send: %w", err)
		}
		header, err := renderHeaders(defaults.Headers, spec.Headers, data)
		if err != nil {
			return nil, err
		}
		req := transport.WebSocketRequest{
			URL:       target,
			Header:    header,
			Send:      send,
			AwaitRead: spec.AwaitRead,
		}
		if !spec.Anonymous {
			req.Authorize = s.Authorize
		}
		t := callTimeout(timeout, s)
		return func(ctx context.Context) *check.Outcome {
			return client.Dial(ctx, req, t)
		}, nil
	}
}

func tcpCall(client *transport.Client, spec *TCPSpec, timeout time.Duration) func(context.Context, *session.Session) (func(context.Context) *check.Outcome, error) {
	return func(ctx context.Context, s *session.Session) (func(context.Context) *check.Outcome, error) {
		addr, err := render(spec.Address, templateData(s))
		if err != nil {
			return nil, fmt.Errorf("address: %w", err)
		}
		if addr == "" {
			if addr, err = targetAddress(s.BaseURL()); err != nil {
				return nil, err
			}
		}
		t := callTimeout(timeout, s)
		return func(ctx context.Context) *check.Outcome {
			return client.Connect(ctx, addr, t)
		}, nil
	}
}

// targetAddress derives host:port from the base URL.
func targetAddress(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("base url: %w", err)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

func callTimeout(t time.Duration, s *session.Session) time.Duration {
	if t > 0 {
		return t
	}
	return s.Timeout()
}
