package assertion

import (
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/y0f/apiprobe/internal/check"
)

func cs(operator string, groups ...ConditionGroup) ConditionSet {
	return ConditionSet{Operator: operator, Groups: groups}
}

func group(operator string, assertions ...Assertion) ConditionGroup {
	return ConditionGroup{Operator: operator, Conditions: assertions}
}

func outcome(status int, body string, headers map[string]string, latency time.Duration) *check.Outcome {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return check.Response(status, h, []byte(body), latency)
}

func TestStatusCodeAssertion(t *testing.T) {
	set := cs("and", group("and", Assertion{Type: "status_code", Operator: "eq", Value: "200"}))

	if v := Evaluate(set, outcome(200, "", nil, 0)).Verdict; v != check.VerdictPass {
		t.Fatalf("expected pass, got %s", v)
	}
	r := Evaluate(set, outcome(500, "", nil, 0))
	if r.Verdict != check.VerdictFail {
		t.Fatalf("expected fail, got %s", r.Verdict)
	}
	if !strings.Contains(r.Message, "got 500") {
		t.Fatalf("unexpected message: %s", r.Message)
	}
}

func TestStatusCodeIn(t *testing.T) {
	set := cs("and", group("and", Assertion{Type: "status_code", Operator: "in", Value: "400, 404"}))
	if Evaluate(set, outcome(404, "", nil, 0)).Verdict != check.VerdictPass {
		t.Fatal("404 should be accepted")
	}
	if Evaluate(set, outcome(500, "", nil, 0)).Verdict != check.VerdictFail {
		t.Fatal("500 should be rejected")
	}
}

func TestBodyContainsAssertion(t *testing.T) {
	set := cs("and", group("and", Assertion{Type: "body_contains", Operator: "not_contains", Value: "<script>"}))

	if Evaluate(set, outcome(200, "escaped &lt;script&gt;", nil, 0)).Verdict != check.VerdictPass {
		t.Fatal("expected pass for escaped payload")
	}
	if Evaluate(set, outcome(200, "reflected <script>alert(1)</script>", nil, 0)).Verdict != check.VerdictFail {
		t.Fatal("expected fail for reflected payload")
	}
}

func TestBodyRegexAssertion(t *testing.T) {
	set := cs("and", group("and", Assertion{Type: "body_regex", Operator: "matches", Value: `\d{3}`}))

	if Evaluate(set, outcome(200, "code 200 ok", nil, 0)).Verdict != check.VerdictPass {
		t.Fatal("expected pass")
	}
	if Evaluate(set, outcome(200, "no numbers", nil, 0)).Verdict != check.VerdictFail {
		t.Fatal("expected fail")
	}

	bad := cs("and", group("and", Assertion{Type: "body_regex", Value: `(`}))
	r := Evaluate(bad, outcome(200, "x", nil, 0))
	if r.Verdict != check.VerdictFail || !strings.Contains(r.Message, "invalid pattern") {
		t.Fatalf("expected invalid pattern failure, got %s %s", r.Verdict, r.Message)
	}
}

func TestJSONPathAssertion(t *testing.T) {
	body := `{"status":"ok","data":{"count":42},"items":[{"id":1},{"id":2}]}`

	tests := []struct {
		target   string
		operator string
		value    string
		want     check.Verdict
	}{
		{"status", "eq", "ok", check.VerdictPass},
		{"data.count", "eq", "42", check.VerdictPass},
		{"data.count", "gte", "40", check.VerdictPass},
		{"items.0.id", "eq", "1", check.VerdictPass},
		{"items.#", "eq", "2", check.VerdictPass},
		{"missing", "exists", "", check.VerdictFail},
		{"missing", "not_exists", "", check.VerdictPass},
		{"status", "exists", "", check.VerdictPass},
		{"status", "neq", "ok", check.VerdictFail},
		{"missing", "eq", "x", check.VerdictFail},
	}

	for _, tt := range tests {
		set := cs("and", group("and", Assertion{Type: "json_path", Target: tt.target, Operator: tt.operator, Value: tt.value}))
		r := Evaluate(set, outcome(200, body, nil, 0))
		if r.Verdict != tt.want {
			t.Fatalf("json_path %s %s %s: expected %s, got %s (msg: %s)",
				tt.target, tt.operator, tt.value, tt.want, r.Verdict, r.Message)
		}
	}
}

func TestJSONPathInvalidBody(t *testing.T) {
	set := cs("and", group("and", Assertion{Type: "json_path", Target: "id", Operator: "exists"}))
	r := Evaluate(set, outcome(200, "<html>", nil, 0))
	if r.Verdict != check.VerdictFail || !strings.Contains(r.Message, "not valid JSON") {
		t.Fatalf("expected invalid JSON failure, got %s %s", r.Verdict, r.Message)
	}
}

func TestHeaderAssertion(t *testing.T) {
	headers := map[string]string{"Content-Type": "application/json", "X-Frame-Options": "DENY"}

	tests := []struct {
		name string
		a    Assertion
		want check.Verdict
	}{
		{"contains", Assertion{Type: "header", Target: "content-type", Operator: "contains", Value: "json"}, check.VerdictPass},
		{"eq", Assertion{Type: "header", Target: "X-Frame-Options", Operator: "eq", Value: "DENY"}, check.VerdictPass},
		{"exists missing", Assertion{Type: "header", Target: "Strict-Transport-Security", Operator: "exists"}, check.VerdictFail},
		{"not_exists", Assertion{Type: "header", Target: "Server", Operator: "not_exists"}, check.VerdictPass},
		{"wildcard origin", Assertion{Type: "header", Target: "Access-Control-Allow-Origin", Operator: "neq", Value: "*"}, check.VerdictFail},
		{"matches", Assertion{Type: "header", Target: "Content-Type", Operator: "matches", Value: `^application/`}, check.VerdictPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Evaluate(cs("and", group("and", tt.a)), outcome(200, "", headers, 0))
			if r.Verdict != tt.want {
				t.Fatalf("expected %s, got %s (%s)", tt.want, r.Verdict, r.Message)
			}
		})
	}
}

func TestResponseTimeAssertion(t *testing.T) {
	set := cs("and", group("and", Assertion{Type: "response_time", Operator: "lt", Value: "500"}))

	if Evaluate(set, outcome(200, "", nil, 200*time.Millisecond)).Verdict != check.VerdictPass {
		t.Fatal("expected pass: 200 < 500")
	}
	if Evaluate(set, outcome(200, "", nil, 600*time.Millisecond)).Verdict != check.VerdictFail {
		t.Fatal("expected fail: 600 < 500 should fail")
	}
}

func TestCertExpiryAssertion(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_nowFunc = func() time.Time { return now }
	defer func() { _nowFunc = time.Now }()

	set := cs("and", group("and", Assertion{Type: "cert_expiry", Operator: "gt", Value: "14"}))

	o := outcome(200, "", nil, 0)
	expiry := now.Add(30 * 24 * time.Hour)
	o.CertExpiry = &expiry
	if Evaluate(set, o).Verdict != check.VerdictPass {
		t.Fatal("expected pass for 30 days")
	}

	soon := now.Add(3 * 24 * time.Hour)
	o.CertExpiry = &soon
	if Evaluate(set, o).Verdict != check.VerdictFail {
		t.Fatal("expected fail for 3 days")
	}

	o.CertExpiry = nil
	if Evaluate(set, o).Verdict != check.VerdictFail {
		t.Fatal("expected fail without certificate")
	}
}

func TestLenientAssertion(t *testing.T) {
	set := cs("and", group("and",
		Assertion{Type: "status_code", Operator: "eq", Value: "200"},
		Assertion{Type: "header", Target: "Access-Control-Allow-Origin", Operator: "exists", Lenient: true},
	))

	r := Evaluate(set, outcome(200, "", nil, 0))
	if r.Verdict != check.VerdictInconclusive {
		t.Fatalf("expected inconclusive, got %s", r.Verdict)
	}
	if !strings.Contains(r.Message, "Access-Control-Allow-Origin") {
		t.Fatalf("unexpected message: %s", r.Message)
	}

	// A hard failure wins over a lenient one.
	r = Evaluate(set, outcome(500, "", nil, 0))
	if r.Verdict != check.VerdictFail {
		t.Fatalf("expected fail, got %s", r.Verdict)
	}
}

func TestConditionSetAND(t *testing.T) {
	set := cs("and",
		group("and", Assertion{Type: "status_code", Operator: "eq", Value: "200"}),
		group("and", Assertion{Type: "body_contains", Operator: "contains", Value: "ok"}),
	)

	if Evaluate(set, outcome(200, "ok", nil, 0)).Verdict != check.VerdictPass {
		t.Fatal("expected pass when both groups pass")
	}
	if Evaluate(set, outcome(200, "nope", nil, 0)).Verdict != check.VerdictFail {
		t.Fatal("expected fail when one group fails (AND)")
	}
}

func TestConditionSetOR(t *testing.T) {
	set := cs("or",
		group("and", Assertion{Type: "status_code", Operator: "eq", Value: "200"}),
		group("and", Assertion{Type: "status_code", Operator: "eq", Value: "201"}),
	)

	for _, code := range []int{200, 201} {
		if Evaluate(set, outcome(code, "", nil, 0)).Verdict != check.VerdictPass {
			t.Fatalf("expected pass for %d (OR)", code)
		}
	}
	if Evaluate(set, outcome(500, "", nil, 0)).Verdict != check.VerdictFail {
		t.Fatal("expected fail for 500 (OR, neither group passes)")
	}
}

func TestConditionGroupOR(t *testing.T) {
	set := cs("and", group("or",
		Assertion{Type: "status_code", Operator: "eq", Value: "200"},
		Assertion{Type: "status_code", Operator: "eq", Value: "404", Lenient: true},
	))

	if Evaluate(set, outcome(200, "", nil, 0)).Verdict != check.VerdictPass {
		t.Fatal("expected pass for 200 (inner OR)")
	}
	if v := Evaluate(set, outcome(500, "", nil, 0)).Verdict; v != check.VerdictInconclusive {
		t.Fatalf("expected inconclusive when only a lenient branch fails softly, got %s", v)
	}
}

func TestEmptySetAndTransportFailure(t *testing.T) {
	if Evaluate(ConditionSet{}, outcome(500, "", nil, 0)).Verdict != check.VerdictPass {
		t.Fatal("empty set should pass any response")
	}
	r := Evaluate(ConditionSet{}, check.Failed(check.TransportTimeout, time.Second, "timed out"))
	if r.Verdict != check.VerdictFail || r.Message != "timed out" {
		t.Fatalf("expected transport failure to fail, got %s %q", r.Verdict, r.Message)
	}
}

func TestUnmarshalYAMLList(t *testing.T) {
	src := `
- type: status_code
  value: "201"
- type: json_path
  target: id
  operator: exists
`
	var set ConditionSet
	if err := yaml.Unmarshal([]byte(src), &set); err != nil {
		t.Fatal(err)
	}
	if len(set.Groups) != 1 || len(set.Groups[0].Conditions) != 2 {
		t.Fatalf("expected one group of two, got %+v", set)
	}
	if err := set.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestUnmarshalYAMLSet(t *testing.T) {
	src := `
operator: or
groups:
  - conditions:
      - {type: status_code, value: "200"}
  - conditions:
      - {type: status_code, value: "204"}
`
	var set ConditionSet
	if err := yaml.Unmarshal([]byte(src), &set); err != nil {
		t.Fatal(err)
	}
	if set.Operator != "or" || len(set.Groups) != 2 {
		t.Fatalf("unexpected set %+v", set)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		set    ConditionSet
		errSub string
	}{
		{"unknown type", cs("", group("", Assertion{Type: "dns_record"})), "unknown assertion type"},
		{"unknown operator", cs("", group("", Assertion{Type: "status_code", Operator: "approx"})), "unknown operator"},
		{"header target", cs("", group("", Assertion{Type: "header", Operator: "exists"})), "requires a target"},
		{"bad combinator", cs("xor"), "and/or"},
		{"contains with eq", cs("", group("", Assertion{Type: "body_contains", Operator: "eq", Value: "ok"})), "not valid for body_contains"},
		{"status with matches", cs("", group("", Assertion{Type: "status_code", Operator: "matches", Value: "2.."})), "not valid for status_code"},
		{"response time with in", cs("", group("", Assertion{Type: "response_time", Operator: "in", Value: "100,200"})), "not valid for response_time"},
		{"regex with exists", cs("", group("", Assertion{Type: "body_regex", Operator: "exists"})), "not valid for body_regex"},
		{"status not a number", cs("", group("", Assertion{Type: "status_code", Value: "abc"})), "must be an integer"},
		{"status list entry", cs("", group("", Assertion{Type: "status_code", Operator: "in", Value: "200, oops"})), "must be an integer"},
		{"cert expiry not a number", cs("", group("", Assertion{Type: "cert_expiry", Operator: "gt", Value: "soon"})), "must be an integer"},
		{"response time empty", cs("", group("", Assertion{Type: "response_time", Operator: "lt"})), "must be an integer"},
		{"bad pattern", cs("", group("", Assertion{Type: "body_regex", Value: "(unclosed"})), "body_regex value"},
		{"bad header pattern", cs("", group("", Assertion{Type: "header", Target: "X-A", Operator: "matches", Value: "[z-a]"})), "header value"},
		{"position reported", cs("", group(""), group("", Assertion{Type: "status_code", Value: "200"}, Assertion{Type: "cert_expiry", Value: "x"})), "groups[1].conditions[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.set.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("expected error containing %q, got %v", tt.errSub, err)
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	tests := []struct {
		name string
		a    Assertion
	}{
		{"status default", Assertion{Type: "status_code", Value: " 200 "}},
		{"status list", Assertion{Type: "status_code", Operator: "in", Value: "400, 404"}},
		{"status lt", Assertion{Type: "status_code", Operator: "lt", Value: "400"}},
		{"body not contains", Assertion{Type: "body_contains", Operator: "not_contains", Value: "<script>"}},
		{"body regex", Assertion{Type: "body_regex", Operator: "not_matches", Value: `\d{3}`}},
		{"json exists", Assertion{Type: "json_path", Target: "id", Operator: "exists"}},
		{"json in", Assertion{Type: "json_path", Target: "state", Operator: "in", Value: "a,b"}},
		{"header matches", Assertion{Type: "header", Target: "X-Frame-Options", Operator: "matches", Value: "(?i)^deny$"}},
		{"response time", Assertion{Type: "response_time", Operator: "lte", Value: "500"}},
		{"cert expiry", Assertion{Type: "cert_expiry", Operator: "gte", Value: "14"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cs("", group("", tt.a)).Validate(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCertExpiryInvalidValue(t *testing.T) {
	expiry := time.Now().Add(30 * 24 * time.Hour)
	o := outcome(200, "", nil, 0)
	o.CertExpiry = &expiry

	r := Evaluate(cs("", group("", Assertion{Type: "cert_expiry", Operator: "gt", Value: "soon"})), o)
	if r.Verdict != check.VerdictFail {
		t.Fatalf("expected fail, got %s", r.Verdict)
	}
	if len(r.Details) != 1 || !strings.Contains(r.Details[0].Message, "invalid expected value") {
		t.Fatalf("unexpected details %+v", r.Details)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"héllo", 2, "h..."},
		{"日本語", 4, "日..."},
		{"日本語", 2, "..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.max)
		if got != tt.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) produced invalid UTF-8 %q", tt.in, tt.max, got)
		}
	}
}

func TestScorerAndDescriber(t *testing.T) {
	set := cs("and", group("and", Assertion{Type: "status_code", Value: "201"}))
	score, detail := Scorer(set), Describer(set)

	ok := outcome(201, "", nil, 0)
	if score(ok) != check.VerdictPass || detail(ok) != "HTTP 201" {
		t.Fatalf("unexpected pass rendering: %s %q", score(ok), detail(ok))
	}
	bad := outcome(400, "", nil, 0)
	if score(bad) != check.VerdictFail || !strings.Contains(detail(bad), "expected eq 201") {
		t.Fatalf("unexpected fail rendering: %s %q", score(bad), detail(bad))
	}
}
