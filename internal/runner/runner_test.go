package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/y0f/apiprobe/internal/check"
	"github.com/y0f/apiprobe/internal/report"
	"github.com/y0f/apiprobe/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New(session.Options{BaseURL: "http://api.test"})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// stub returns an action producing a fixed outcome and counting calls.
func stub(o *check.Outcome, calls *int) check.ActionFunc {
	return func(ctx context.Context, s *session.Session) (*check.Outcome, error) {
		if calls != nil {
			*calls++
		}
		return o, nil
	}
}

func status(code int) *check.Outcome {
	return check.Response(code, nil, nil, time.Millisecond)
}

func verdicts(r *report.RunReport) []check.Verdict {
	out := make([]check.Verdict, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Verdict
	}
	return out
}

func names(r *report.RunReport) []string {
	out := make([]string, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Name
	}
	return out
}

func TestCreateReadScenario(t *testing.T) {
	sess := newSession(t)
	var readID any

	checks := []check.Check{
		{
			Name:     "create",
			Produces: "id",
			Action: stub(check.Response(201, map[string][]string{"Content-Type": {"application/json"}},
				[]byte(`{"id":42,"name":"widget"}`), 5*time.Millisecond), nil),
			Score: check.StatusIs(201),
		},
		{
			Name:      "read",
			DependsOn: []string{"create"},
			Action: func(ctx context.Context, s *session.Session) (*check.Outcome, error) {
				readID, _ = s.Get("id")
				return status(200), nil
			},
			Score: check.StatusIs(200),
		},
		{
			Name:   "read-missing",
			Action: stub(status(404), nil),
			Score:  check.StatusIs(404),
		},
	}

	rep, err := New(discardLogger(), Options{}).Run(context.Background(), checks, sess)
	if err != nil {
		t.Fatal(err)
	}
	want := []check.Verdict{check.VerdictPass, check.VerdictPass, check.VerdictPass}
	if !reflect.DeepEqual(verdicts(rep), want) {
		t.Fatalf("unexpected verdicts %v", verdicts(rep))
	}
	if rep.Summary[check.VerdictPass] != 3 || rep.Summary.Total() != 3 {
		t.Fatalf("unexpected summary %v", rep.Summary)
	}
	if rep.Overall != report.OverallPass {
		t.Fatalf("expected pass, got %s", rep.Overall)
	}
	if readID != int64(42) {
		t.Fatalf("read should see produced id, got %v", readID)
	}
	if rep.Results[0].Latency != 5*time.Millisecond {
		t.Fatalf("latency should come from the outcome, got %s", rep.Results[0].Latency)
	}
}

func TestConnectionErrorSkipsDependents(t *testing.T) {
	independent := 0
	checks := []check.Check{
		{
			Name:     "create",
			Produces: "id",
			Action:   stub(check.Failed(check.TransportConnectionError, 0, "connection failed: dial tcp: connection refused"), nil),
			Score:    check.StatusIs(201),
		},
		{Name: "read", DependsOn: []string{"create"}, Action: stub(status(200), nil), Score: check.StatusIs(200)},
		{Name: "health", Action: stub(status(200), &independent), Score: check.StatusIs(200)},
	}

	rep, err := New(discardLogger(), Options{}).Run(context.Background(), checks, newSession(t))
	if err != nil {
		t.Fatal(err)
	}
	create, _ := rep.Result("create")
	if create.Verdict != check.VerdictError || !strings.Contains(create.Detail, "connection") {
		t.Fatalf("unexpected create result %+v", create)
	}
	read, _ := rep.Result("read")
	if read.Verdict != check.VerdictSkipped || read.Detail != "dependency create is error" {
		t.Fatalf("unexpected read result %+v", read)
	}
	if independent != 1 {
		t.Fatal("independent check should still run")
	}
	if rep.Overall != report.OverallFail {
		t.Fatal("expected overall fail")
	}
}

func TestSkippedRegardlessOfOwnAction(t *testing.T) {
	calls := 0
	checks := []check.Check{
		{Name: "a", Action: stub(status(500), nil), Score: check.StatusIs(200)},
		{Name: "b", DependsOn: []string{"a"}, Action: stub(status(200), &calls), Score: check.StatusIs(200)},
		{Name: "c", DependsOn: []string{"b"}, Action: stub(status(200), &calls), Score: check.StatusIs(200)},
	}
	rep, err := New(discardLogger(), Options{}).Run(context.Background(), checks, newSession(t))
	if err != nil {
		t.Fatal(err)
	}
	want := []check.Verdict{check.VerdictFail, check.VerdictSkipped, check.VerdictSkipped}
	if !reflect.DeepEqual(verdicts(rep), want) {
		t.Fatalf("unexpected verdicts %v", verdicts(rep))
	}
	if calls != 0 {
		t.Fatal("skipped checks must not run their action")
	}
	c, _ := rep.Result("c")
	if c.Detail != "dependency b is skipped" {
		t.Fatalf("unexpected detail %q", c.Detail)
	}
}

func TestActionErrorAndPanicIsolated(t *testing.T) {
	ran := 0
	checks := []check.Check{
		{
			Name: "errs",
			Action: func(ctx context.Context, s *session.Session) (*check.Outcome, error) {
				return nil, errors.New("fixture missing")
			},
			Score: check.StatusIs(200),
		},
		{
			Name: "panics",
			Action: func(ctx context.Context, s *session.Session) (*check.Outcome, error) {
				var m map[string]int
				m["boom"] = 1
				return nil, nil
			},
			Score: check.StatusIs(200),
		},
		{
			Name:   "bad-score",
			Action: stub(status(200), nil),
			Score:  func(o *check.Outcome) check.Verdict { panic("scoring bug") },
		},
		{
			Name:   "bad-detail",
			Action: stub(status(200), nil),
			Score:  check.StatusIs(200),
			Detail: func(o *check.Outcome) string { panic("detail bug") },
		},
		{
			Name:   "invalid-verdict",
			Action: stub(status(200), nil),
			Score:  func(o *check.Outcome) check.Verdict { return check.VerdictSkipped },
		},
		{Name: "after", Action: stub(status(200), &ran), Score: check.StatusIs(200)},
	}

	rep, err := New(discardLogger(), Options{}).Run(context.Background(), checks, newSession(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"errs", "panics", "bad-score", "bad-detail", "invalid-verdict"} {
		res, _ := rep.Result(name)
		if res.Verdict != check.VerdictError || res.Detail == "" {
			t.Fatalf("%s: expected error with detail, got %+v", name, res)
		}
	}
	errs, _ := rep.Result("errs")
	if !strings.Contains(errs.Detail, "fixture missing") {
		t.Fatalf("unexpected detail %q", errs.Detail)
	}
	if ran != 1 {
		t.Fatal("subsequent independent check should run")
	}
}

func TestProducesMissingValueIsError(t *testing.T) {
	checks := []check.Check{
		{
			Name:     "create",
			Produces: "id",
			Action:   stub(check.Response(201, nil, []byte(`{"name":"x"}`), 0), nil),
			Score:    check.StatusIs(201),
		},
		{Name: "read", DependsOn: []string{"create"}, Action: stub(status(200), nil), Score: check.StatusIs(200)},
	}
	sess := newSession(t)
	rep, err := New(discardLogger(), Options{}).Run(context.Background(), checks, sess)
	if err != nil {
		t.Fatal(err)
	}
	create, _ := rep.Result("create")
	if create.Verdict != check.VerdictError || !strings.Contains(create.Detail, `produces "id"`) {
		t.Fatalf("unexpected create result %+v", create)
	}
	if _, ok := sess.Get("id"); ok {
		t.Fatal("nothing should be stored")
	}
	read, _ := rep.Result("read")
	if read.Verdict != check.VerdictSkipped {
		t.Fatal("dependent should be skipped")
	}
}

func TestProducesCustomExtractor(t *testing.T) {
	h := map[string][]string{"Location": {"/items/7"}}
	checks := []check.Check{{
		Name:     "create",
		Produces: "location",
		Extract:  check.HeaderValue("Location"),
		Action:   stub(check.Response(201, h, nil, 0), nil),
		Score:    check.StatusIs(201),
	}}
	sess := newSession(t)
	if _, err := New(discardLogger(), Options{}).Run(context.Background(), checks, sess); err != nil {
		t.Fatal(err)
	}
	if v, _ := sess.Get("location"); v != "/items/7" {
		t.Fatalf("expected stored location, got %v", v)
	}
}

func TestConfigErrorsBeforeExecution(t *testing.T) {
	tests := []struct {
		name   string
		checks []check.Check
		errSub string
	}{
		{
			"cycle",
			[]check.Check{
				{Name: "a", DependsOn: []string{"b"}},
				{Name: "b", DependsOn: []string{"a"}},
			},
			"dependency cycle",
		},
		{
			"long cycle",
			[]check.Check{
				{Name: "root"},
				{Name: "a", DependsOn: []string{"root", "c"}},
				{Name: "b", DependsOn: []string{"a"}},
				{Name: "c", DependsOn: []string{"b"}},
			},
			"a -> c -> b -> a",
		},
		{"duplicate", []check.Check{{Name: "a"}, {Name: "a"}}, `duplicate check name "a"`},
		{"unknown", []check.Check{{Name: "a", DependsOn: []string{"ghost"}}}, `unknown check "ghost"`},
		{"self", []check.Check{{Name: "a", DependsOn: []string{"a"}}}, "depends on itself"},
		{"unnamed", []check.Check{{Name: " "}}, "has no name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			for i := range tt.checks {
				tt.checks[i].Action = stub(status(200), &calls)
				tt.checks[i].Score = check.StatusIs(200)
			}
			rep, err := New(discardLogger(), Options{}).Run(context.Background(), tt.checks, newSession(t))
			if err == nil {
				t.Fatal("expected config error")
			}
			if !errors.Is(err, check.ErrConfig) {
				t.Fatalf("expected ErrConfig, got %T %v", err, err)
			}
			var cfgErr *check.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *check.ConfigError, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("expected %q in %q", tt.errSub, err.Error())
			}
			if rep != nil || calls != 0 {
				t.Fatal("no action may run on a config error")
			}
		})
	}
}

func TestMissingActionIsConfigError(t *testing.T) {
	err := Validate([]check.Check{{Name: "a"}})
	if err == nil || !strings.Contains(err.Error(), "has no action") {
		t.Fatalf("expected missing action error, got %v", err)
	}
}

func TestStableTopologicalOrder(t *testing.T) {
	checks := []check.Check{
		{Name: "read", DependsOn: []string{"create"}},
		{Name: "health"},
		{Name: "create"},
		{Name: "delete", DependsOn: []string{"read"}},
		{Name: "version"},
	}
	for i := range checks {
		checks[i].Action = stub(status(200), nil)
		checks[i].Score = check.StatusIs(200)
	}

	var first []string
	for i := 0; i < 3; i++ {
		rep, err := New(discardLogger(), Options{}).Run(context.Background(), checks, newSession(t))
		if err != nil {
			t.Fatal(err)
		}
		got := names(rep)
		want := []string{"health", "create", "read", "delete", "version"}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("unexpected order %v", got)
		}
		if first == nil {
			first = got
		} else if !reflect.DeepEqual(first, got) {
			t.Fatal("order must be deterministic")
		}
	}
}

func TestDeclarationOrderWithoutForwardRefs(t *testing.T) {
	checks := []check.Check{{Name: "c"}, {Name: "a"}, {Name: "b", DependsOn: []string{"c"}}}
	for i := range checks {
		checks[i].Action = stub(status(200), nil)
		checks[i].Score = check.StatusIs(200)
	}
	order, err := plan(checks)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(order, []int{0, 1, 2}) {
		t.Fatalf("expected declaration order, got %v", order)
	}
}

func TestCancellationSkipsRemainder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	later := 0
	checks := []check.Check{
		{
			Name: "first",
			Action: func(ctx context.Context, s *session.Session) (*check.Outcome, error) {
				cancel()
				return status(200), nil
			},
			Score: check.StatusIs(200),
		},
		{Name: "second", Action: stub(status(200), &later), Score: check.StatusIs(200)},
		{Name: "third", Action: stub(status(200), &later), Score: check.StatusIs(200)},
	}

	rep, err := New(discardLogger(), Options{}).Run(ctx, checks, newSession(t))
	if err != nil {
		t.Fatal(err)
	}
	want := []check.Verdict{check.VerdictPass, check.VerdictSkipped, check.VerdictSkipped}
	if !reflect.DeepEqual(verdicts(rep), want) {
		t.Fatalf("unexpected verdicts %v", verdicts(rep))
	}
	if later != 0 {
		t.Fatal("no action may run after cancellation")
	}
	second, _ := rep.Result("second")
	if second.Detail != "run cancelled" {
		t.Fatalf("unexpected detail %q", second.Detail)
	}
	if rep.Summary.Total() != len(checks) {
		t.Fatal("every check must be reported")
	}
}

func TestInFlightActionNotPreempted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	checks := []check.Check{{
		Name: "slow",
		Action: func(actx context.Context, s *session.Session) (*check.Outcome, error) {
			cancel()
			if actx.Err() != nil {
				return nil, errors.New("action context was cancelled")
			}
			return status(200), nil
		},
		Score: check.StatusIs(200),
	}}
	rep, err := New(discardLogger(), Options{}).Run(ctx, checks, newSession(t))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Results[0].Verdict != check.VerdictPass {
		t.Fatalf("in-flight check should complete, got %+v", rep.Results[0])
	}
}

type recorder struct {
	started  []string
	finished []report.Result
	agg      *report.Aggregator
	midRun   []int
}

func (r *recorder) CheckStarted(name string) { r.started = append(r.started, name) }

func (r *recorder) CheckFinished(res report.Result) {
	r.finished = append(r.finished, res)
	if r.agg != nil {
		r.midRun = append(r.midRun, r.agg.Len())
	}
}

func TestObserversAndProgress(t *testing.T) {
	sess := newSession(t)
	agg := report.NewAggregator(sess.BaseURL())
	rec := &recorder{agg: agg}
	checks := []check.Check{
		{Name: "a", Action: stub(status(500), nil), Score: check.StatusIs(200)},
		{Name: "b", DependsOn: []string{"a"}, Action: stub(status(200), nil), Score: check.StatusIs(200)},
		{Name: "c", Action: stub(status(200), nil), Score: check.StatusIs(200)},
	}

	r := New(discardLogger(), Options{Observers: []Observer{rec, NewProgress(discardLogger())}})
	if err := r.RunInto(context.Background(), agg, checks, sess); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rec.started, []string{"a", "c"}) {
		t.Fatalf("unexpected started %v", rec.started)
	}
	if len(rec.finished) != 3 {
		t.Fatalf("expected 3 finished, got %d", len(rec.finished))
	}
	if !reflect.DeepEqual(rec.midRun, []int{1, 2, 3}) {
		t.Fatalf("aggregator should be readable mid-run, got %v", rec.midRun)
	}
	if agg.Finalize().Overall != report.OverallFail {
		t.Fatal("expected fail")
	}
}

func TestEmptyCatalog(t *testing.T) {
	rep, err := New(discardLogger(), Options{}).Run(context.Background(), nil, newSession(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Results) != 0 || rep.Overall != report.OverallPass {
		t.Fatalf("unexpected empty report %+v", rep)
	}
}

func TestSpansPerCheck(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	checks := []check.Check{
		{Name: "health", Action: stub(status(200), nil), Score: check.StatusIs(200)},
		{Name: "broken", Action: stub(status(500), nil), Score: check.StatusIs(200)},
	}
	r := New(discardLogger(), Options{Tracer: tp.Tracer("test")})
	if _, err := r.Run(context.Background(), checks, newSession(t)); err != nil {
		t.Fatal(err)
	}

	spans := sr.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		byName[s.Name()] = s
	}
	run, ok := byName["run"]
	if !ok {
		t.Fatal("missing run span")
	}
	for _, name := range []string{"check health", "check broken"} {
		s, ok := byName[name]
		if !ok {
			t.Fatalf("missing span %q", name)
		}
		if s.Parent().SpanID() != run.SpanContext().SpanID() {
			t.Fatalf("%s should be a child of run", name)
		}
	}
	if byName["check broken"].Status().Code != codes.Error {
		t.Fatal("failed check span should carry error status")
	}
	var verdict string
	for _, kv := range byName["check health"].Attributes() {
		if kv.Key == "verdict" {
			verdict = kv.Value.AsString()
		}
	}
	if verdict != "pass" {
		t.Fatalf("expected verdict attribute pass, got %q", verdict)
	}
}
