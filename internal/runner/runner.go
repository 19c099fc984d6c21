// Package runner executes a catalog of checks against one target session
// and aggregates their verdicts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/y0f/apiprobe/internal/check"
	"github.com/y0f/apiprobe/internal/report"
	"github.com/y0f/apiprobe/internal/session"
)

const tracerName = "github.com/y0f/apiprobe/internal/runner"

// Observer is notified as checks start and finish. Observers are called
// from the goroutine executing the run. Skipped checks are reported to
// CheckFinished without a preceding CheckStarted.
type Observer interface {
	CheckStarted(name string)
	CheckFinished(r report.Result)
}

// Options configures a Runner.
type Options struct {
	Observers []Observer
	Tracer    trace.Tracer // defaults to the global tracer provider
}

// Runner executes checks sequentially. A Runner holds no per-run state and
// may run several sessions concurrently.
type Runner struct {
	logger    *slog.Logger
	observers []Observer
	tracer    trace.Tracer
}

func New(logger *slog.Logger, opts Options) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Runner{
		logger:    logger,
		observers: opts.Observers,
		tracer:    tracer,
	}
}

// Run validates checks and executes them against sess. The only error
// returned is a *check.ConfigError, raised before any action runs. Every
// other failure becomes a verdict in the report.
func (r *Runner) Run(ctx context.Context, checks []check.Check, sess *session.Session) (*report.RunReport, error) {
	agg := report.NewAggregator(sess.BaseURL())
	if err := r.RunInto(ctx, agg, checks, sess); err != nil {
		return nil, err
	}
	return agg.Finalize(), nil
}

// RunInto is Run with a caller-supplied aggregator, which may be read for
// progress while the run executes. The aggregator is finalized on success.
func (r *Runner) RunInto(ctx context.Context, agg *report.Aggregator, checks []check.Check, sess *session.Session) error {
	order, err := plan(checks)
	if err != nil {
		return err
	}

	ctx, span := r.tracer.Start(ctx, "run",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("run_id", agg.ID()),
			attribute.String("target", sess.BaseURL()),
			attribute.Int("checks", len(checks)),
		),
	)
	defer span.End()

	r.logger.Info("run started", "run_id", agg.ID(), "target", sess.BaseURL(), "checks", len(checks))

	verdicts := make(map[string]check.Verdict, len(checks))
	for _, i := range order {
		c := &checks[i]
		var res report.Result
		if ctx.Err() != nil {
			res = report.Result{Name: c.Name, Verdict: check.VerdictSkipped, Detail: "run cancelled"}
		} else {
			res = r.execute(ctx, c, sess, verdicts)
		}
		verdicts[c.Name] = res.Verdict
		agg.Add(res)
		for _, o := range r.observers {
			o.CheckFinished(res)
		}
	}

	rep := agg.Finalize()
	span.SetAttributes(attribute.String("overall", string(rep.Overall)))
	if rep.Overall != report.OverallPass {
		span.SetStatus(codes.Error, "run failed")
	}
	r.logger.Info("run finished", "run_id", rep.ID, "overall", rep.Overall, "duration", rep.Duration())
	return nil
}

func (r *Runner) execute(ctx context.Context, c *check.Check, sess *session.Session, verdicts map[string]check.Verdict) report.Result {
	for _, dep := range c.DependsOn {
		if v := verdicts[dep]; v != check.VerdictPass {
			return report.Result{
				Name:    c.Name,
				Verdict: check.VerdictSkipped,
				Detail:  fmt.Sprintf("dependency %s is %s", dep, v),
			}
		}
	}

	for _, o := range r.observers {
		o.CheckStarted(c.Name)
	}

	ctx, span := r.tracer.Start(ctx, "check "+c.Name, trace.WithAttributes(attribute.String("check", c.Name)))
	defer span.End()

	start := time.Now()
	// Cancellation takes effect between checks, so an action in flight
	// keeps its own per-call deadline only.
	out, err := invoke(context.WithoutCancel(ctx), c, sess)
	res := r.score(c, sess, out, err)
	if res.Latency <= 0 {
		res.Latency = time.Since(start)
	}

	span.SetAttributes(
		attribute.String("verdict", res.Verdict.String()),
		attribute.Int64("latency_ms", res.Latency.Milliseconds()),
	)
	if out != nil {
		span.SetAttributes(attribute.String("transport", string(out.Transport)))
		if out.StatusCode > 0 {
			span.SetAttributes(attribute.Int("http.status_code", out.StatusCode))
		}
	}
	if res.Verdict == check.VerdictError || res.Verdict == check.VerdictFail {
		span.SetStatus(codes.Error, res.Detail)
	}

	if out != nil {
		r.logger.Debug("check scored", "check", c.Name, "transport", out.Transport, "status", out.StatusCode, "attempts", out.Attempts, "verdict", res.Verdict)
	}
	return res
}

func (r *Runner) score(c *check.Check, sess *session.Session, out *check.Outcome, err error) report.Result {
	res := report.Result{Name: c.Name}
	if out != nil {
		res.Latency = out.Latency
	}
	fail := func(detail string) report.Result {
		res.Verdict = check.VerdictError
		res.Detail = detail
		return res
	}

	switch {
	case err != nil:
		return fail(err.Error())
	case out == nil:
		return fail("action returned no outcome")
	case !out.OK():
		msg := out.Err
		if msg == "" {
			msg = "no response"
		}
		return fail(fmt.Sprintf("transport %s: %s", out.Transport, msg))
	}

	v, err := safely(func() check.Verdict { return c.Score(out) })
	if err != nil {
		return fail("score: " + err.Error())
	}
	switch v {
	case check.VerdictPass, check.VerdictFail, check.VerdictInconclusive:
	default:
		return fail(fmt.Sprintf("score returned invalid verdict %q", v))
	}
	res.Verdict = v

	if c.Detail != nil {
		d, err := safely(func() string { return c.Detail(out) })
		if err != nil {
			return fail("detail: " + err.Error())
		}
		res.Detail = d
	}

	if v == check.VerdictPass && c.Produces != "" {
		type extracted struct {
			val any
			ok  bool
		}
		e, err := safely(func() extracted {
			val, ok := c.ExtractValue(out)
			return extracted{val, ok}
		})
		if err != nil {
			return fail(fmt.Sprintf("produces %q: %v", c.Produces, err))
		}
		if !e.ok {
			return fail(fmt.Sprintf("produces %q: value not found in response", c.Produces))
		}
		sess.Set(c.Produces, e.val)
	}
	return res
}

// invoke runs the action, turning a panic into an error.
func invoke(ctx context.Context, c *check.Check, sess *session.Session) (out *check.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, panicError(p)
		}
	}()
	out, err = c.Action(ctx, sess)
	if err != nil {
		err = fmt.Errorf("action: %w", err)
	}
	return out, err
}

func safely[T any](fn func() T) (v T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
	}()
	return fn(), nil
}

var errPanic = errors.New("panic")

func panicError(p any) error {
	return fmt.Errorf("%w: %v", errPanic, p)
}
