// Package check defines the unit of work executed against a target: an
// action producing an Outcome and a scoring function turning it into a
// Verdict.
package check

import (
	"context"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/y0f/apiprobe/internal/session"
)

// ActionFunc performs one call against the target.
type ActionFunc func(ctx context.Context, s *session.Session) (*Outcome, error)

// ScoreFunc classifies an outcome as pass, fail or inconclusive.
type ScoreFunc func(o *Outcome) Verdict

// DetailFunc describes an outcome for the report.
type DetailFunc func(o *Outcome) string

// ExtractFunc pulls the value a check produces out of its outcome.
type ExtractFunc func(o *Outcome) (any, bool)

// Check is one independent assertion against the target. A Check is built
// once when the catalog is defined and never modified afterwards.
type Check struct {
	Name      string
	DependsOn []string
	Produces  string // session key filled when the check passes

	Action  ActionFunc
	Score   ScoreFunc
	Detail  DetailFunc  // optional
	Extract ExtractFunc // optional, defaults to the top-level JSON field named Produces
}

// ExtractValue returns the value to store under c.Produces.
func (c *Check) ExtractValue(o *Outcome) (any, bool) {
	if c.Extract != nil {
		return c.Extract(o)
	}
	return JSONField(c.Produces)(o)
}

// JSONField returns an extractor reading a gjson path from the body.
func JSONField(path string) ExtractFunc {
	return func(o *Outcome) (any, bool) {
		if o == nil || len(o.Body) == 0 || !gjson.ValidBytes(o.Body) {
			return nil, false
		}
		r := gjson.GetBytes(o.Body, path)
		if !r.Exists() || r.Type == gjson.Null {
			return nil, false
		}
		if r.Type == gjson.Number {
			return number(r), true
		}
		return r.Value(), true
	}
}

// number keeps whole JSON numbers as int64 so they render as written
// when substituted into later requests.
func number(r gjson.Result) any {
	if i, err := strconv.ParseInt(r.Raw, 10, 64); err == nil {
		return i
	}
	return r.Num
}

// HeaderValue returns an extractor reading a response header.
func HeaderValue(name string) ExtractFunc {
	return func(o *Outcome) (any, bool) {
		if o == nil || o.Header == nil {
			return nil, false
		}
		v := o.Header.Get(name)
		if v == "" {
			return nil, false
		}
		return v, true
	}
}

// BodyValue returns an extractor yielding the whole body as text.
func BodyValue() ExtractFunc {
	return func(o *Outcome) (any, bool) {
		if o == nil || len(o.Body) == 0 {
			return nil, false
		}
		return string(o.Body), true
	}
}

// StatusIs is a ScoreFunc passing on any of the given status codes.
func StatusIs(codes ...int) ScoreFunc {
	return func(o *Outcome) Verdict {
		if !o.OK() {
			return VerdictFail
		}
		for _, c := range codes {
			if o.StatusCode == c {
				return VerdictPass
			}
		}
		return VerdictFail
	}
}
