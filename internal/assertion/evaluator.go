package assertion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/y0f/apiprobe/internal/check"
)

// Evaluate scores an outcome. An empty set passes any transport-ok outcome.
func Evaluate(cs ConditionSet, o *check.Outcome) Result {
	if !o.OK() {
		msg := "no response"
		if o != nil && o.Err != "" {
			msg = o.Err
		}
		return Result{Verdict: check.VerdictFail, Message: msg}
	}
	if cs.Empty() {
		return Result{Verdict: check.VerdictPass}
	}

	var details []Detail
	var verdicts []check.Verdict
	var messages []string

	for _, g := range cs.Groups {
		gr := evalGroup(g, o)
		details = append(details, gr.Details...)
		verdicts = append(verdicts, gr.Verdict)
		if gr.Verdict != check.VerdictPass && gr.Message != "" {
			messages = append(messages, gr.Message)
		}
	}

	v := combine(verdicts, cs.Operator)
	res := Result{Verdict: v, Details: details}
	if v != check.VerdictPass {
		res.Message = strings.Join(messages, "; ")
	}
	return res
}

func evalGroup(g ConditionGroup, o *check.Outcome) Result {
	if len(g.Conditions) == 0 {
		return Result{Verdict: check.VerdictPass}
	}

	var details []Detail
	var verdicts []check.Verdict
	var messages []string

	for _, a := range g.Conditions {
		d := evaluateSingle(a, o)
		if d.Verdict != check.VerdictPass && a.Lenient {
			d.Verdict = check.VerdictInconclusive
		}
		details = append(details, d)
		verdicts = append(verdicts, d.Verdict)
		if d.Verdict != check.VerdictPass && d.Message != "" {
			messages = append(messages, d.Message)
		}
	}

	return Result{
		Verdict: combine(verdicts, g.Operator),
		Message: strings.Join(messages, "; "),
		Details: details,
	}
}

// combine folds tri-state verdicts. "and": any fail fails, then any
// inconclusive is inconclusive. "or": any pass passes, then any
// inconclusive is inconclusive.
func combine(verdicts []check.Verdict, operator string) check.Verdict {
	if len(verdicts) == 0 {
		return check.VerdictPass
	}
	var pass, fail, inconclusive bool
	for _, v := range verdicts {
		switch v {
		case check.VerdictPass:
			pass = true
		case check.VerdictInconclusive:
			inconclusive = true
		default:
			fail = true
		}
	}
	if operator == "or" {
		switch {
		case pass:
			return check.VerdictPass
		case inconclusive:
			return check.VerdictInconclusive
		}
		return check.VerdictFail
	}
	switch {
	case fail:
		return check.VerdictFail
	case inconclusive:
		return check.VerdictInconclusive
	}
	return check.VerdictPass
}

func evaluateSingle(a Assertion, o *check.Outcome) Detail {
	switch a.Type {
	case "status_code":
		return evalStatusCode(a, o.StatusCode)
	case "body_contains":
		return evalBodyContains(a, o.Text())
	case "body_regex":
		return evalBodyRegex(a, o.Text())
	case "json_path":
		return evalJSONPath(a, o.Body)
	case "header":
		return evalHeader(a, o)
	case "response_time":
		return evalResponseTime(a, o.Latency.Milliseconds())
	case "cert_expiry":
		return evalCertExpiry(a, o.CertExpiry)
	default:
		return failed(a, "", fmt.Sprintf("unknown assertion type: %s", a.Type))
	}
}

func passed(a Assertion, actual string) Detail {
	return Detail{Assertion: a, Verdict: check.VerdictPass, Actual: actual}
}

func failed(a Assertion, actual, msg string) Detail {
	return Detail{Assertion: a, Verdict: check.VerdictFail, Actual: actual, Message: msg}
}

func result(a Assertion, ok bool, actual, msg string) Detail {
	if ok {
		return passed(a, actual)
	}
	return failed(a, actual, msg)
}

func evalStatusCode(a Assertion, statusCode int) Detail {
	actual := strconv.Itoa(statusCode)
	if a.Operator == "in" {
		for _, part := range strings.Split(a.Value, ",") {
			if strings.TrimSpace(part) == actual {
				return passed(a, actual)
			}
		}
		return failed(a, actual, fmt.Sprintf("status_code: expected one of %s, got %d", a.Value, statusCode))
	}
	expected, err := strconv.Atoi(strings.TrimSpace(a.Value))
	if err != nil {
		return failed(a, actual, fmt.Sprintf("status_code: invalid expected value %q", a.Value))
	}
	return result(a, compareInt64(int64(statusCode), int64(expected), a.Operator), actual,
		fmt.Sprintf("status_code: expected %s %s, got %d", opName(a.Operator), a.Value, statusCode))
}

func evalBodyContains(a Assertion, body string) Detail {
	var ok bool
	switch a.Operator {
	case "contains", "":
		ok = strings.Contains(body, a.Value)
	case "not_contains":
		ok = !strings.Contains(body, a.Value)
	}
	return result(a, ok, "", fmt.Sprintf("body_contains: %s '%s' failed", opName(a.Operator), truncate(a.Value, 50)))
}

func evalBodyRegex(a Assertion, body string) Detail {
	re, err := regexp.Compile(a.Value)
	if err != nil {
		return failed(a, "", fmt.Sprintf("body_regex: invalid pattern: %v", err))
	}
	var ok bool
	switch a.Operator {
	case "matches", "":
		ok = re.MatchString(body)
	case "not_matches":
		ok = !re.MatchString(body)
	}
	return result(a, ok, "", fmt.Sprintf("body_regex: pattern '%s' %s failed", truncate(a.Value, 50), opName(a.Operator)))
}

func evalJSONPath(a Assertion, body []byte) Detail {
	if !gjson.ValidBytes(body) {
		return failed(a, "", fmt.Sprintf("json_path %s: body is not valid JSON", a.Target))
	}
	r := gjson.GetBytes(body, a.Target)

	switch a.Operator {
	case "exists":
		return result(a, r.Exists(), r.String(), fmt.Sprintf("json_path: %s does not exist", a.Target))
	case "not_exists":
		return result(a, !r.Exists(), r.String(), fmt.Sprintf("json_path: %s exists", a.Target))
	}
	if !r.Exists() {
		return failed(a, "", fmt.Sprintf("json_path: %s not found", a.Target))
	}

	actual := r.String()
	return result(a, compareString(actual, a.Value, a.Operator), actual,
		fmt.Sprintf("json_path %s: expected %s %s, got %s", a.Target, opName(a.Operator), a.Value, truncate(actual, 100)))
}

func evalHeader(a Assertion, o *check.Outcome) Detail {
	values := o.Header.Values(a.Target)
	exists := len(values) > 0
	val := strings.Join(values, ", ")

	switch a.Operator {
	case "exists":
		return result(a, exists, val, fmt.Sprintf("header: %s does not exist", a.Target))
	case "not_exists":
		return result(a, !exists, val, fmt.Sprintf("header: %s is present (%s)", a.Target, truncate(val, 100)))
	}
	if !exists {
		return failed(a, "", fmt.Sprintf("header: %s not found", a.Target))
	}
	return result(a, compareString(val, a.Value, a.Operator), val,
		fmt.Sprintf("header %s: expected %s %s, got %s", a.Target, opName(a.Operator), a.Value, truncate(val, 100)))
}

func evalResponseTime(a Assertion, responseTimeMs int64) Detail {
	expected, err := strconv.ParseInt(strings.TrimSpace(a.Value), 10, 64)
	actual := strconv.FormatInt(responseTimeMs, 10)
	if err != nil {
		return failed(a, actual, fmt.Sprintf("response_time: invalid expected value %q", a.Value))
	}
	return result(a, compareInt64(responseTimeMs, expected, a.Operator), actual,
		fmt.Sprintf("response_time: expected %s %sms, got %dms", opName(a.Operator), a.Value, responseTimeMs))
}

func evalCertExpiry(a Assertion, certExpiry *time.Time) Detail {
	if certExpiry == nil {
		return failed(a, "", "cert_expiry: no certificate expiry data")
	}

	daysUntilExpiry := int64(certExpiry.Sub(_nowFunc()).Hours() / 24)
	actual := strconv.FormatInt(daysUntilExpiry, 10)
	// Value is in days
	expectedDays, err := strconv.ParseInt(strings.TrimSpace(a.Value), 10, 64)
	if err != nil {
		return failed(a, actual, fmt.Sprintf("cert_expiry: invalid expected value %q", a.Value))
	}

	return result(a, compareInt64(daysUntilExpiry, expectedDays, a.Operator), actual,
		fmt.Sprintf("cert_expiry: expected %s %s days, got %d days", opName(a.Operator), a.Value, daysUntilExpiry))
}

func compareInt64(actual, expected int64, op string) bool {
	switch op {
	case "eq", "":
		return actual == expected
	case "neq":
		return actual != expected
	case "gt":
		return actual > expected
	case "lt":
		return actual < expected
	case "gte":
		return actual >= expected
	case "lte":
		return actual <= expected
	default:
		return actual == expected
	}
}

func compareString(actual, expected, op string) bool {
	switch op {
	case "eq", "":
		return actual == expected
	case "neq":
		return actual != expected
	case "contains":
		return strings.Contains(actual, expected)
	case "not_contains":
		return !strings.Contains(actual, expected)
	case "matches", "not_matches":
		re, err := regexp.Compile(expected)
		if err != nil {
			return false
		}
		return re.MatchString(actual) == (op == "matches")
	case "in":
		for _, part := range strings.Split(expected, ",") {
			if strings.TrimSpace(part) == actual {
				return true
			}
		}
		return false
	case "gt", "lt", "gte", "lte":
		a, errA := strconv.ParseFloat(actual, 64)
		e, errE := strconv.ParseFloat(expected, 64)
		if errA != nil || errE != nil {
			return false
		}
		return compareFloat(a, e, op)
	default:
		return actual == expected
	}
}

func compareFloat(a, e float64, op string) bool {
	switch op {
	case "gt":
		return a > e
	case "lt":
		return a < e
	case "gte":
		return a >= e
	default:
		return a <= e
	}
}

func opName(op string) string {
	if op == "" {
		return "eq"
	}
	return op
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}

// _nowFunc allows overriding time in tests.
var _nowFunc = time.Now

// Scorer adapts a condition set to a check.ScoreFunc.
func Scorer(cs ConditionSet) check.ScoreFunc {
	return func(o *check.Outcome) check.Verdict {
		return Evaluate(cs, o).Verdict
	}
}

// Describer adapts a condition set to a check.DetailFunc. Passing outcomes
// are described by their status line.
func Describer(cs ConditionSet) check.DetailFunc {
	return func(o *check.Outcome) string {
		r := Evaluate(cs, o)
		if r.Verdict != check.VerdictPass {
			return r.Message
		}
		if o.StatusCode > 0 {
			return fmt.Sprintf("HTTP %d", o.StatusCode)
		}
		return ""
	}
}
