package check

import "fmt"

// Verdict is the terminal classification of a check.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictInconclusive Verdict = "inconclusive"
	VerdictSkipped      Verdict = "skipped"
	VerdictError        Verdict = "error"
)

// Verdicts lists every verdict in report order.
var Verdicts = []Verdict{
	VerdictPass,
	VerdictFail,
	VerdictInconclusive,
	VerdictSkipped,
	VerdictError,
}

func (v Verdict) String() string { return string(v) }

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPass, VerdictFail, VerdictInconclusive, VerdictSkipped, VerdictError:
		return true
	}
	return false
}

// ParseVerdict converts a stored or rendered verdict back into a Verdict.
func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown verdict %q", s)
	}
	return v, nil
}
