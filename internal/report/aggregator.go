package report

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Aggregator collects results as a run produces them. Summary and
// OverallStatus may be read from other goroutines while the run is
// in progress.
type Aggregator struct {
	mu        sync.RWMutex
	id        string
	target    string
	startedAt time.Time
	results   []Result
	summary   Summary
	final     *RunReport
}

// NewAggregator starts a report for a run against target.
func NewAggregator(target string) *Aggregator {
	return &Aggregator{
		id:        uuid.NewString(),
		target:    target,
		startedAt: time.Now().UTC(),
		summary:   newSummary(),
	}
}

// ID returns the run identifier.
func (a *Aggregator) ID() string { return a.id }

// Add records a result. Results added after Finalize are ignored.
func (a *Aggregator) Add(r Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return
	}
	a.results = append(a.results, r)
	a.summary[r.Verdict]++
}

// Summary returns a snapshot of the per-verdict counts.
func (a *Aggregator) Summary() Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(Summary, len(a.summary))
	for k, v := range a.summary {
		out[k] = v
	}
	return out
}

// OverallStatus returns the run status over the results seen so far.
func (a *Aggregator) OverallStatus() Overall {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return overallOf(a.results)
}

// Len returns the number of results recorded.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.results)
}

// Finalize freezes the aggregator and returns the report. Repeated calls
// return the same report.
func (a *Aggregator) Finalize() *RunReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return a.final
	}
	results := make([]Result, len(a.results))
	copy(results, a.results)
	summary := make(Summary, len(a.summary))
	for k, v := range a.summary {
		summary[k] = v
	}
	a.final = &RunReport{
		ID:         a.id,
		Target:     a.target,
		StartedAt:  a.startedAt,
		FinishedAt: time.Now().UTC(),
		Results:    results,
		Summary:    summary,
		Overall:    overallOf(results),
	}
	return a.final
}

