// Package traffic keeps sliding windows of weather request outcomes. The health endpoint
// reads the error rate to report degraded while the vendor is failing.
package traffic

import (
	"sync"
	"time"
)

// retention bounds how long outcomes are kept; windows longer than this see only retention.
const retention = 15 * time.Minute

var defaultTracker Tracker

// RecordSuccess records a weather request that returned data.
func RecordSuccess() {
	defaultTracker.RecordSuccess()
}

// RecordError records a weather request that failed (upstream error, timeout, etc.).
func RecordError() {
	defaultTracker.RecordError()
}

// ErrorRate returns (errorCount, totalCount) within the window.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// IsDegraded reports whether the default tracker's error rate is at or above thresholdPct.
func IsDegraded(window time.Duration, thresholdPct float64, minSamples int) bool {
	return defaultTracker.IsDegraded(window, thresholdPct, minSamples)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of outcome timestamps. The zero value is ready to use.
type Tracker struct {
	mu           sync.Mutex
	now          func() time.Time
	successTimes []time.Time
	errorTimes   []time.Time
}

// NewTracker creates a Tracker with an injectable clock.
func NewTracker(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// RecordSuccess records a successful outcome.
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordError records a failed outcome.
func (t *Tracker) RecordError() {
	t.recordOutcome(&t.errorTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// ErrorRate returns (errorCount, totalCount) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	errCount := countInWindow(t.errorTimes, cutoff)
	return errCount, errCount + countInWindow(t.successTimes, cutoff)
}

// IsDegraded reports whether at least minSamples outcomes fell in the window and
// errors made up thresholdPct percent or more of them.
func (t *Tracker) IsDegraded(window time.Duration, thresholdPct float64, minSamples int) bool {
	errs, total := t.ErrorRate(window)
	if total == 0 || total < minSamples {
		return false
	}
	return float64(errs)*100/float64(total) >= thresholdPct
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
}
