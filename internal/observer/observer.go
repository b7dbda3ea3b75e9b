// Package observer collects run metrics and watches prompt overrides.
package observer

import (
	"sync"
	"time"
)

// PassRecord is what the observer keeps about one scheduler pass
type PassRecord struct {
	RunID    string
	Done     int
	Failed   int
	Skipped  int
	Waiting  int
	Duration time.Duration
	Failures []string // task ids
}

type record struct {
	PassRecord
	FinishedAt time.Time
}

// Metrics holds aggregated metrics
type Metrics struct {
	Passes       int
	TotalDone    int
	TotalFailed  int
	TotalSkipped int
	AvgDuration  time.Duration
	LastRunID    string
}

// Observer aggregates pass results across a long-running process
type Observer struct {
	slowThreshold time.Duration

	records []record
	mu      sync.RWMutex
	now     func() time.Time
}

// New creates a new Observer
func New(slowThreshold time.Duration) *Observer {
	return &Observer{slowThreshold: slowThreshold, now: time.Now}
}

// IsSlow reports whether a pass took longer than the threshold
func (o *Observer) IsSlow(d time.Duration) bool {
	return o.slowThreshold > 0 && d > o.slowThreshold
}

// RecordPass stores the outcome of a pass
func (o *Observer) RecordPass(p PassRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, record{PassRecord: p, FinishedAt: o.now()})
}

// GetMetrics returns aggregated metrics
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var metrics Metrics
	var totalDuration time.Duration

	for _, r := range o.records {
		metrics.Passes++
		metrics.TotalDone += r.Done
		metrics.TotalFailed += r.Failed
		metrics.TotalSkipped += r.Skipped
		totalDuration += r.Duration
		metrics.LastRunID = r.RunID
	}

	if metrics.Passes > 0 {
		metrics.AvgDuration = totalDuration / time.Duration(metrics.Passes)
	}

	return metrics
}

// GetRecentFailures returns ids of tasks that failed within the window
func (o *Observer) GetRecentFailures(since time.Duration) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cutoff := o.now().Add(-since)
	var result []string

	for _, r := range o.records {
		if r.FinishedAt.After(cutoff) {
			result = append(result, r.Failures...)
		}
	}

	return result
}
