package batch

import (
	"slices"
	"sync"

	"github.com/praxisllmlab/copydesk/internal/model"
)

// Aggregator holds the result list of the current batch. Every update
// replaces the list wholesale, so applying the same update twice is harmless.
type Aggregator struct {
	mu        sync.RWMutex
	results   []model.ResultItem
	succeeded int
	failed    int
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Replace swaps in results and recomputes the counts.
func (a *Aggregator) Replace(results []model.ResultItem) {
	cp := slices.Clone(results)
	var ok, bad int
	for _, r := range cp {
		if r.Success {
			ok++
		} else {
			bad++
		}
	}

	a.mu.Lock()
	a.results = cp
	a.succeeded = ok
	a.failed = bad
	a.mu.Unlock()
}

// Reset empties the aggregator.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.results = nil
	a.succeeded = 0
	a.failed = 0
	a.mu.Unlock()
}

// Counts returns the success and failure counts.
func (a *Aggregator) Counts() (succeeded, failed int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.succeeded, a.failed
}

// Results returns a copy of the current result list.
func (a *Aggregator) Results() []model.ResultItem {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.results)
}
