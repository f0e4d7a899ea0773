package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alvmarrod/douban-imdb/internal/storage"
)

// Tracker holds and manages run metrics
type Tracker struct {
	mu               sync.Mutex
	data             storage.Metrics
	totalFetchTimeMs int64
	fetchCount       int
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	return &Tracker{
		data: storage.Metrics{
			StartTime: time.Now(),
			Outcomes:  make(map[string]int),
		},
	}
}

// IncrementPagesFetched increments the successful fetch counter
func (t *Tracker) IncrementPagesFetched() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesFetched++
}

// IncrementPagesFailed increments the failed fetch counter
func (t *Tracker) IncrementPagesFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesFailed++
}

// IncrementBrowserFallbacks counts escalations from HTTP to the browser
func (t *Tracker) IncrementBrowserFallbacks() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.BrowserFallbacks++
}

// IncrementChallengesSolved counts login challenges recovered by the operator
func (t *Tracker) IncrementChallengesSolved() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ChallengesSolved++
}

// IncrementItemsExported counts records written to the CSV file
func (t *Tracker) IncrementItemsExported() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ItemsExported++
}

// IncrementCacheHits counts external ids served from the local cache
func (t *Tracker) IncrementCacheHits() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.CacheHits++
}

// RecordOutcome counts one importer outcome by name
func (t *Tracker) RecordOutcome(outcome string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.Outcomes[outcome]++
}

// RecordFetchTime records a page fetch duration
func (t *Tracker) RecordFetchTime(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalFetchTimeMs += duration.Milliseconds()
	t.fetchCount++
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.data
	snapshot.Outcomes = make(map[string]int, len(t.data.Outcomes))
	for k, v := range t.data.Outcomes {
		snapshot.Outcomes[k] = v
	}
	snapshot.TotalFetchTimeMs = t.totalFetchTimeMs

	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	return snapshot
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	t.mu.Unlock()

	jsonData, err := json.MarshalIndent(t.GetSnapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats current metrics for periodic log lines
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := fmt.Sprintf("Pages: %d fetched, %d failed, %d via browser | Items: %d exported, %d cached ids | Challenges: %d",
		t.data.PagesFetched,
		t.data.PagesFailed,
		t.data.BrowserFallbacks,
		t.data.ItemsExported,
		t.data.CacheHits,
		t.data.ChallengesSolved,
	)
	if len(t.data.Outcomes) == 0 {
		return line
	}

	names := make([]string, 0, len(t.data.Outcomes))
	for name := range t.data.Outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, t.data.Outcomes[name])
	}
	return line + " | Outcomes: " + strings.Join(parts, " ")
}
