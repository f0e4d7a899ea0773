package storage

import "time"

// CachedID is an external id resolved from a source-site detail page
type CachedID struct {
	SubjectURL string
	ExternalID string
	ResolvedAt time.Time
}

// Metrics tracks run statistics for export on exit
type Metrics struct {
	StartTime         time.Time      `json:"start_time"`
	EndTime           time.Time      `json:"end_time"`
	PagesFetched      int            `json:"pages_fetched"`
	PagesFailed       int            `json:"pages_failed"`
	BrowserFallbacks  int            `json:"browser_fallbacks"`
	ChallengesSolved  int            `json:"challenges_solved"`
	ItemsExported     int            `json:"items_exported"`
	CacheHits         int            `json:"cache_hits"`
	Outcomes          map[string]int `json:"outcomes,omitempty"`
	TotalFetchTimeMs  int64          `json:"total_fetch_time_ms"`
	AvgFetchTimeMs    int64          `json:"avg_fetch_time_ms"`
	TerminationReason string         `json:"termination_reason"`
}
