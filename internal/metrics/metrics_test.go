package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alvmarrod/douban-imdb/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestTracker_SnapshotAndFile(t *testing.T) {
	tr := NewTracker()
	tr.IncrementPagesFetched()
	tr.IncrementPagesFetched()
	tr.IncrementPagesFailed()
	tr.IncrementBrowserFallbacks()
	tr.IncrementItemsExported()
	tr.RecordOutcome("success")
	tr.RecordOutcome("success")
	tr.RecordOutcome("not_found")
	tr.RecordFetchTime(100 * time.Millisecond)
	tr.RecordFetchTime(300 * time.Millisecond)

	snap := tr.GetSnapshot()
	require.Equal(t, 2, snap.PagesFetched)
	require.Equal(t, 1, snap.PagesFailed)
	require.Equal(t, int64(400), snap.TotalFetchTimeMs)
	require.Equal(t, int64(200), snap.AvgFetchTimeMs)
	require.Equal(t, 2, snap.Outcomes["success"])

	require.Contains(t, tr.LogProgress(), "Pages: 2 fetched, 1 failed, 1 via browser")
	require.Contains(t, tr.LogProgress(), "not_found=1 success=2")

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, tr.WriteToFile(path, "completed"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var written storage.Metrics
	require.NoError(t, json.Unmarshal(raw, &written))
	require.Equal(t, "completed", written.TerminationReason)
	require.Equal(t, 1, written.ItemsExported)
	require.False(t, written.EndTime.IsZero())
}
