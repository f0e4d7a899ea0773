package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alvmarrod/douban-imdb/internal/exporter"
	"github.com/stretchr/testify/require"
)

func TestParseStartDate(t *testing.T) {
	d, err := parseStartDate("20240110")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), d)

	for _, bad := range []string{"2024-01-10", "20241310", "yesterday", ""} {
		_, err := parseStartDate(bad)
		require.Error(t, err, bad)
	}
}

func TestRootCmd_ArgsAndFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"-v", "--no-cache", "--config", "alt.json"}))

	visible, err := cmd.Flags().GetBool("visible")
	require.NoError(t, err)
	require.True(t, visible)

	noCache, err := cmd.Flags().GetBool("no-cache")
	require.NoError(t, err)
	require.True(t, noCache)

	manual, err := cmd.Flags().GetBool("manual-login")
	require.NoError(t, err)
	require.False(t, manual)

	require.Error(t, cmd.Args(cmd, nil))
	require.NoError(t, cmd.Args(cmd, []string{"ahbei"}))
	require.NoError(t, cmd.Args(cmd, []string{"ahbei", "20240101"}))
	require.Error(t, cmd.Args(cmd, []string{"ahbei", "20240101", "extra"}))
}

func TestRootCmd_RejectsBadStartDate(t *testing.T) {
	cmd := newRootCmd()
	require.Error(t, cmd.PreRunE(cmd, []string{"ahbei", "2024-01-01"}))
	require.NoError(t, cmd.PreRunE(cmd, []string{"ahbei"}))
}

func TestTerminationReason(t *testing.T) {
	require.Equal(t, "completed", terminationReason(exporter.Result{}, nil))
	require.Equal(t, "cutoff", terminationReason(exporter.Result{Halted: true}, nil))
	require.Equal(t, "interrupted", terminationReason(exporter.Result{}, context.Canceled))
	require.Equal(t, "failed", terminationReason(exporter.Result{}, errors.New("boom")))
}

func TestOpenIDCache_CountsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.db")

	store, n, err := openIDCache(path)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, store.PutExternalID("https://movie.douban.com/subject/1/", "tt0000001"))
	require.NoError(t, store.PutExternalID("https://movie.douban.com/subject/2/", "tt0000002"))
	require.NoError(t, store.Close())

	store, n, err = openIDCache(path)
	require.NoError(t, err)
	defer store.Close()
	require.Equal(t, 2, n)
}

func TestOpenIDCache_BadPath(t *testing.T) {
	_, _, err := openIDCache(filepath.Join(t.TempDir(), "missing", "dir", "ids.db"))
	require.Error(t, err)
}
