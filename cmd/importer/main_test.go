package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	a, err := parseArgs(nil)
	require.NoError(t, err)
	require.Equal(t, importArgs{adjust: -1, configPath: "config.json"}, a)

	a, err = parseArgs([]string{"unmark"})
	require.NoError(t, err)
	require.True(t, a.unmark)

	for arg, want := range map[string]int{"-2": -2, "-1": -1, "0": 0, "1": 1, "2": 2} {
		a, err := parseArgs([]string{arg})
		require.NoError(t, err, arg)
		require.Equal(t, want, a.adjust)
		require.False(t, a.unmark)
	}

	a, err = parseArgs([]string{"--config=alt.json", "2"})
	require.NoError(t, err)
	require.Equal(t, "alt.json", a.configPath)
	require.Equal(t, 2, a.adjust)

	a, err = parseArgs([]string{"-2", "--config", "other.json"})
	require.NoError(t, err)
	require.Equal(t, "other.json", a.configPath)
	require.Equal(t, -2, a.adjust)
}

func TestParseArgs_Rejects(t *testing.T) {
	cases := [][]string{
		{"3"},
		{"-3"},
		{"+1"},
		{"01"},
		{"mark"},
		{"1", "2"},
		{"unmark", "-1"},
		{"--config"},
		{"--config="},
	}
	for _, args := range cases {
		_, err := parseArgs(args)
		require.Error(t, err, args)
	}
}

func TestParseArgs_Help(t *testing.T) {
	_, err := parseArgs([]string{"--help"})
	require.ErrorIs(t, err, errHelp)
}
