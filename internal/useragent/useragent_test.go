package useragent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandom(t *testing.T) {
	require.NotEmpty(t, agents)
	for i := 0; i < 50; i++ {
		require.Contains(t, agents, Random())
	}
}
