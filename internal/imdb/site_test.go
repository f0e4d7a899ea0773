package imdb

import (
	"testing"

	"github.com/chromedp/cdproto/dom"
	"github.com/stretchr/testify/require"
)

func TestLoggedIn(t *testing.T) {
	require.False(t, LoggedIn("https://www.imdb.com/registration/signin"))
	require.False(t, LoggedIn("https://www.imdb.com/ap/signin?openid.return_to=x"))
	require.False(t, LoggedIn("https://www.amazon.com/ap/mfa"))
	require.True(t, LoggedIn("https://www.imdb.com/?ref_=login"))
}

func TestStarSelector(t *testing.T) {
	require.Equal(t, `button[aria-label="Rate 9"]`, StarSelector(9))
}

func TestCenter(t *testing.T) {
	x, y, err := Center(dom.Quad{10, 20, 30, 20, 30, 40, 10, 40})
	require.NoError(t, err)
	require.Equal(t, 20.0, x)
	require.Equal(t, 30.0, y)

	_, _, err = Center(dom.Quad{1, 2})
	require.Error(t, err)
}
