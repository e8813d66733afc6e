package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tele "gopkg.in/telebot.v4"
)

func messageContext(t *testing.T, userID int64) tele.Context {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Token: "test-token", Offline: true})
	require.NoError(t, err)
	return b.NewContext(tele.Update{Message: &tele.Message{
		Text:   "Да",
		Sender: &tele.User{ID: userID},
		Chat:   &tele.Chat{ID: userID},
	}})
}

func TestRateLimitInvokesOnLimited(t *testing.T) {
	var handled, limited int
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Minute,
		OnLimited: func(tele.Context) error { limited++; return nil },
	})
	h := mw(func(tele.Context) error { handled++; return nil })

	c := messageContext(t, 42)
	require.NoError(t, h(c))
	require.NoError(t, h(c))

	assert.Equal(t, 1, handled, "second message within the interval must not reach the handler")
	assert.Equal(t, 1, limited, "the throttled message must get feedback")
}

func TestRateLimitExcludedKindBypasses(t *testing.T) {
	var handled, limited int
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Minute,
		Exclude:   map[string]struct{}{"message": {}},
		OnLimited: func(tele.Context) error { limited++; return nil },
	})
	h := mw(func(tele.Context) error { handled++; return nil })

	c := messageContext(t, 43)
	require.NoError(t, h(c))
	require.NoError(t, h(c))

	assert.Equal(t, 2, handled)
	assert.Zero(t, limited)
}

func TestRateLimitTracksUsersIndependently(t *testing.T) {
	var handled int
	mw := RateLimitMiddleware(RateLimitOptions{Interval: time.Minute})
	h := mw(func(tele.Context) error { handled++; return nil })

	require.NoError(t, h(messageContext(t, 44)))
	require.NoError(t, h(messageContext(t, 45)))
	assert.Equal(t, 2, handled)
}
