package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorpost/internal/domain/entity"
)

func TestSyndicationToken_IsDeterministic(t *testing.T) {
	a := token("1234567890")
	b := token("1234567890")
	assert.Equal(t, a, b)
	assert.Len(t, a, 10)
	assert.NotEqual(t, a, token("1234567891"))
}

func TestSyndicationClient_FetchTweet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tweet-result", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("id"))
		assert.Equal(t, token("42"), r.URL.Query().Get("token"))
		assert.Contains(t, r.Header.Get("User-Agent"), "Googlebot")
		_, _ = w.Write([]byte(`{
			"text": "Full tweet text",
			"user": {"name": "Foo", "screen_name": "foo"},
			"photos": [{"url": "https://pbs.twimg.com/media/a.jpg", "width": 800, "height": 600}]
		}`))
	}))
	defer srv.Close()

	c := NewSyndicationClient(srv.URL, srv.Client())
	tweet, err := c.FetchTweet(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Full tweet text", tweet.Text)
	assert.Equal(t, "foo", tweet.User.ScreenName)
	require.Len(t, tweet.Photos, 1)
}

func TestSyndicationClient_EmptyPayloadIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewSyndicationClient(srv.URL, srv.Client())
	_, err := c.FetchTweet(context.Background(), "42")
	assert.True(t, errors.Is(err, entity.ErrNotFound))
}
