package adapter

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/resilience/retry"
)

// DefaultSyndicationBase is the tweet embed-JSON service.
const DefaultSyndicationBase = "https://cdn.syndication.twimg.com"

// syndicationUserAgent is required by the embed service; anything less
// crawler-shaped gets an empty response.
const syndicationUserAgent = "Googlebot/2.1 (+http://www.google.com/bot.html)"

// SyndicationClient fetches full tweet JSON from the embed service.
// Tiers 1.5 and 3.5 ride on it.
type SyndicationClient struct {
	baseURL string
	client  *http.Client
}

// NewSyndicationClient creates an embed-JSON client rooted at baseURL
// (DefaultSyndicationBase when empty).
func NewSyndicationClient(baseURL string, client *http.Client) *SyndicationClient {
	if baseURL == "" {
		baseURL = DefaultSyndicationBase
	}
	return &SyndicationClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// SyndicationTweet is the subset of the embed payload the tier engine
// consumes.
type SyndicationTweet struct {
	Text   string `json:"text"`
	User   struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
	} `json:"user"`
	Photos []struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"photos"`
	Video *struct {
		Poster string `json:"poster"`
	} `json:"video"`
}

// token derives the deterministic request token for a tweet id.
func token(id string) string {
	sum := md5.Sum([]byte(id)) // #nosec G401 -- request token, not a credential.
	return hex.EncodeToString(sum[:])[:10]
}

// FetchTweet retrieves the embed JSON for one tweet id.
func (c *SyndicationClient) FetchTweet(ctx context.Context, id string) (*SyndicationTweet, error) {
	endpoint := fmt.Sprintf("%s/tweet-result?id=%s&token=%s", c.baseURL, id, token(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", syndicationUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, entity.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: "embed service failed"}
	}

	var tweet SyndicationTweet
	if err := json.NewDecoder(resp.Body).Decode(&tweet); err != nil {
		return nil, &entity.AdapterError{Platform: entity.PlatformTwitter, Err: err}
	}
	if tweet.Text == "" && len(tweet.Photos) == 0 {
		return nil, entity.ErrNotFound
	}
	tweet.Text = strings.ToValidUTF8(tweet.Text, "�")
	return &tweet, nil
}
