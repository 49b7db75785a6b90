package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/resilience/circuitbreaker"
	"mirrorpost/internal/resilience/retry"

	"github.com/mmcdole/gofeed"
)

const (
	maxRedirects = 5
	// defaultByteBudget bounds per-item HTML cleaning.
	defaultByteBudget = 64 * 1024
	// maxFeedBytes bounds the raw feed body read.
	maxFeedBytes = 4 * 1024 * 1024
)

// RSSAdapter fetches RSS 2.0 and Atom feeds.
type RSSAdapter struct {
	cfg            *entity.SourceConfig
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// NewRSSAdapter creates an RSS adapter for the given source. The client
// is rebuilt with a redirect policy capping at five hops and aborting on
// loops.
func NewRSSAdapter(cfg *entity.SourceConfig, client *http.Client) *RSSAdapter {
	redirectClient := *client
	redirectClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		for _, prev := range via {
			if prev.URL.String() == req.URL.String() {
				return fmt.Errorf("redirect loop via %s", req.URL)
			}
		}
		switch req.Response.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			return nil
		}
		return fmt.Errorf("unsupported redirect status %d", req.Response.StatusCode)
	}

	return &RSSAdapter{
		cfg:            cfg,
		client:         &redirectClient,
		circuitBreaker: circuitbreaker.New(circuitbreaker.FeedFetchConfig()),
		retryConfig:    retry.FeedFetchConfig(),
	}
}

func (a *RSSAdapter) Platform() entity.Platform { return entity.PlatformRSS }

// Fetch retrieves and parses the configured feed.
func (a *RSSAdapter) Fetch(ctx context.Context, since time.Time, limit int) ([]entity.Post, error) {
	var posts []entity.Post

	retryErr := retry.WithBackoff(ctx, a.retryConfig, func() error {
		result, err := a.circuitBreaker.Execute(func() (interface{}, error) {
			return a.doFetch(ctx)
		})
		if err != nil {
			return err
		}
		posts = result.([]entity.Post)
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	return filterSince(posts, since, limit), nil
}

func (a *RSSAdapter) doFetch(ctx context.Context) ([]entity.Post, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.Source.FeedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "MirrorpostBot")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: "feed fetch failed"}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, err
	}

	body := stripAfterRootClose(string(raw))

	feed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, &entity.AdapterError{Platform: entity.PlatformRSS, Err: err}
	}

	return a.toPosts(feed), nil
}

// stripAfterRootClose drops anything injected after the feed's closing
// root tag (some hosts append tracker markup).
func stripAfterRootClose(body string) string {
	for _, closer := range []string{"</rss>", "</feed>", "</rdf:RDF>"} {
		if idx := strings.LastIndex(body, closer); idx >= 0 {
			return body[:idx+len(closer)]
		}
	}
	return body
}

func (a *RSSAdapter) toPosts(feed *gofeed.Feed) []entity.Post {
	budget := a.cfg.Source.ByteBudget
	if budget == 0 {
		budget = defaultByteBudget
	}

	posts := make([]entity.Post, 0, len(feed.Items))
	for _, item := range feed.Items {
		content := item.Content
		if content == "" {
			content = item.Description
		}

		publishedAt := time.Now()
		if item.PublishedParsed != nil {
			publishedAt = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			publishedAt = *item.UpdatedParsed
		}

		id := item.GUID
		if id == "" {
			id = item.Link
		}

		author := entity.Author{DisplayName: feed.Title}
		if len(item.Authors) > 0 {
			author.DisplayName = item.Authors[0].Name
		}

		posts = append(posts, entity.Post{
			Platform:    entity.PlatformRSS,
			ID:          id,
			URL:         item.Link,
			Title:       strings.TrimSpace(CleanHTML(item.Title, budget)),
			Text:        CleanHTML(content, budget),
			PublishedAt: publishedAt,
			Author:      author,
		})
	}

	// Feeds list newest first; the pipeline wants oldest first.
	for i, j := 0, len(posts)-1; i < j; i, j = i+1, j-1 {
		posts[i], posts[j] = posts[j], posts[i]
	}
	return posts
}
