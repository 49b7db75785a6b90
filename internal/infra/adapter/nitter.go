package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/resilience/circuitbreaker"
	"mirrorpost/internal/resilience/retry"

	"github.com/PuerkitoBio/goquery"
)

// NitterClient consumes the external HTML/RSS bridge. Single-post
// fetches back the hybrid tier engine; the bridge instance is
// configurable per deployment.
type NitterClient struct {
	baseURL        string
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewNitterClient creates a bridge client rooted at baseURL.
func NewNitterClient(baseURL string, client *http.Client) *NitterClient {
	return &NitterClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         client,
		circuitBreaker: circuitbreaker.New(circuitbreaker.ScraperBridgeConfig()),
	}
}

// BaseURL returns the configured bridge root.
func (c *NitterClient) BaseURL() string { return c.baseURL }

// FetchSinglePost fetches one post by id. Makes up to 3 attempts with
// 1s/2s backoff; the tier engine cascades onward when this exhausts. A 200
// with an empty text body means the tweet was likely deleted upstream:
// the returned post carries empty text and the publisher refuses it,
// which is the correct terminal outcome.
func (c *NitterClient) FetchSinglePost(ctx context.Context, id, username string) (*entity.Post, error) {
	handle := username
	if handle == "" {
		handle = "i"
	}
	endpoint := fmt.Sprintf("%s/%s/status/%s", c.baseURL, url.PathEscape(handle), url.PathEscape(id))

	var post *entity.Post
	retryErr := retry.WithBackoff(ctx, retry.ScraperBridgeConfig(), func() error {
		result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.doFetchSingle(ctx, endpoint, id, handle)
		})
		if err != nil {
			return err
		}
		post = result.(*entity.Post)
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}
	return post, nil
}

func (c *NitterClient) doFetchSingle(ctx context.Context, endpoint, id, handle string) (*entity.Post, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "MirrorpostBot")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: "bridge fetch failed"}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &entity.AdapterError{Platform: entity.PlatformTwitter, Err: err}
	}
	return c.parseSinglePost(doc, id, handle), nil
}

// parseSinglePost extracts the main tweet from a bridge status page.
// Bridge bytes are not trusted to be valid UTF-8; every extracted string
// is transcoded with replacement before it reaches the rest of the
// pipeline.
func (c *NitterClient) parseSinglePost(doc *goquery.Document, id, handle string) *entity.Post {
	main := doc.Find(".main-tweet")
	if main.Length() == 0 {
		main = doc.Selection
	}

	post := &entity.Post{
		Platform:    entity.PlatformTwitter,
		ID:          id,
		URL:         fmt.Sprintf("https://twitter.com/%s/status/%s", handle, id),
		Text:        sanitizeBridgeText(strings.TrimSpace(main.Find(".tweet-content").First().Text())),
		PublishedAt: time.Now(),
		Author: entity.Author{
			Username:    handle,
			DisplayName: sanitizeBridgeText(strings.TrimSpace(main.Find(".fullname").First().Text())),
		},
	}

	if username := strings.TrimPrefix(strings.TrimSpace(main.Find(".username").First().Text()), "@"); username != "" {
		post.Author.Username = sanitizeBridgeText(username)
		post.URL = fmt.Sprintf("https://twitter.com/%s/status/%s", post.Author.Username, id)
	}

	if ts, ok := main.Find(".tweet-date a").First().Attr("title"); ok {
		if parsed, err := time.Parse("Jan 2, 2006 · 3:04 PM MST", ts); err == nil {
			post.PublishedAt = parsed
		}
	}

	main.Find(".attachments .still-image").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			post.Media = append(post.Media, entity.Media{
				Type: entity.MediaImage,
				URL:  c.rewriteMediaURL(href),
			})
		}
	})
	main.Find(".attachments video").Each(func(_ int, sel *goquery.Selection) {
		post.HasVideo = true
		if poster, ok := sel.Attr("poster"); ok {
			post.Media = append(post.Media, entity.Media{
				Type: entity.MediaVideoThumbnail,
				URL:  c.rewriteMediaURL(poster),
			})
		}
	})

	if quote := main.Find(".quote").First(); quote.Length() > 0 {
		post.IsQuote = true
		if href, ok := quote.Find("a.quote-link").First().Attr("href"); ok {
			post.Quoted = &entity.QuotedPost{
				URL:    "https://twitter.com" + strings.TrimSuffix(href, "#m"),
				Author: strings.TrimPrefix(strings.TrimSpace(quote.Find(".username").First().Text()), "@"),
			}
		}
	}
	if main.Find(".replying-to").Length() > 0 {
		post.IsReply = true
		post.ReplyToHandle = strings.TrimPrefix(strings.TrimSpace(main.Find(".replying-to a").First().Text()), "@")
	}

	return post
}

// rewriteMediaURL points bridge-relative media paths back at the bridge
// host and upgrades still images to original resolution.
func (c *NitterClient) rewriteMediaURL(raw string) string {
	if strings.HasPrefix(raw, "/") {
		raw = c.baseURL + raw
	}
	if strings.Contains(raw, "/pic/media") && !strings.Contains(raw, "video") {
		if strings.Contains(raw, "?") {
			raw += "&name=orig"
		} else {
			raw += "?name=orig"
		}
	}
	return raw
}

// sanitizeBridgeText transcodes bridge bytes into valid UTF-8, replacing
// anything invalid. Reinterpreting the bytes without replacement crashes
// later interpolation.
func sanitizeBridgeText(s string) string {
	return strings.ToValidUTF8(s, "�")
}
