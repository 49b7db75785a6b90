package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/resilience/retry"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

const (
	youtubeChannelFeed  = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"
	youtubePlaylistFeed = "https://www.youtube.com/feeds/videos.xml?playlist_id=%s"
	// fallbackThumbnail is used when the media namespace advertises none.
	fallbackThumbnail = "https://i.ytimg.com/vi/%s/hqdefault.jpg"
)

// YouTubeAdapter fetches a channel's upload feed. It requires an
// explicit channel id; handle resolution is broken upstream and is
// rejected at config load.
type YouTubeAdapter struct {
	cfg    *entity.SourceConfig
	client *http.Client
}

// NewYouTubeAdapter creates a YouTube adapter for the given source.
func NewYouTubeAdapter(cfg *entity.SourceConfig, client *http.Client) *YouTubeAdapter {
	return &YouTubeAdapter{cfg: cfg, client: client}
}

func (a *YouTubeAdapter) Platform() entity.Platform { return entity.PlatformYouTube }

// feedURL derives the feed location. With ExcludeShorts the UC… channel
// id is rewritten to the UULF… uploads playlist, which carries long-form
// videos only.
func (a *YouTubeAdapter) feedURL() string {
	channelID := a.cfg.Source.ChannelID
	if a.cfg.Source.ExcludeShorts && strings.HasPrefix(channelID, "UC") {
		return fmt.Sprintf(youtubePlaylistFeed, "UULF"+channelID[2:])
	}
	return fmt.Sprintf(youtubeChannelFeed, channelID)
}

// Fetch retrieves the channel feed. Upstream 404/500/502/503 become
// transient errors so maintenance windows do not eat the source's error
// budget.
func (a *YouTubeAdapter) Fetch(ctx context.Context, since time.Time, limit int) ([]entity.Post, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.feedURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "MirrorpostBot")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable:
		return nil, entity.Transientf("youtube feed returned %d", resp.StatusCode)
	default:
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: "youtube feed fetch failed"}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(raw))
	if err != nil {
		return nil, &entity.AdapterError{Platform: entity.PlatformYouTube, Err: err}
	}

	posts := make([]entity.Post, 0, len(feed.Items))
	for _, item := range feed.Items {
		posts = append(posts, a.toPost(item))
	}
	for i, j := 0, len(posts)-1; i < j; i, j = i+1, j-1 {
		posts[i], posts[j] = posts[j], posts[i]
	}
	return filterSince(posts, since, limit), nil
}

func (a *YouTubeAdapter) toPost(item *gofeed.Item) entity.Post {
	publishedAt := time.Now()
	if item.PublishedParsed != nil {
		publishedAt = *item.PublishedParsed
	}

	videoID := extValue(item.Extensions, "yt", "videoId")
	description, thumb := mediaGroup(item.Extensions)
	if thumb.URL == "" && videoID != "" {
		thumb = entity.Media{Type: entity.MediaVideoThumbnail, URL: fmt.Sprintf(fallbackThumbnail, videoID)}
	}

	var author entity.Author
	if item.Author != nil {
		author.DisplayName = item.Author.Name
	}

	post := entity.Post{
		Platform:    entity.PlatformYouTube,
		ID:          videoID,
		URL:         item.Link,
		Title:       item.Title,
		Text:        description,
		PublishedAt: publishedAt,
		Author:      author,
		HasVideo:    true,
	}
	if post.ID == "" {
		post.ID = item.Link
	}
	if thumb.URL != "" {
		post.Media = []entity.Media{thumb}
	}
	return post
}

// mediaGroup extracts the media-namespace description and the
// highest-resolution thumbnail from an entry.
func mediaGroup(exts ext.Extensions) (string, entity.Media) {
	groups, ok := exts["media"]["group"]
	if !ok || len(groups) == 0 {
		return "", entity.Media{}
	}
	group := groups[0]

	var description string
	if d := group.Children["description"]; len(d) > 0 {
		description = strings.TrimSpace(d[0].Value)
	}

	best := entity.Media{Type: entity.MediaVideoThumbnail}
	bestWidth := -1
	for _, t := range group.Children["thumbnail"] {
		w := atoiSafe(t.Attrs["width"])
		if w > bestWidth {
			bestWidth = w
			best = entity.Media{
				Type:   entity.MediaVideoThumbnail,
				URL:    t.Attrs["url"],
				Width:  w,
				Height: atoiSafe(t.Attrs["height"]),
			}
		}
	}
	return description, best
}

func extValue(exts ext.Extensions, namespace, name string) string {
	if values, ok := exts[namespace][name]; ok && len(values) > 0 {
		return values[0].Value
	}
	return ""
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
