package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/resilience/retry"

	"golang.org/x/net/idna"
)

// DefaultBlueskyAppView is the public, unauthenticated XRPC endpoint.
const DefaultBlueskyAppView = "https://public.api.bsky.app"

// BlueskyAdapter fetches an author feed (profile mode) or a feed
// generator (custom-feed mode) over XRPC.
type BlueskyAdapter struct {
	cfg     *entity.SourceConfig
	client  *http.Client
	baseURL string
}

// NewBlueskyAdapter creates a Bluesky adapter for the given source.
func NewBlueskyAdapter(cfg *entity.SourceConfig, client *http.Client) *BlueskyAdapter {
	return &BlueskyAdapter{cfg: cfg, client: client, baseURL: DefaultBlueskyAppView}
}

func (a *BlueskyAdapter) Platform() entity.Platform { return entity.PlatformBluesky }

// Wire types, pared down to the fields the gateway reads.

type bskyFeedResponse struct {
	Feed []bskyFeedItem `json:"feed"`
}

type bskyFeedItem struct {
	Post   bskyPostView `json:"post"`
	Reason *struct {
		Type string `json:"$type"`
		By   struct {
			Handle      string `json:"handle"`
			DisplayName string `json:"displayName"`
		} `json:"by"`
	} `json:"reason"`
}

type bskyPostView struct {
	URI    string `json:"uri"`
	CID    string `json:"cid"`
	Author struct {
		DID         string `json:"did"`
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
	} `json:"author"`
	Record struct {
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"createdAt"`
		Reply     *struct {
			Parent struct {
				URI string `json:"uri"`
			} `json:"parent"`
		} `json:"reply"`
		Embed *struct {
			Type string `json:"$type"`
		} `json:"embed"`
		Facets []bskyFacet `json:"facets"`
	} `json:"record"`
	Embed *bskyEmbedView `json:"embed"`
}

type bskyFacet struct {
	Index struct {
		ByteStart int `json:"byteStart"`
		ByteEnd   int `json:"byteEnd"`
	} `json:"index"`
	Features []struct {
		Type string `json:"$type"`
		URI  string `json:"uri"`
	} `json:"features"`
}

type bskyEmbedView struct {
	Type   string `json:"$type"`
	Images []struct {
		Fullsize string `json:"fullsize"`
		Thumb    string `json:"thumb"`
		Alt      string `json:"alt"`
		AspectRatio *struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"aspectRatio"`
	} `json:"images"`
	External *struct {
		URI         string `json:"uri"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Thumb       string `json:"thumb"`
	} `json:"external"`
	Playlist  string `json:"playlist"`
	Thumbnail string `json:"thumbnail"`
	Record    *struct {
		Record struct {
			URI    string `json:"uri"`
			Author struct {
				Handle string `json:"handle"`
			} `json:"author"`
		} `json:"record"`
	} `json:"record"`
}

// Fetch retrieves and normalises the configured feed.
func (a *BlueskyAdapter) Fetch(ctx context.Context, since time.Time, limit int) ([]entity.Post, error) {
	items, err := a.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}

	posts := make([]entity.Post, 0, len(items))
	for _, item := range items {
		post, err := a.toPost(item)
		if err != nil {
			// One malformed item must not sink the source.
			continue
		}
		posts = append(posts, post)
	}
	for i, j := 0, len(posts)-1; i < j; i, j = i+1, j-1 {
		posts[i], posts[j] = posts[j], posts[i]
	}
	return filterSince(posts, since, limit), nil
}

func (a *BlueskyAdapter) fetchFeed(ctx context.Context) ([]bskyFeedItem, error) {
	var endpoint string
	switch {
	case a.cfg.Source.FeedURL != "" || a.cfg.Source.FeedRKey != "":
		feedURI, err := a.resolveFeedURI(ctx)
		if err != nil {
			return nil, err
		}
		endpoint = fmt.Sprintf("%s/xrpc/app.bsky.feed.getFeed?feed=%s&limit=50",
			a.baseURL, url.QueryEscape(feedURI))
	default:
		filter := "posts_no_replies"
		if a.cfg.Source.IncludeThreads {
			filter = "posts_and_author_threads"
		}
		endpoint = fmt.Sprintf("%s/xrpc/app.bsky.feed.getAuthorFeed?actor=%s&filter=%s&limit=50",
			a.baseURL, url.QueryEscape(a.cfg.Source.Handle), filter)
	}

	var feedResp bskyFeedResponse
	if err := a.getJSON(ctx, endpoint, &feedResp); err != nil {
		return nil, err
	}
	return feedResp.Feed, nil
}

// resolveFeedURI turns a feed URL or (creator, rkey) pair into the
// generator's AT-URI via identity resolution.
func (a *BlueskyAdapter) resolveFeedURI(ctx context.Context) (string, error) {
	creator, rkey := a.cfg.Source.FeedCreator, a.cfg.Source.FeedRKey
	if feedURL := a.cfg.Source.FeedURL; feedURL != "" {
		// https://bsky.app/profile/{creator}/feed/{rkey}
		parts := strings.Split(strings.Trim(feedURL, "/"), "/")
		for i := 0; i+2 < len(parts); i++ {
			if parts[i] == "profile" && parts[i+2] == "feed" && i+3 < len(parts) {
				creator, rkey = parts[i+1], parts[i+3]
			}
		}
	}
	if creator == "" || rkey == "" {
		return "", &entity.ConfigError{Source: a.cfg.ID, Reason: "bluesky feed needs feed_url or feed_creator + feed_rkey"}
	}

	did := creator
	if !strings.HasPrefix(creator, "did:") {
		var resolved struct {
			DID string `json:"did"`
		}
		endpoint := fmt.Sprintf("%s/xrpc/com.atproto.identity.resolveHandle?handle=%s",
			a.baseURL, url.QueryEscape(creator))
		if err := a.getJSON(ctx, endpoint, &resolved); err != nil {
			return "", err
		}
		did = resolved.DID
	}
	return fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", did, rkey), nil
}

func (a *BlueskyAdapter) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &retry.HTTPError{StatusCode: resp.StatusCode, Message: "bluesky request failed"}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &entity.AdapterError{Platform: entity.PlatformBluesky, Err: err}
	}
	return nil
}

func (a *BlueskyAdapter) toPost(item bskyFeedItem) (entity.Post, error) {
	view := item.Post
	rkey := rkeyFromURI(view.URI)
	if rkey == "" {
		return entity.Post{}, fmt.Errorf("malformed post uri %q", view.URI)
	}

	post := entity.Post{
		Platform:    entity.PlatformBluesky,
		ID:          rkey,
		URL:         fmt.Sprintf("https://bsky.app/profile/%s/post/%s", view.Author.Handle, rkey),
		Text:        expandFacets(view.Record.Text, view.Record.Facets),
		PublishedAt: view.Record.CreatedAt,
		Author: entity.Author{
			Username:    view.Author.Handle,
			DisplayName: view.Author.DisplayName,
			ProfileURL:  "https://bsky.app/profile/" + view.Author.Handle,
		},
		Raw: map[string]any{"uri": view.URI},
	}

	if item.Reason != nil && strings.HasSuffix(item.Reason.Type, "#reasonRepost") {
		post.IsRepost = true
		post.RepostedBy = item.Reason.By.Handle
	}

	if view.Record.Embed != nil && strings.HasPrefix(view.Record.Embed.Type, "app.bsky.embed.record") {
		post.IsQuote = true
	}

	if view.Record.Reply != nil {
		parentURI := view.Record.Reply.Parent.URI
		post.ReplyTo = parentURI
		// Self-reply when the DID inside the parent's AT-URI matches the
		// author's own DID.
		if didFromURI(parentURI) == view.Author.DID {
			post.IsThreadPost = true
		} else {
			post.IsReply = true
		}
	}

	a.attachEmbed(&post, view.Embed)
	return post, nil
}

func (a *BlueskyAdapter) attachEmbed(post *entity.Post, embed *bskyEmbedView) {
	if embed == nil {
		return
	}
	switch {
	case strings.HasPrefix(embed.Type, "app.bsky.embed.images"):
		for _, img := range embed.Images {
			m := entity.Media{
				Type:         entity.MediaImage,
				URL:          img.Fullsize,
				AltText:      img.Alt,
				ThumbnailURL: img.Thumb,
			}
			if img.AspectRatio != nil {
				m.Width, m.Height = img.AspectRatio.Width, img.AspectRatio.Height
			}
			post.Media = append(post.Media, m)
		}
	case strings.HasPrefix(embed.Type, "app.bsky.embed.video"):
		post.HasVideo = true
		if embed.Thumbnail != "" {
			post.Media = append(post.Media, entity.Media{
				Type: entity.MediaVideoThumbnail,
				URL:  embed.Thumbnail,
			})
		}
	case strings.HasPrefix(embed.Type, "app.bsky.embed.external"):
		if embed.External != nil {
			post.Media = append(post.Media, entity.Media{
				Type:         entity.MediaLinkCard,
				URL:          embed.External.URI,
				Title:        embed.External.Title,
				Description:  embed.External.Description,
				ThumbnailURL: embed.External.Thumb,
			})
		}
	case strings.HasPrefix(embed.Type, "app.bsky.embed.record"):
		if embed.Record != nil {
			quotedRkey := rkeyFromURI(embed.Record.Record.URI)
			post.Quoted = &entity.QuotedPost{
				URL:    fmt.Sprintf("https://bsky.app/profile/%s/post/%s", embed.Record.Record.Author.Handle, quotedRkey),
				Author: embed.Record.Record.Author.Handle,
			}
		}
	}
}

// expandFacets replaces byte ranges [byteStart, byteEnd) carrying link
// facets with the facet's full URI. Offsets are byte offsets into the
// UTF-8 text, applied right-to-left so earlier ranges stay valid;
// Punycode hosts are decoded for display.
func expandFacets(text string, facets []bskyFacet) string {
	type span struct {
		start, end int
		uri        string
	}
	spans := make([]span, 0, len(facets))
	for _, f := range facets {
		for _, feat := range f.Features {
			if !strings.HasSuffix(feat.Type, "#link") {
				continue
			}
			if f.Index.ByteStart < 0 || f.Index.ByteEnd > len(text) || f.Index.ByteStart >= f.Index.ByteEnd {
				continue
			}
			spans = append(spans, span{f.Index.ByteStart, f.Index.ByteEnd, decodePunycode(feat.URI)})
		}
	}
	// Right-to-left.
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if spans[j].start > spans[i].start {
				spans[i], spans[j] = spans[j], spans[i]
			}
		}
	}
	b := []byte(text)
	for _, s := range spans {
		b = append(b[:s.start], append([]byte(s.uri), b[s.end:]...)...)
	}
	return string(b)
}

// decodePunycode rewrites an xn-- host into its Unicode form.
func decodePunycode(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !strings.Contains(u.Host, "xn--") {
		return raw
	}
	decoded, err := idna.ToUnicode(u.Host)
	if err != nil {
		return raw
	}
	u.Host = decoded
	return u.String()
}

// rkeyFromURI extracts the record key from at://did/collection/rkey.
func rkeyFromURI(uri string) string {
	idx := strings.LastIndex(uri, "/")
	if idx < 0 || idx == len(uri)-1 {
		return ""
	}
	return uri[idx+1:]
}

// didFromURI extracts the DID authority from an AT-URI.
func didFromURI(uri string) string {
	rest := strings.TrimPrefix(uri, "at://")
	if rest == uri {
		return ""
	}
	if idx := strings.Index(rest, "/"); idx > 0 {
		return rest[:idx]
	}
	return rest
}
