// Package tier implements the hybrid decision tree that reconstructs a
// complete tweet from a webhook trigger. Five paths exist: the plain
// payload (1), the embed-JSON service (1.5), the scraper bridge (2),
// the embed service as a post-scraper fallback (3.5), and the
// payload-only last resort (3). Later tiers cascade automatically when
// an earlier one fails.
package tier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/infra/adapter"
	"mirrorpost/internal/observability/metrics"
	textutil "mirrorpost/internal/utils/text"

	"github.com/PuerkitoBio/goquery"
)

// Tier labels one processing path.
type Tier string

// The five tiers.
const (
	Tier1  Tier = "1"
	Tier15 Tier = "1.5"
	Tier2  Tier = "2"
	Tier35 Tier = "3.5"
	Tier3  Tier = "3"
)

// embedTruncationFloor is the embed-service text length past which a
// missing terminator means the service itself truncated.
const embedTruncationFloor = 270

var (
	photoVideoSuffix  = regexp.MustCompile(`/(?:photo|video)/\d+/?\z`)
	statusURLPattern  = regexp.MustCompile(`(?:twitter|x)\.com/[^/]+/status(?:es)?/\d+`)
	pbsImagePattern   = regexp.MustCompile(`https://pbs\.twimg\.com/media/[A-Za-z0-9_\-.?=&]+`)
	picTwitterPattern = regexp.MustCompile(`https?://pic\.twitter\.com/\w+`)
)

// embedMediaMarkers in the embed code mean the tweet carries media the
// payload text cannot express.
var embedMediaMarkers = []string{
	"pbs.twimg.com/media",
	"pic.twitter.com",
	"ext_tw_video_thumb",
	"video.twimg.com",
}

// embedVideoMarkers signal a playable video.
var embedVideoMarkers = []string{
	"ext_tw_video_thumb",
	"video.twimg.com",
	"amplify_video",
}

// ScraperClient is the bridge half the engine drives.
type ScraperClient interface {
	FetchSinglePost(ctx context.Context, id, username string) (*entity.Post, error)
}

// EmbedClient is the embed-JSON service.
type EmbedClient interface {
	FetchTweet(ctx context.Context, id string) (*adapter.SyndicationTweet, error)
}

// URLExpander resolves one shortened URL.
type URLExpander interface {
	Expand(ctx context.Context, shortURL string) (string, error)
}

// Engine turns normalised payloads into complete posts.
type Engine struct {
	Scraper  ScraperClient
	Embed    EmbedClient
	Expander URLExpander
	Logger   *slog.Logger
}

// NewEngine wires a tier engine.
func NewEngine(scraper ScraperClient, embed EmbedClient, expander URLExpander, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Scraper: scraper, Embed: embed, Expander: expander, Logger: logger}
}

// Decide classifies a payload into its initial tier.
func Decide(payload Payload, scraperEnabled bool) Tier {
	if !scraperEnabled {
		return Tier15
	}

	switch {
	case RepostAuthor(payload.Text) != "":
		return Tier2
	case payload.SourceHandle != "" && strings.HasPrefix(payload.Text, "@"+payload.SourceHandle):
		// Self-reply: the thread continues.
		return Tier2
	case photoVideoSuffix.MatchString(payload.FirstLinkURL):
		return Tier2
	case payload.FirstLinkURL != "" && statusURLPattern.MatchString(payload.FirstLinkURL):
		// Quote tweet.
		return Tier2
	case containsAny(payload.EmbedCode, embedMediaMarkers):
		return Tier2
	case payload.FirstLinkURL != "" && !containsAny(payload.FirstLinkURL, embedMediaMarkers) &&
		CountShortenedLinks(payload.Text) >= 2:
		// Heuristic: an image plus a text link.
		return Tier2
	case LikelyTruncated(payload.Text):
		return Tier2
	default:
		return Tier1
	}
}

// BuildPost produces a complete post for the payload, cascading through
// the fallback tiers on failure.
func (e *Engine) BuildPost(ctx context.Context, cfg *entity.SourceConfig, payload Payload) (*entity.Post, error) {
	if payload.PostID == "" {
		return nil, fmt.Errorf("payload has no post id (link: %q)", payload.LinkToTweet)
	}

	tier := Decide(payload, cfg.Processing.ScraperEnabled)
	metrics.RecordTier(string(tier))

	switch tier {
	case Tier1:
		return e.buildTier1(ctx, payload), nil
	case Tier15:
		if post, err := e.buildFromEmbed(ctx, payload, Tier15); err == nil {
			return post, nil
		}
		return e.buildTier1(ctx, payload), nil
	default:
		return e.buildTier2(ctx, payload)
	}
}

// buildTier1 constructs the post straight from the payload.
func (e *Engine) buildTier1(ctx context.Context, payload Payload) *entity.Post {
	post := e.basePost(payload)
	post.Text = e.expandShortenedURLs(ctx, payload.Text)

	if containsAny(payload.EmbedCode, embedVideoMarkers) {
		post.HasVideo = true
		post.Text = stripExpandedMediaURLs(post.Text)
	}
	post.SetRaw(entity.RawKeyTier, string(Tier1))
	return post
}

// buildTier2 fetches the full post from the scraper bridge, overriding
// authorship with the webhook's RT header when present (the scraper can
// return a different user from the retweet chain). On bridge failure it
// cascades to 3.5, then 3.
func (e *Engine) buildTier2(ctx context.Context, payload Payload) (*entity.Post, error) {
	scraped, err := e.Scraper.FetchSinglePost(ctx, payload.PostID, payload.Username)
	if err != nil {
		e.Logger.Warn("scraper bridge failed, cascading to embed fallback",
			slog.String("post_id", payload.PostID), slog.Any("error", err))
		if post, embedErr := e.buildFromEmbed(ctx, payload, Tier35); embedErr == nil {
			return post, nil
		}
		return e.buildTier3(payload), nil
	}

	if scraped.Text == "" && len(scraped.Media) == 0 {
		e.Logger.Warn("bridge returned empty body, tweet likely deleted",
			slog.String("post_id", payload.PostID))
	}

	post := scraped
	post.ID = payload.PostID

	if rtAuthor := RepostAuthor(payload.Text); rtAuthor != "" {
		// The webhook header is authoritative for retweet authorship.
		post.IsRepost = true
		post.Author.Username = rtAuthor
		post.RepostedBy = payload.SourceHandle
		post.URL = fmt.Sprintf("https://twitter.com/%s/status/%s", rtAuthor, payload.PostID)
	}
	if payload.SourceHandle != "" && strings.HasPrefix(payload.Text, "@"+payload.SourceHandle) {
		post.IsThreadPost = true
		post.IsReply = false
	}

	post.SetRaw(entity.RawKeyTier, string(Tier2))
	return post, nil
}

// buildFromEmbed serves tiers 1.5 and 3.5.
func (e *Engine) buildFromEmbed(ctx context.Context, payload Payload, tier Tier) (*entity.Post, error) {
	if e.Embed == nil {
		return nil, fmt.Errorf("no embed client configured")
	}
	tweet, err := e.Embed.FetchTweet(ctx, payload.PostID)
	if err != nil {
		return nil, err
	}

	post := e.basePost(payload)
	post.Text = tweet.Text
	if tweet.User.ScreenName != "" {
		post.Author.Username = tweet.User.ScreenName
		post.Author.DisplayName = tweet.User.Name
	}

	for i, photo := range tweet.Photos {
		if i == entity.MaxAttachments {
			break
		}
		post.Media = append(post.Media, entity.Media{
			Type:   entity.MediaImage,
			URL:    photo.URL,
			Width:  photo.Width,
			Height: photo.Height,
		})
	}
	if tweet.Video != nil {
		post.HasVideo = true
		if tweet.Video.Poster != "" {
			post.Media = append(post.Media, entity.Media{
				Type: entity.MediaVideoThumbnail,
				URL:  tweet.Video.Poster,
			})
		}
	}

	e.applyEmbedTruncationRule(post)
	post.SetRaw(entity.RawKeyTier, string(tier))
	return post, nil
}

// buildTier3 is the payload-only last resort.
func (e *Engine) buildTier3(payload Payload) *entity.Post {
	post := e.basePost(payload)
	post.Text = textutil.StripMediaPageURLs(payload.Text)
	e.applyEmbedTruncationRule(post)
	post.Media = scrapeEmbedImages(payload.EmbedCode)
	if containsAny(payload.EmbedCode, embedVideoMarkers) {
		post.HasVideo = true
	}
	post.SetRaw(entity.RawKeyForceReadMore, true)
	post.SetRaw(entity.RawKeyTier, string(Tier3))
	return post
}

func (e *Engine) basePost(payload Payload) *entity.Post {
	username := payload.Username
	if username == "" {
		username = payload.SourceHandle
	}
	url := payload.LinkToTweet
	if url == "" {
		url = fmt.Sprintf("https://twitter.com/%s/status/%s", username, payload.PostID)
	}
	return &entity.Post{
		Platform:    entity.PlatformTwitter,
		ID:          payload.PostID,
		URL:         url,
		Text:        payload.Text,
		PublishedAt: time.Now(),
		Author:      entity.Author{Username: username},
	}
}

// applyEmbedTruncationRule appends an ellipsis when the text still
// looks cut off: length past the floor, no terminator or a trailing
// shortened URL, and no ellipsis already present.
func (e *Engine) applyEmbedTruncationRule(post *entity.Post) {
	trimmed := strings.TrimRight(post.Text, " \n")
	if len([]rune(trimmed)) < embedTruncationFloor {
		return
	}
	if strings.Contains(trimmed, "…") {
		return
	}
	endsWithShort := trailingShortURL.MatchString(trimmed)
	if !endsWithShort && hasNaturalTerminator(trimmed) {
		return
	}
	post.Text = trimmed + "…"
	post.SetRaw(entity.RawKeyTruncated, true)
	post.SetRaw(entity.RawKeyForceReadMore, true)
}

// expandShortenedURLs HEAD-follows each t.co link once.
func (e *Engine) expandShortenedURLs(ctx context.Context, body string) string {
	if e.Expander == nil {
		return body
	}
	return shortenedURLPattern.ReplaceAllStringFunc(body, func(short string) string {
		expanded, err := e.Expander.Expand(ctx, short)
		if err != nil || expanded == "" {
			return short
		}
		return expanded
	})
}

// stripExpandedMediaURLs removes media-page URLs left behind once a
// video is signalled; the playable media arrives as an attachment.
func stripExpandedMediaURLs(body string) string {
	body = textutil.StripMediaPageURLs(body)
	body = picTwitterPattern.ReplaceAllString(body, "")
	return strings.TrimSpace(body)
}

// scrapeEmbedImages pulls pbs.twimg.com image URLs out of the embed
// HTML.
func scrapeEmbedImages(embedCode string) []entity.Media {
	if embedCode == "" {
		return nil
	}
	seen := map[string]bool{}
	var media []entity.Media

	add := func(url string) {
		if url == "" || seen[url] || len(media) == entity.MaxAttachments {
			return
		}
		seen[url] = true
		media = append(media, entity.Media{Type: entity.MediaImage, URL: url})
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(embedCode))
	if err == nil {
		doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
			if src, ok := sel.Attr("src"); ok && strings.Contains(src, "pbs.twimg.com/media") {
				add(src)
			}
		})
	}
	// Attribute scan catches URLs outside img tags.
	for _, url := range pbsImagePattern.FindAllString(embedCode, -1) {
		add(url)
	}
	return media
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

// HTTPExpander resolves shortened URLs with a single HEAD request,
// reading the redirect target without following it further.
type HTTPExpander struct {
	Client *http.Client
}

// Expand returns the redirect target of one shortened URL.
func (h *HTTPExpander) Expand(ctx context.Context, shortURL string) (string, error) {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	// Copy the client so redirects are reported, not followed.
	noFollow := *client
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, shortURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := noFollow.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if location := resp.Header.Get("Location"); location != "" {
		return location, nil
	}
	return shortURL, nil
}
