package tier

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/infra/queue"
)

var statusIDPattern = regexp.MustCompile(`/status(?:es)?/(\d+)`)

// Payload is the normalised webhook trigger the tier engine decides on.
type Payload struct {
	Text         string
	EmbedCode    string
	LinkToTweet  string
	FirstLinkURL string
	Username     string
	PostID       string

	// SourceHandle is injected from the source config so brand-named
	// triggers still resolve the real handle for reply/self detection.
	SourceHandle string
}

// NormalizePayload decodes the raw queue payload: URL-decoding and HTML
// entity decoding on text and embed code, the numeric post id extracted
// from the tweet URL, and the configured handle injected.
func NormalizePayload(raw queue.Payload, cfg *entity.SourceConfig) Payload {
	payload := Payload{
		Text:         decodeField(raw.Text),
		EmbedCode:    decodeField(raw.EmbedCode),
		LinkToTweet:  strings.TrimSpace(raw.LinkToTweet),
		FirstLinkURL: strings.TrimSpace(raw.FirstLinkURL),
		Username:     strings.TrimPrefix(strings.TrimSpace(raw.Username), "@"),
		PostID:       raw.PostID,
		SourceHandle: cfg.Source.Handle,
	}
	if payload.PostID == "" {
		if m := statusIDPattern.FindStringSubmatch(payload.LinkToTweet); m != nil {
			payload.PostID = m[1]
		}
	}
	if payload.SourceHandle == "" {
		payload.SourceHandle = payload.Username
	}
	return payload
}

func decodeField(s string) string {
	if decoded, err := url.QueryUnescape(s); err == nil && strings.Contains(s, "%") {
		s = decoded
	}
	return strings.TrimSpace(html.UnescapeString(s))
}

// repostHeaderPattern matches the RT header IFTTT forwards for
// retweets.
var repostHeaderPattern = regexp.MustCompile(`^RT @(\w+):\s*`)

// RepostAuthor extracts the original author from an "RT @user:" header,
// or "" when the text is not a retweet.
func RepostAuthor(text string) string {
	if m := repostHeaderPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// StripRepostHeader removes the RT header.
func StripRepostHeader(text string) string {
	return repostHeaderPattern.ReplaceAllString(text, "")
}
