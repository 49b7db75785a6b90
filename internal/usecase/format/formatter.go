package format

import (
	"fmt"
	"strings"

	"mirrorpost/internal/domain/entity"
	"mirrorpost/internal/utils/text"
)

// Formatter renders one source's posts into status text.
type Formatter struct {
	cfg        *entity.SourceConfig
	formatting entity.FormattingConfig
}

// New creates a formatter for the given source config.
func New(cfg *entity.SourceConfig) *Formatter {
	return &Formatter{cfg: cfg, formatting: effective(cfg)}
}

// Format produces the status text for a post, before trimming.
func (f *Formatter) Format(post *entity.Post) string {
	body := f.body(post)
	body = TransformMentions(body, f.cfg.Mentions)
	body = text.StripMediaPageURLs(body)

	var out string
	switch {
	case post.IsRepost:
		out = f.repost(post, body)
	case post.IsQuote:
		out = f.quote(post, body)
	case post.IsThreadPost:
		out = f.thread(post, body)
	default:
		out = f.regular(post, body)
	}

	if post.RawBool(entity.RawKeyForceReadMore) && f.formatting.ReadMoreText != "" {
		out = appendBeforeTrailingURL(out, f.formatting.ReadMoreText)
	}

	out = text.RewriteDomains(out, f.formatting.URLRewriteDomains, f.formatting.URLRewriteTarget)
	out = text.NormalizeEllipsis(out)
	return strings.TrimSpace(out)
}

// Trim applies the source's length budget, preserving a trailing
// canonical URL.
func (f *Formatter) Trim(status string) string {
	return text.TrimKeepingTrailingURL(status,
		f.formatting.MaxLength, f.formatting.TrimStrategy, f.formatting.TrimTolerance)
}

// body selects what the status says: the three title modes for
// title-bearing sources, the plain text otherwise.
func (f *Formatter) body(post *entity.Post) string {
	if post.Title == "" {
		return post.Text
	}
	switch f.formatting.TitleMode {
	case entity.TitleModeTitle:
		return post.Title
	case entity.TitleModeText:
		return post.Text
	default:
		if post.Text == "" {
			return post.Title
		}
		return post.Title + f.formatting.TitleSeparator + post.Text
	}
}

func (f *Formatter) repost(post *entity.Post, body string) string {
	header := strings.TrimSpace(fmt.Sprintf("%s %s @%s:",
		f.formatting.SourceName, f.formatting.RepostPrefix, post.Author.Username))
	return header + "\n" + body + "\n" + post.URL
}

func (f *Formatter) quote(post *entity.Post, body string) string {
	out := body
	if post.Quoted != nil && post.Quoted.URL != "" && !strings.Contains(body, post.Quoted.URL) {
		out += "\n" + post.Quoted.URL
	}
	if f.formatting.MoveURLToEnd && post.URL != "" && !strings.Contains(out, post.URL) {
		out += "\n" + post.URL
	}
	return out
}

func (f *Formatter) thread(post *entity.Post, body string) string {
	out := f.formatting.ThreadIndicator + " " + body
	if f.formatting.MoveURLToEnd && post.URL != "" && !strings.Contains(body, post.URL) {
		out += "\n" + post.URL
	}
	return out
}

func (f *Formatter) regular(post *entity.Post, body string) string {
	if f.formatting.MoveURLToEnd && post.URL != "" && !strings.Contains(body, post.URL) {
		return body + "\n" + post.URL
	}
	return body
}

// appendBeforeTrailingURL inserts extra just before the status's
// trailing URL, or at the end when there is none.
func appendBeforeTrailingURL(status, extra string) string {
	body, url := text.SplitTrailingURL(status)
	if url == "" {
		return status + " " + extra
	}
	return strings.TrimRight(body, "\n ") + " " + extra + "\n" + url
}
