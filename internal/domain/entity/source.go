package entity

import (
	"fmt"
	"time"
)

// Priority controls how often a source is polled and how its webhook jobs
// are batched. The two concerns share the field but are independent: the
// scheduler maps priority to a poll interval, the queue processor maps it
// to immediate-versus-batched handling.
type Priority string

// Source priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Interval returns the poll interval the scheduler derives from the
// priority.
func (p Priority) Interval() time.Duration {
	switch p {
	case PriorityHigh:
		return 5 * time.Minute
	case PriorityLow:
		return 55 * time.Minute
	default:
		return 20 * time.Minute
	}
}

// TrimStrategy selects how over-length status text is shortened.
type TrimStrategy string

// Trim strategies.
const (
	TrimSmart TrimStrategy = "smart"
	TrimWord  TrimStrategy = "word"
	TrimHard  TrimStrategy = "hard"
)

// MentionsMode selects how @mentions in post text are transformed.
type MentionsMode string

// Mention transformation modes.
const (
	MentionsNone         MentionsMode = "none"
	MentionsPrefix       MentionsMode = "prefix"
	MentionsSuffix       MentionsMode = "suffix"
	MentionsDomainSuffix MentionsMode = "domain_suffix"
)

// TitleMode selects what title-bearing sources (RSS, YouTube) publish.
type TitleMode string

// Title modes.
const (
	TitleModeText     TitleMode = "text"
	TitleModeTitle    TitleMode = "title"
	TitleModeCombined TitleMode = "combined"
)

// SourceParams holds the platform-specific half of a source config.
// Only the fields matching the source's platform are consulted.
type SourceParams struct {
	// FeedURL is the feed location for RSS sources and custom-feed
	// Bluesky sources.
	FeedURL string `yaml:"feed_url"`
	// Handle is the upstream account name (twitter username, bluesky
	// handle).
	Handle string `yaml:"handle"`
	// BotID maps brand-named webhook triggers onto this source.
	BotID string `yaml:"bot_id"`

	// ChannelID is the explicit YouTube channel identifier (UC…).
	// Handle-to-id resolution is broken upstream and not supported.
	ChannelID     string `yaml:"channel_id"`
	ExcludeShorts bool   `yaml:"exclude_shorts"`

	// FeedCreator and FeedRKey identify a Bluesky feed generator when
	// FeedURL is not given.
	FeedCreator    string `yaml:"feed_creator"`
	FeedRKey       string `yaml:"feed_rkey"`
	IncludeThreads bool   `yaml:"include_threads"`

	// ByteBudget bounds how much raw feed content is HTML-cleaned per
	// item. Zero means the platform default.
	ByteBudget int `yaml:"byte_budget"`
}

// FormattingConfig parameterises the formatter for one source.
type FormattingConfig struct {
	MaxLength     int          `yaml:"max_length" validate:"omitempty,min=40"`
	TrimStrategy  TrimStrategy `yaml:"trim_strategy" validate:"omitempty,oneof=smart word hard"`
	TrimTolerance int          `yaml:"trim_tolerance" validate:"omitempty,min=0,max=100"`

	SourceName      string    `yaml:"source_name"`
	RepostPrefix    string    `yaml:"repost_prefix"`
	ThreadIndicator string    `yaml:"thread_indicator"`
	ReadMoreText    string    `yaml:"read_more_text"`
	MoveURLToEnd    bool      `yaml:"move_url_to_end"`
	TitleMode       TitleMode `yaml:"title_mode" validate:"omitempty,oneof=text title combined"`
	TitleSeparator  string    `yaml:"title_separator"`

	// URLRewriteDomains lists source domains whose URLs are rewritten to
	// URLRewriteTarget (e.g. twitter.com, x.com → a chosen frontend).
	URLRewriteDomains []string `yaml:"url_rewrite_domains"`
	URLRewriteTarget  string   `yaml:"url_rewrite_target"`
}

// MentionsConfig parameterises mention rewriting.
type MentionsConfig struct {
	Mode MentionsMode `yaml:"mode" validate:"omitempty,oneof=none prefix suffix domain_suffix"`
	// URL is the profile URL base for prefix/suffix modes.
	URL string `yaml:"url"`
	// Domain is appended in domain_suffix mode (@user@domain).
	Domain string `yaml:"domain"`
}

// FilterRule is one node of a content-filter rule tree. A bare YAML
// scalar is a case-insensitive substring; maps select literal, regex or
// the boolean combinators.
type FilterRule struct {
	Literal string
	Regex   string
	Flags   string
	And     []FilterRule
	Or      []FilterRule
	Not     []FilterRule
}

// UnmarshalYAML accepts either a scalar (treated as a literal) or a map
// naming the rule kind.
func (r *FilterRule) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		r.Literal = s
		return nil
	}

	var node struct {
		Literal string       `yaml:"literal"`
		Regex   string       `yaml:"regex"`
		Pattern string       `yaml:"pattern"`
		Flags   string       `yaml:"flags"`
		And     []FilterRule `yaml:"and"`
		Or      []FilterRule `yaml:"or"`
		Not     []FilterRule `yaml:"not"`
	}
	if err := unmarshal(&node); err != nil {
		return fmt.Errorf("filter rule: %w", err)
	}
	r.Literal = node.Literal
	if r.Literal == "" && node.Regex == "" && node.Pattern != "" {
		r.Literal = node.Pattern
	}
	r.Regex = node.Regex
	r.Flags = node.Flags
	r.And = node.And
	r.Or = node.Or
	r.Not = node.Not
	return nil
}

// FilteringConfig holds skip flags and the banned/required rule trees.
type FilteringConfig struct {
	SkipReplies  bool `yaml:"skip_replies"`
	SkipRetweets bool `yaml:"skip_retweets"`
	SkipQuotes   bool `yaml:"skip_quotes"`

	Banned   []FilterRule `yaml:"banned"`
	Required []FilterRule `yaml:"required"`
}

// Replacement is one ordered post-format text substitution.
type Replacement struct {
	Pattern     string `yaml:"pattern" validate:"required"`
	Replacement string `yaml:"replacement"`
	Flags       string `yaml:"flags"`
	Literal     bool   `yaml:"literal"`
}

// ProcessingConfig holds per-source processing switches.
type ProcessingConfig struct {
	// ScraperEnabled turns on scraper-backed tiers for twitter sources.
	ScraperEnabled bool          `yaml:"scraper_enabled"`
	Replacements   []Replacement `yaml:"replacements"`
	// TrackingAllowlist adds domains whose query parameters are never
	// stripped, on top of the built-in shortener allow-list.
	TrackingAllowlist []string `yaml:"tracking_allowlist"`
}

// SchedulingConfig holds per-source scheduling overrides.
type SchedulingConfig struct {
	// SkipHours lists UTC hours (0–23) during which the source is not
	// polled (upstream maintenance windows).
	SkipHours []int `yaml:"skip_hours" validate:"dive,min=0,max=23"`
}

// SourceConfig is the fully merged configuration of one source
// (global → platform defaults → source file).
type SourceConfig struct {
	ID       string   `yaml:"id" validate:"required"`
	Platform Platform `yaml:"platform" validate:"required,oneof=twitter bluesky rss youtube"`
	Enabled  bool     `yaml:"enabled"`
	Priority Priority `yaml:"priority" validate:"omitempty,oneof=high normal low"`

	Source        SourceParams `yaml:"source_params"`
	TargetAccount string       `yaml:"target_account" validate:"required"`

	Formatting FormattingConfig `yaml:"formatting"`
	Filtering  FilteringConfig  `yaml:"filtering"`
	Processing ProcessingConfig `yaml:"processing"`
	Mentions   MentionsConfig   `yaml:"mentions"`
	Scheduling SchedulingConfig `yaml:"scheduling"`

	// RSSSourceType distinguishes feed flavours that need special
	// handling (e.g. "atom").
	RSSSourceType string `yaml:"rss_source_type"`
}

// Validate applies the cross-field rules the struct tags cannot express.
func (c *SourceConfig) Validate() error {
	if c.Priority == "" {
		c.Priority = PriorityNormal
	}
	switch c.Platform {
	case PlatformYouTube:
		if c.Source.ChannelID == "" {
			return &ConfigError{
				Source: c.ID,
				Reason: "youtube sources require source_params.channel_id; handle resolution is not supported",
			}
		}
	case PlatformRSS:
		if c.Source.FeedURL == "" {
			return &ConfigError{Source: c.ID, Reason: "rss sources require source_params.feed_url"}
		}
	case PlatformTwitter, PlatformBluesky:
		if c.Source.Handle == "" {
			return &ConfigError{Source: c.ID, Reason: "source_params.handle is required"}
		}
	}
	return nil
}

// InSkipWindow reports whether t falls inside a configured skip hour.
func (c *SourceConfig) InSkipWindow(t time.Time) bool {
	hour := t.UTC().Hour()
	for _, h := range c.Scheduling.SkipHours {
		if h == hour {
			return true
		}
	}
	return false
}
