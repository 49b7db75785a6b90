// Package format builds the final status text for a normalised post.
// One universal implementation is parameterised per platform; the
// platform wrappers only supply default configs.
package format

import "mirrorpost/internal/domain/entity"

// Defaults holds the per-platform formatting defaults applied when a
// source config leaves a field empty.
type Defaults struct {
	RepostPrefix    string
	ThreadIndicator string
	ReadMoreText    string
	MaxLength       int
	MoveURLToEnd    bool
}

// DefaultsFor returns the platform wrapper defaults.
func DefaultsFor(platform entity.Platform) Defaults {
	switch platform {
	case entity.PlatformTwitter:
		return Defaults{
			RepostPrefix:    "🔁",
			ThreadIndicator: "🧵",
			ReadMoreText:    "(1/…)",
			MaxLength:       500,
			MoveURLToEnd:    true,
		}
	case entity.PlatformBluesky:
		return Defaults{
			RepostPrefix:    "🔁",
			ThreadIndicator: "🧵",
			MaxLength:       500,
			MoveURLToEnd:    true,
		}
	case entity.PlatformYouTube:
		return Defaults{
			RepostPrefix: "📺",
			MaxLength:    500,
			MoveURLToEnd: true,
		}
	default:
		return Defaults{
			RepostPrefix: "🔁",
			MaxLength:    500,
			MoveURLToEnd: true,
		}
	}
}

// effective merges the source config over the platform defaults.
func effective(cfg *entity.SourceConfig) entity.FormattingConfig {
	out := cfg.Formatting
	defaults := DefaultsFor(cfg.Platform)
	if out.RepostPrefix == "" {
		out.RepostPrefix = defaults.RepostPrefix
	}
	if out.ThreadIndicator == "" {
		out.ThreadIndicator = defaults.ThreadIndicator
	}
	if out.ReadMoreText == "" {
		out.ReadMoreText = defaults.ReadMoreText
	}
	if out.MaxLength == 0 {
		out.MaxLength = defaults.MaxLength
	}
	if out.TitleMode == "" {
		out.TitleMode = entity.TitleModeCombined
	}
	if out.TitleSeparator == "" {
		out.TitleSeparator = "\n\n"
	}
	return out
}
