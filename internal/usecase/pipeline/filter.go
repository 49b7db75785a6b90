package pipeline

import (
	"regexp"
	"strings"

	"mirrorpost/internal/domain/entity"
)

// MatchesRule evaluates one filter rule tree against the post text.
// Literals are case-insensitive substrings; regex rules honour their
// flags; and/or/not combine child rules.
func MatchesRule(rule entity.FilterRule, text string) bool {
	switch {
	case len(rule.And) > 0:
		for _, child := range rule.And {
			if !MatchesRule(child, text) {
				return false
			}
		}
		return true
	case len(rule.Or) > 0:
		for _, child := range rule.Or {
			if MatchesRule(child, text) {
				return true
			}
		}
		return false
	case len(rule.Not) > 0:
		for _, child := range rule.Not {
			if MatchesRule(child, text) {
				return false
			}
		}
		return true
	case rule.Regex != "":
		re, err := compileRule(rule.Regex, rule.Flags)
		if err != nil {
			// A broken pattern must never let a post through a ban list.
			return true
		}
		return re.MatchString(text)
	case rule.Literal != "":
		return strings.Contains(strings.ToLower(text), strings.ToLower(rule.Literal))
	default:
		return false
	}
}

// shouldSkipByRules applies the banned/required rule lists: a post is
// skipped when any banned rule matches or when a non-empty required
// list has no match.
func shouldSkipByRules(filtering entity.FilteringConfig, text string) (bool, string) {
	for _, rule := range filtering.Banned {
		if MatchesRule(rule, text) {
			return true, "banned_content"
		}
	}
	if len(filtering.Required) > 0 {
		for _, rule := range filtering.Required {
			if MatchesRule(rule, text) {
				return false, ""
			}
		}
		return true, "required_content_missing"
	}
	return false, ""
}

// shouldSkipByKind applies the per-kind skip switches.
func shouldSkipByKind(filtering entity.FilteringConfig, post *entity.Post) (bool, string) {
	switch {
	case filtering.SkipReplies && post.IsReply:
		return true, "reply"
	case filtering.SkipRetweets && post.IsRepost:
		return true, "retweet"
	case filtering.SkipQuotes && post.IsQuote:
		return true, "quote"
	}
	return false, ""
}

func compileRule(pattern, flags string) (*regexp.Regexp, error) {
	var prefix string
	if flags != "" {
		prefix = "(?" + flags + ")"
	}
	return regexp.Compile(prefix + pattern)
}

// applyReplacements runs the ordered replacement list over the text.
func applyReplacements(text string, replacements []entity.Replacement) string {
	for _, r := range replacements {
		if r.Literal {
			text = strings.ReplaceAll(text, r.Pattern, r.Replacement)
			continue
		}
		re, err := compileRule(r.Pattern, r.Flags)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, r.Replacement)
	}
	return text
}
