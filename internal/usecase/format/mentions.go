package format

import (
	"regexp"
	"strings"

	"mirrorpost/internal/domain/entity"
)

// mentionPattern matches @user at a word start. The leading capture
// group stands in for a negative look-behind on [a-zA-Z0-9.]: it keeps
// email-like addresses (name@example.com) untouched.
var mentionPattern = regexp.MustCompile(`(^|[^a-zA-Z0-9.])@([A-Za-z0-9_.]+)`)

// TransformMentions rewrites @mentions according to the configured mode.
func TransformMentions(body string, cfg entity.MentionsConfig) string {
	if cfg.Mode == "" || cfg.Mode == entity.MentionsNone {
		return body
	}

	return mentionPattern.ReplaceAllStringFunc(body, func(match string) string {
		sub := mentionPattern.FindStringSubmatch(match)
		lead, user := sub[1], sub[2]

		switch cfg.Mode {
		case entity.MentionsPrefix:
			return lead + strings.TrimRight(cfg.URL, "/") + "/" + user
		case entity.MentionsSuffix:
			return lead + "@" + user + " (" + strings.TrimRight(cfg.URL, "/") + "/" + user + ")"
		case entity.MentionsDomainSuffix:
			return lead + "@" + user + "@" + cfg.Domain
		default:
			return match
		}
	})
}
