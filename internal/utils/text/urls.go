package text

import (
	"net/url"
	"regexp"
	"strings"
)

// URLPattern matches one URL token in free text.
var URLPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// mediaPageURL matches platform-internal photo/video page URLs and the
// #m quote marker; both are materialised as media and must not stay in
// the text.
var mediaPageURL = regexp.MustCompile(`https?://[^\s]*/(?:photo|video)/\d+(?:\?[^\s]*)?|https?://[^\s]+#m\b`)

// trackingParams are query parameters stripped from outbound URLs.
var trackingParams = map[string]bool{
	"fbclid": true, "gclid": true, "dclid": true, "msclkid": true,
	"igshid": true, "mc_cid": true, "mc_eid": true,
	"ref_src": true, "ref_url": true, "cmpid": true, "wt_mc": true,
}

// trackingAllowlist lists hosts whose query strings are never touched:
// shorteners encode the target in them and social hosts break without
// their parameters.
var trackingAllowlist = map[string]bool{
	"bit.ly": true, "t.co": true, "tinyurl.com": true, "goo.gl": true,
	"ow.ly": true, "buff.ly": true, "youtu.be": true,
	"twitter.com": true, "x.com": true, "bsky.app": true,
}

func isTrackingParam(name string) bool {
	if strings.HasPrefix(name, "utm_") {
		return true
	}
	return trackingParams[name]
}

// CleanTrackingParams removes tracking query parameters from every URL
// in the text, except on allow-listed hosts. extraAllow extends the
// built-in allow-list per source.
func CleanTrackingParams(text string, extraAllow []string) string {
	allow := trackingAllowlist
	if len(extraAllow) > 0 {
		allow = make(map[string]bool, len(trackingAllowlist)+len(extraAllow))
		for h := range trackingAllowlist {
			allow[h] = true
		}
		for _, h := range extraAllow {
			allow[strings.ToLower(h)] = true
		}
	}

	return URLPattern.ReplaceAllStringFunc(text, func(raw string) string {
		u, err := url.Parse(raw)
		if err != nil || u.RawQuery == "" {
			return raw
		}
		if allow[strings.ToLower(u.Hostname())] {
			return raw
		}
		q := u.Query()
		changed := false
		for name := range q {
			if isTrackingParam(name) {
				q.Del(name)
				changed = true
			}
		}
		if !changed {
			return raw
		}
		u.RawQuery = q.Encode()
		return u.String()
	})
}

// RewriteDomains rewrites URLs on any of the given source domains to the
// target host, keeping path and query.
func RewriteDomains(text string, domains []string, target string) string {
	if target == "" || len(domains) == 0 {
		return text
	}
	return URLPattern.ReplaceAllStringFunc(text, func(raw string) string {
		u, err := url.Parse(raw)
		if err != nil {
			return raw
		}
		host := strings.ToLower(u.Hostname())
		for _, d := range domains {
			d = strings.ToLower(d)
			if host == d || strings.HasSuffix(host, "."+d) {
				u.Host = target
				return u.String()
			}
		}
		return raw
	})
}

// DropTruncatedURLs removes URLs that upstream visibly cut off with a
// trailing ellipsis; they would 404 if kept.
func DropTruncatedURLs(text string) string {
	out := URLPattern.ReplaceAllStringFunc(text, func(raw string) string {
		if strings.HasSuffix(raw, Ellipsis) || strings.HasSuffix(raw, "...") {
			return ""
		}
		return raw
	})
	return collapseSpaces(out)
}

// DedupeTrailingURLs collapses a URL repeated at the tail of the text
// into a single occurrence.
func DedupeTrailingURLs(text string) string {
	trimmed := strings.TrimRight(text, " \n")
	for {
		body, last := SplitTrailingURL(trimmed)
		if last == "" {
			return trimmed
		}
		prevBody, prev := SplitTrailingURL(strings.TrimRight(body, " \n"))
		if prev == "" || canonicalURL(prev) != canonicalURL(last) {
			return trimmed
		}
		trimmed = strings.TrimRight(prevBody, " \n") + "\n" + last
		trimmed = strings.TrimLeft(trimmed, "\n")
	}
}

// StripMediaPageURLs removes /photo/N, /video/N and #m marker URLs.
func StripMediaPageURLs(text string) string {
	return collapseSpaces(mediaPageURL.ReplaceAllString(text, ""))
}

func canonicalURL(raw string) string {
	return strings.TrimRight(strings.ToLower(raw), "/")
}

var multiSpace = regexp.MustCompile(`[ \t]{2,}`)
var multiNewline = regexp.MustCompile(`\n{3,}`)

func collapseSpaces(s string) string {
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.Join(lines, "\n")
}
