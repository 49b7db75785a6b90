package adapter

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	lineBreakTags = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</li>`)
	anyTag        = regexp.MustCompile(`<[^>]*>`)
	spaceRuns     = regexp.MustCompile(`[ \t\x{00A0}]+`)
	newlineRuns   = regexp.MustCompile(`\n{3,}`)
)

// CleanHTML turns feed HTML into plain text: entities decoded (including
// localised diacritics), tags stripped, whitespace normalised. Content
// above the byte budget is pre-truncated at a tag boundary first so a
// pathological feed cannot balloon memory.
func CleanHTML(content string, byteBudget int) string {
	if byteBudget > 0 && len(content) > byteBudget {
		content = truncateAtTagBoundary(content, byteBudget)
	}

	content = lineBreakTags.ReplaceAllString(content, "\n")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		// Parser refused the fragment; fall back to a regex strip.
		content = anyTag.ReplaceAllString(content, "")
		content = html.UnescapeString(content)
	} else {
		doc.Find("script, style").Remove()
		content = doc.Text()
	}

	content = spaceRuns.ReplaceAllString(content, " ")
	lines := strings.Split(content, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	content = strings.Join(lines, "\n")
	content = newlineRuns.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// truncateAtTagBoundary cuts content to at most budget bytes, backing up
// to the last closing tag or open-tag boundary so the parser never sees
// half a tag.
func truncateAtTagBoundary(content string, budget int) string {
	cut := content[:budget]
	if gt := strings.LastIndex(cut, ">"); gt >= 0 {
		if lt := strings.LastIndex(cut, "<"); lt > gt {
			// A tag was opened after the last close; drop it.
			return cut[:lt]
		}
		return cut[:gt+1]
	}
	if lt := strings.LastIndex(cut, "<"); lt >= 0 {
		return cut[:lt]
	}
	return cut
}
