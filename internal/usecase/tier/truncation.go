package tier

import (
	"regexp"
	"strings"
	"unicode"
)

// truncationLengthFloor is the payload length above which a missing
// terminator is treated as evidence of upstream truncation.
const truncationLengthFloor = 257

// Word endings that a sentence essentially never stops on: Czech and
// English prepositions/conjunctions the webhook is known to cut after.
var nonTerminatingWords = map[string]bool{
	"a": true, "i": true, "k": true, "o": true, "s": true, "u": true,
	"v": true, "z": true, "na": true, "do": true, "po": true, "za": true,
	"se": true, "ve": true, "že": true, "ke": true, "od": true, "pro": true,
	"and": true, "or": true, "the": true, "of": true, "to": true, "in": true,
}

// The end-of-string anchors below use \z (end of text). Callers trim
// trailing spaces and newlines before matching against them.
var (
	shortenedURLPattern   = regexp.MustCompile(`https?://t\.co/\w+`)
	trailingShortURL      = regexp.MustCompile(`https?://t\.co/\w*…?\s*\z`)
	trailingURLPattern    = regexp.MustCompile(`https?://\S+\z`)
	trailingHashtag       = regexp.MustCompile(`#\w+\z`)
	trailingMention       = regexp.MustCompile(`@\w+\z`)
	trailingBareDigit     = regexp.MustCompile(`\s\d+\z`)
	sentencePunctuation   = ".!?…:;\")»“”"
	truncatedShortenedURL = regexp.MustCompile(`https?://t\.co/\w*…`)
)

// LikelyTruncated reports whether the webhook payload text looks cut
// off upstream.
func LikelyTruncated(text string) bool {
	trimmed := strings.TrimRight(text, " \n")
	if trimmed == "" {
		return false
	}

	if strings.Contains(trimmed, "…") || strings.Contains(trimmed, "...") {
		return true
	}
	if truncatedShortenedURL.MatchString(trimmed) {
		return true
	}

	// Drop a trailing shortened URL before judging the tail.
	body := strings.TrimRight(trailingShortURL.ReplaceAllString(trimmed, ""), " \n")

	if len([]rune(trimmed)) >= truncationLengthFloor && !hasNaturalTerminator(body) {
		return true
	}
	if trailingBareDigit.MatchString(body) {
		return true
	}
	words := strings.Fields(body)
	if len(words) > 1 && nonTerminatingWords[strings.ToLower(words[len(words)-1])] {
		return true
	}
	return false
}

// hasNaturalTerminator reports whether the text tail carries any
// evidence that the sentence actually ended.
func hasNaturalTerminator(text string) bool {
	if text == "" {
		return false
	}
	runes := []rune(text)
	last := runes[len(runes)-1]

	if strings.ContainsRune(sentencePunctuation, last) {
		return true
	}
	if isEmoji(last) {
		return true
	}
	if trailingHashtag.MatchString(text) || trailingMention.MatchString(text) {
		return true
	}
	return trailingURLPattern.MatchString(text)
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case unicode.Is(unicode.So, r):
		return true
	}
	return false
}

// CountShortenedLinks counts t.co links in the text.
func CountShortenedLinks(text string) int {
	return len(shortenedURLPattern.FindAllString(text, -1))
}
