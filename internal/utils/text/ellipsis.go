package text

import "strings"

var ellipsisReplacer = strings.NewReplacer(
	"....", Ellipsis,
	"...", Ellipsis,
)

// NormalizeEllipsis folds ASCII three-dot runs into the single-rune
// ellipsis and collapses doubled ellipses produced by upstream
// truncation plus our own trimming.
func NormalizeEllipsis(s string) string {
	s = ellipsisReplacer.Replace(s)
	for strings.Contains(s, Ellipsis+Ellipsis) {
		s = strings.ReplaceAll(s, Ellipsis+Ellipsis, Ellipsis)
	}
	s = strings.ReplaceAll(s, Ellipsis+" "+Ellipsis, Ellipsis)
	return s
}
