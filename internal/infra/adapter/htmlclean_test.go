package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanHTML_DecodesEntitiesAndStripsTags(t *testing.T) {
	in := `<p>P&#345;&#237;li&#353; &amp; <b>tu&#269;n&#253;</b> text</p>`
	got := CleanHTML(in, 0)
	assert.Equal(t, "Příliš & tučný text", got)
}

func TestCleanHTML_BreakTagsBecomeNewlines(t *testing.T) {
	in := "line one<br>line two<br/>line three"
	got := CleanHTML(in, 0)
	assert.Equal(t, "line one\nline two\nline three", got)
}

func TestCleanHTML_RemovesScripts(t *testing.T) {
	in := `before<script>alert(1)</script>after`
	got := CleanHTML(in, 0)
	assert.NotContains(t, got, "alert")
}

func TestCleanHTML_ByteBudgetPreTruncates(t *testing.T) {
	in := "<p>" + strings.Repeat("word ", 100) + "</p><p>tail</p>"
	got := CleanHTML(in, 64)
	assert.NotContains(t, got, "tail")
	assert.Less(t, len(got), 80)
}

func TestTruncateAtTagBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "cuts at closing tag", in: "<p>abc</p><p>def", max: 12, want: "<p>abc</p>"},
		{name: "drops half-open tag", in: "<p>abc<stro", max: 11, want: "<p>abc"},
		{name: "plain text", in: "no tags here at all", max: 10, want: "no tags he"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncateAtTagBoundary(tt.in, tt.max))
		})
	}
}
