package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"collabtext/diff"
)

func TestDiffMarkupSurvives(t *testing.T) {
	markup := diff.String("a <b> c", "a & c d")
	assert.Equal(t, markup, Diff(markup))
}

func TestSanitizeStripsDisallowed(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"attributes dropped", `<ins onclick="x()">a</ins>`, "<ins>a</ins>"},
		{"unknown tag removed", `<b>bold</b> <del>gone</del>`, "bold <del>gone</del>"},
		{"script body removed", `x<script>alert(1)</script>y`, "xy"},
		{"unbalanced closed", `<ins>open`, "<ins>open</ins>"},
		{"stray close ignored", `text</del>`, "text"},
		{"comment removed", `a<!-- hi -->b`, "ab"},
		{"text escaped", `1 &lt; 2`, "1 &lt; 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Diff(tt.in))
		})
	}
}
