package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values(tokens []Token, c Class) []string {
	var out []string
	for _, t := range tokens {
		if t.Class == c {
			out = append(out, t.Value)
		}
	}
	return out
}

// rebuild joins the tokens that belong to one side of the diff.
func rebuild(tokens []Token, skip Class) string {
	var b strings.Builder
	for _, t := range tokens {
		if t.Class != skip {
			b.WriteString(t.Value)
			b.WriteString(t.Space)
		}
	}
	return b.String()
}

func TestIdenticalTextsHaveNoChanges(t *testing.T) {
	for _, text := range []string{
		"",
		"word",
		"the quick brown fox",
		"a a a a",
		"the cat saw the dog and the cat ran",
		"  leading\tand trailing\n\nspace  ",
	} {
		tokens := Compare(text, text)
		assert.Zero(t, Count(tokens, Inserted), text)
		assert.Zero(t, Count(tokens, Deleted), text)
		assert.Equal(t, strings.TrimSpace(text), rebuild(tokens, Deleted), text)
	}
}

func TestEmptySides(t *testing.T) {
	tokens := Compare("", "a b")
	assert.Equal(t, []string{"a", "b"}, values(tokens, Inserted))
	assert.Zero(t, Count(tokens, Deleted))

	tokens = Compare("a b", "")
	assert.Equal(t, []string{"a", "b"}, values(tokens, Deleted))
	assert.Zero(t, Count(tokens, Inserted))

	assert.Empty(t, Compare("   ", "\n"))
}

func TestReplacementReadingOrder(t *testing.T) {
	tokens := Compare("a b c", "a x c")
	assert.Equal(t, []Token{
		{Value: "a", Space: " ", Class: Unchanged},
		{Value: "b", Space: " ", Class: Deleted},
		{Value: "x", Space: " ", Class: Inserted},
		{Value: "c", Space: "", Class: Unchanged},
	}, tokens)
}

func TestRepeatedWordsExtendFromUniqueAnchors(t *testing.T) {
	tokens := Compare("the cat and the dog", "the cat and the bird")
	assert.Equal(t, []string{"dog"}, values(tokens, Deleted))
	assert.Equal(t, []string{"bird"}, values(tokens, Inserted))
	assert.Equal(t, "the cat and the ", rebuild(tokens, Inserted)[:16])
}

func TestAdjacentRepeatedWordsBackwardExtension(t *testing.T) {
	tokens := Compare("go go now", "go go go now")
	require.Equal(t, 1, Count(tokens, Inserted))
	assert.Zero(t, Count(tokens, Deleted))
	assert.Equal(t, "go go go now", rebuild(tokens, Deleted))

	tokens = Compare("x y y y z", "w y y z")
	assert.Equal(t, []string{"x", "y"}, values(tokens, Deleted))
	assert.Equal(t, []string{"w"}, values(tokens, Inserted))
	assert.Equal(t, "w y y z", rebuild(tokens, Deleted))
	assert.Equal(t, "x y y y z", rebuild(tokens, Inserted))
}

func TestDeletionsStayWhereTheyWere(t *testing.T) {
	tokens := Compare("one two three four five", "one three five six")
	var order []string
	for _, tok := range tokens {
		order = append(order, tok.Class.String()[:1]+":"+tok.Value)
	}
	assert.Equal(t, []string{"u:one", "d:two", "u:three", "d:four", "u:five", "i:six"}, order)
	assert.Equal(t, "one two three four five", strings.TrimSpace(rebuild(tokens, Inserted)))
}

func TestMovedWord(t *testing.T) {
	tokens := Compare("alpha beta gamma", "gamma alpha beta")
	assert.Zero(t, Count(tokens, Inserted))
	assert.Zero(t, Count(tokens, Deleted))
	assert.Len(t, tokens, 3)
}

func TestWhitespacePreserved(t *testing.T) {
	tokens := Compare("a\n\nb", "a\n\nb  c")
	assert.Equal(t, "a\n\nb  c", rebuild(tokens, Deleted))
}

func TestMarkupEscapes(t *testing.T) {
	out := String("<b>old</b> same", `<script>alert("x")</script> same`)
	assert.Equal(t, `<del>&lt;b&gt;old&lt;/b&gt; </del><ins>&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt; </ins>same`, out)
	assert.Equal(t, "<ins>a </ins><ins>b</ins>", String("", "a b"))
	assert.Equal(t, "a b", String("a b", "a b"))
}
