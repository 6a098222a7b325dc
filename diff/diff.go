// Package diff computes word-level differences between two versions of a
// text for the history view.
//
// Words are paired first where they occur exactly once in both texts, then
// each pair is extended forwards and backwards over equal neighbours. Words
// left unpaired in the new text are insertions; words left unpaired in the
// old text are deletions. The start and end of both texts act as an extra
// pair so identical texts match completely even without unique words.
package diff

import (
	"regexp"
	"strings"
)

// Class says how a token relates the two texts.
type Class int

const (
	Unchanged Class = iota
	Inserted
	Deleted
)

func (c Class) String() string {
	switch c {
	case Inserted:
		return "inserted"
	case Deleted:
		return "deleted"
	}
	return "unchanged"
}

// Token is one word of the output together with the whitespace that
// followed it in its source text.
type Token struct {
	Value string
	Space string
	Class Class
}

var whitespace = regexp.MustCompile(`\s+`)

type word struct {
	value string
	space string
}

func tokenize(s string) []word {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	values := whitespace.Split(s, -1)
	spaces := whitespace.FindAllString(s, -1)
	words := make([]word, len(values))
	for i, v := range values {
		words[i].value = v
		if i < len(spaces) {
			words[i].space = spaces[i]
		}
	}
	return words
}

// pairing holds the cross references between the two word sequences;
// -1 marks an unpaired word.
type pairing struct {
	oldRef []int // old index -> new index
	newRef []int // new index -> old index
}

func pair(oldWords, newWords []word) pairing {
	p := pairing{oldRef: make([]int, len(oldWords)), newRef: make([]int, len(newWords))}
	for i := range p.oldRef {
		p.oldRef[i] = -1
	}
	for i := range p.newRef {
		p.newRef[i] = -1
	}

	oldRows := make(map[string][]int)
	for i, w := range oldWords {
		oldRows[w.value] = append(oldRows[w.value], i)
	}
	newRows := make(map[string][]int)
	for i, w := range newWords {
		newRows[w.value] = append(newRows[w.value], i)
	}
	for value, rows := range newRows {
		if old := oldRows[value]; len(rows) == 1 && len(old) == 1 {
			p.newRef[rows[0]] = old[0]
			p.oldRef[old[0]] = rows[0]
		}
	}

	// forward extension; i == -1 is the start-of-text pair
	for i := -1; i < len(newWords)-1; i++ {
		row := -1
		if i >= 0 {
			if p.newRef[i] < 0 {
				continue
			}
			row = p.newRef[i]
		}
		j := row + 1
		if p.newRef[i+1] < 0 && j < len(oldWords) && p.oldRef[j] < 0 && newWords[i+1].value == oldWords[j].value {
			p.newRef[i+1] = j
			p.oldRef[j] = i + 1
		}
	}

	// backward extension; i == len(newWords) is the end-of-text pair
	for i := len(newWords); i > 0; i-- {
		row := len(oldWords)
		if i < len(newWords) {
			if p.newRef[i] < 0 {
				continue
			}
			row = p.newRef[i]
		}
		j := row - 1
		if p.newRef[i-1] < 0 && j >= 0 && p.oldRef[j] < 0 && newWords[i-1].value == oldWords[j].value {
			p.newRef[i-1] = j
			p.oldRef[j] = i - 1
		}
	}
	return p
}

// Compare returns the tokens of modified in reading order, with words
// removed from original interleaved where they used to be.
func Compare(original, modified string) []Token {
	oldWords := tokenize(original)
	newWords := tokenize(modified)
	p := pair(oldWords, newWords)

	out := make([]Token, 0, len(oldWords)+len(newWords))
	cursor := 0
	// flush emits old words up to the next one that still has to be matched
	// against a new word at or after index i.
	flush := func(i int) {
		for cursor < len(oldWords) {
			ref := p.oldRef[cursor]
			switch {
			case ref < 0:
				out = append(out, Token{Value: oldWords[cursor].value, Space: oldWords[cursor].space, Class: Deleted})
			case ref < i:
				// matched to a word already emitted
			default:
				return
			}
			cursor++
		}
	}

	for i, w := range newWords {
		flush(i)
		if p.newRef[i] < 0 {
			out = append(out, Token{Value: w.value, Space: w.space, Class: Inserted})
			continue
		}
		if p.newRef[i] == cursor {
			cursor++
		}
		out = append(out, Token{Value: w.value, Space: w.space, Class: Unchanged})
	}
	flush(len(newWords))
	return out
}

// Count returns how many tokens have the given class.
func Count(tokens []Token, c Class) int {
	n := 0
	for _, t := range tokens {
		if t.Class == c {
			n++
		}
	}
	return n
}
