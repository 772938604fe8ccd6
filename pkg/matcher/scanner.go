package matcher

import (
	"strings"
	"unicode"
	"unicode/utf8"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/kittclouds/genekit/pkg/alias"
)

// Mention is an alias found in free text.
type Mention struct {
	Start   int      `json:"start"` // byte offset
	End     int      `json:"end"`
	Text    string   `json:"text"`
	Targets []string `json:"targets"`
}

// Scanner finds every alias of an index in free text, such as a pasted
// gene list or an abstract, and resolves the hits through a matcher.
// A single Aho-Corasick automaton over all aliases does the scan.
type Scanner struct {
	ac       ahocorasick.AhoCorasick
	patterns []string
	matcher  Matcher
	fold     bool
}

// NewScanner compiles the aliases of x. Hits are resolved with m, which
// should already have its targets set; hits without targets are dropped.
func NewScanner(x *alias.Index, m Matcher) *Scanner {
	patterns := x.Aliases()
	s := &Scanner{patterns: patterns, matcher: m, fold: x.IgnoreCase()}
	if len(patterns) == 0 {
		return s
	}
	// Folded indexes hold lower-cased keys; Scan lower-cases the text the
	// same way, so the automaton itself stays case sensitive.
	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		MatchOnlyWholeWords: true,
		MatchKind:           ahocorasick.LeftMostLongestMatch,
	})
	s.ac = builder.Build(patterns)
	return s
}

// Len returns the number of compiled aliases.
func (s *Scanner) Len() int { return len(s.patterns) }

// Scan returns the resolved mentions in text order. Overlapping aliases
// resolve to the leftmost longest.
func (s *Scanner) Scan(text string) ([]Mention, error) {
	if len(s.patterns) == 0 {
		return nil, nil
	}
	haystack, offsets := text, []int(nil)
	if s.fold {
		haystack, offsets = foldText(text)
	}
	var out []Mention
	for _, hit := range s.ac.FindAll(haystack) {
		start, end := hit.Start(), hit.End()
		if offsets != nil {
			start, end = offsets[start], offsets[end]
		}
		surface := text[start:end]
		targets, err := s.matcher.Match(surface)
		if err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			continue
		}
		out = append(out, Mention{
			Start:   start,
			End:     end,
			Text:    surface,
			Targets: targets,
		})
	}
	return out, nil
}

// foldText lower-cases text rune by rune, exactly as strings.ToLower does
// for index keys. offsets[i] is the byte offset in text of the rune that
// produced folded byte i; offsets[len(folded)] is len(text).
func foldText(text string) (string, []int) {
	var b strings.Builder
	b.Grow(len(text))
	offsets := make([]int, 0, len(text)+1)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		n := b.Len()
		b.WriteRune(unicode.ToLower(r))
		for range b.Len() - n {
			offsets = append(offsets, i)
		}
		i += size
	}
	return b.String(), append(offsets, len(text))
}

// Genes returns the distinct targets mentioned in text, first mention
// first.
func (s *Scanner) Genes(text string) ([]string, error) {
	mentions, err := s.Scan(text)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]struct{})
	for _, m := range mentions {
		out = appendUnique(out, seen, m.Targets...)
	}
	return out, nil
}

// SplitList splits a pasted identifier list on whitespace, commas and
// semicolons.
func SplitList(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ',', ';':
			return true
		}
		return false
	})
}
