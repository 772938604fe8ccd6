// Package matcher resolves gene identifiers to a caller-chosen target
// namespace through alias indexes.
//
// A matcher is first given its targets, the ids downstream code wants back.
// Match then returns every target sharing an alias group with the query.
// Matchers compose: Sequence tries its members in order and Joined merges
// the groups of several sources before matching.
package matcher

import (
	"errors"
	"strings"
	"sync"

	"github.com/kittclouds/genekit/pkg/alias"
)

// ErrIndexInvalidated is returned by every matcher whose alias index was
// invalidated after the matcher was built.
var ErrIndexInvalidated = errors.New("matcher: alias index invalidated")

// Status classifies a query.
type Status int

const (
	Unknown Status = iota
	Unique
	Ambiguous
)

func (s Status) String() string {
	switch s {
	case Unique:
		return "unique"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of Resolve. Target is set only when Status is
// Unique; Candidates holds every match.
type Resolution struct {
	Status     Status   `json:"status"`
	Target     string   `json:"target,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// Explanation names the group that linked a query to its targets.
type Explanation struct {
	Matcher string      `json:"matcher"`
	Group   alias.Group `json:"group"`
	Targets []string    `json:"targets"`
}

// Matcher maps queries onto targets. Unknown queries produce empty
// results; errors are reserved for invalidated indexes and failed loads.
type Matcher interface {
	SetTargets(targets []string) error
	Match(q string) ([]string, error)
	// UMatch returns the sole match. Ambiguous and unknown queries both
	// report false; use Resolve to tell them apart.
	UMatch(q string) (string, bool, error)
	Explain(q string) ([]Explanation, error)
	Resolve(q string) (Resolution, error)
}

func umatch(m Matcher, q string) (string, bool, error) {
	ms, err := m.Match(q)
	if err != nil || len(ms) != 1 {
		return "", false, err
	}
	return ms[0], true, nil
}

func resolve(m Matcher, q string) (Resolution, error) {
	ms, err := m.Match(q)
	if err != nil {
		return Resolution{}, err
	}
	switch len(ms) {
	case 0:
		return Resolution{Status: Unknown}, nil
	case 1:
		return Resolution{Status: Unique, Target: ms[0], Candidates: ms}, nil
	default:
		return Resolution{Status: Ambiguous, Candidates: ms}, nil
	}
}

// MatchAll matches every query, in order.
func MatchAll(m Matcher, queries []string) ([][]string, error) {
	out := make([][]string, len(queries))
	for i, q := range queries {
		ms, err := m.Match(q)
		if err != nil {
			return nil, err
		}
		out[i] = ms
	}
	return out, nil
}

// appendUnique appends the items of add not yet in seen.
func appendUnique(dst []string, seen map[string]struct{}, add ...string) []string {
	for _, s := range add {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}

// =============================================================================
// Direct
// =============================================================================

// Direct matches a query to identical targets.
type Direct struct {
	ignoreCase bool

	mu      sync.RWMutex
	targets map[string][]string
}

// NewDirect returns an identity matcher, comparing case-insensitively when
// ignoreCase is set.
func NewDirect(ignoreCase bool) *Direct {
	return &Direct{ignoreCase: ignoreCase}
}

func (d *Direct) key(s string) string {
	s = strings.TrimSpace(s)
	if d.ignoreCase {
		return strings.ToLower(s)
	}
	return s
}

func (d *Direct) SetTargets(targets []string) error {
	m := make(map[string][]string, len(targets))
	for _, t := range targets {
		k := d.key(t)
		if k == "" {
			continue
		}
		if !containsString(m[k], t) {
			m[k] = append(m[k], t)
		}
	}
	d.mu.Lock()
	d.targets = m
	d.mu.Unlock()
	return nil
}

func (d *Direct) Match(q string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.targets[d.key(q)]...), nil
}

func (d *Direct) UMatch(q string) (string, bool, error) { return umatch(d, q) }
func (d *Direct) Resolve(q string) (Resolution, error)  { return resolve(d, q) }

func (d *Direct) Explain(q string) ([]Explanation, error) {
	ms, _ := d.Match(q)
	if len(ms) == 0 {
		return nil, nil
	}
	return []Explanation{{Matcher: "direct", Group: alias.Group{q}, Targets: ms}}, nil
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// =============================================================================
// Alias
// =============================================================================

// Alias matches through one alias index. It holds the index as a handle:
// once the index is invalidated every call fails with ErrIndexInvalidated.
type Alias struct {
	name  string
	index *alias.Index

	mu      sync.RWMutex
	inGroup map[int][]string // group id -> targets in that group, target order
}

// NewAlias returns a matcher over x. name identifies it in explanations.
func NewAlias(name string, x *alias.Index) *Alias {
	return &Alias{name: name, index: x}
}

// Name is the label used in explanations.
func (a *Alias) Name() string { return a.name }

// Index returns the underlying alias index.
func (a *Alias) Index() *alias.Index { return a.index }

func (a *Alias) SetTargets(targets []string) error {
	if !a.index.Valid() {
		return ErrIndexInvalidated
	}
	inGroup := make(map[int][]string)
	for _, t := range targets {
		for _, gid := range a.index.Lookup(t) {
			if !containsString(inGroup[gid], t) {
				inGroup[gid] = append(inGroup[gid], t)
			}
		}
	}
	a.mu.Lock()
	a.inGroup = inGroup
	a.mu.Unlock()
	return nil
}

// Match returns the targets of every group containing q, first occurrence
// first. A query in several groups collects the targets of all of them.
func (a *Alias) Match(q string) ([]string, error) {
	if !a.index.Valid() {
		return nil, ErrIndexInvalidated
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []string
	seen := make(map[string]struct{})
	for _, gid := range a.index.Lookup(q) {
		out = appendUnique(out, seen, a.inGroup[gid]...)
	}
	return out, nil
}

func (a *Alias) UMatch(q string) (string, bool, error) { return umatch(a, q) }
func (a *Alias) Resolve(q string) (Resolution, error)  { return resolve(a, q) }

func (a *Alias) Explain(q string) ([]Explanation, error) {
	if !a.index.Valid() {
		return nil, ErrIndexInvalidated
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Explanation
	for _, gid := range a.index.Lookup(q) {
		targets := a.inGroup[gid]
		if len(targets) == 0 {
			continue
		}
		out = append(out, Explanation{
			Matcher: a.name,
			Group:   a.index.Group(gid),
			Targets: append([]string(nil), targets...),
		})
	}
	return out, nil
}

// =============================================================================
// Sequence
// =============================================================================

// Sequence dispatches a query to its members in order; the first non-empty
// result wins.
type Sequence struct {
	members []Matcher
}

func NewSequence(members ...Matcher) *Sequence {
	return &Sequence{members: members}
}

// Members returns the matchers tried, in order.
func (s *Sequence) Members() []Matcher { return s.members }

func (s *Sequence) SetTargets(targets []string) error {
	for _, m := range s.members {
		if err := m.SetTargets(targets); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequence) Match(q string) ([]string, error) {
	for _, m := range s.members {
		ms, err := m.Match(q)
		if err != nil {
			return nil, err
		}
		if len(ms) > 0 {
			return ms, nil
		}
	}
	return nil, nil
}

func (s *Sequence) UMatch(q string) (string, bool, error) { return umatch(s, q) }
func (s *Sequence) Resolve(q string) (Resolution, error)  { return resolve(s, q) }

func (s *Sequence) Explain(q string) ([]Explanation, error) {
	for _, m := range s.members {
		ms, err := m.Match(q)
		if err != nil {
			return nil, err
		}
		if len(ms) > 0 {
			return m.Explain(q)
		}
	}
	return nil, nil
}

// =============================================================================
// Tainted
// =============================================================================

// tainted stands in for a matcher whose construction failed.
type tainted struct{ err error }

func (t tainted) SetTargets([]string) error             { return t.err }
func (t tainted) Match(string) ([]string, error)        { return nil, t.err }
func (t tainted) UMatch(string) (string, bool, error)   { return "", false, t.err }
func (t tainted) Explain(string) ([]Explanation, error) { return nil, t.err }
func (t tainted) Resolve(string) (Resolution, error)    { return Resolution{}, t.err }
