package matcher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/genekit/internal/store"
	"github.com/kittclouds/genekit/pkg/alias"
)

func aliasMatcher(t *testing.T, ignoreCase bool, groups ...alias.Group) *Alias {
	t.Helper()
	return NewAlias("test", alias.NewIndex(groups, ignoreCase))
}

func TestAliasMatchIdentity(t *testing.T) {
	groups := []alias.Group{
		{"TP53", "p53", "LFS1", "7157"},
		{"BRCA1", "RNF53", "672"},
	}
	m := aliasMatcher(t, false, groups...)
	targets := []string{"7157", "TP53", "672", "unrelated"}
	require.NoError(t, m.SetTargets(targets))

	for _, g := range groups {
		var want []string
		for _, target := range targets {
			for _, a := range g {
				if a == target {
					want = append(want, target)
				}
			}
		}
		for _, a := range g {
			got, err := m.Match(a)
			require.NoError(t, err)
			assert.ElementsMatch(t, want, got, "alias %s", a)
		}
	}
}

func TestAliasMatchUnknown(t *testing.T) {
	m := aliasMatcher(t, true, alias.Group{"TP53", "p53"})
	require.NoError(t, m.SetTargets([]string{"TP53"}))

	got, err := m.Match("nope")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = m.Match("P53")
	require.NoError(t, err)
	assert.Equal(t, []string{"TP53"}, got)
}

func TestUMatchUniqueness(t *testing.T) {
	m := aliasMatcher(t, false,
		alias.Group{"A1", "shared", "a"},
		alias.Group{"B1", "shared", "b"},
	)
	require.NoError(t, m.SetTargets([]string{"A1", "B1"}))

	for _, q := range []string{"a", "b", "shared", "A1", "missing"} {
		ms, err := m.Match(q)
		require.NoError(t, err)
		u, ok, err := m.UMatch(q)
		require.NoError(t, err)
		assert.Equal(t, len(ms) == 1, ok, q)
		if ok {
			assert.Equal(t, ms[0], u)
		} else {
			assert.Empty(t, u)
		}
	}

	r, err := m.Resolve("shared")
	require.NoError(t, err)
	assert.Equal(t, Ambiguous, r.Status)
	assert.Equal(t, []string{"A1", "B1"}, r.Candidates)

	r, err = m.Resolve("missing")
	require.NoError(t, err)
	assert.Equal(t, Unknown, r.Status)

	r, err = m.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, Resolution{Status: Unique, Target: "A1", Candidates: []string{"A1"}}, r)
}

func TestSequenceFallback(t *testing.T) {
	m1 := aliasMatcher(t, false, alias.Group{"breast cancer 1", "BRCA1"})
	m2 := aliasMatcher(t, false, alias.Group{"p53", "TP53"})
	seq := NewSequence(m1, m2)
	require.NoError(t, seq.SetTargets([]string{"BRCA1", "TP53"}))

	got, err := MatchAll(seq, []string{"breast cancer 1", "p53", "foo"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"BRCA1"}, {"TP53"}, nil}, got)

	ex, err := seq.Explain("p53")
	require.NoError(t, err)
	require.Len(t, ex, 1)
	assert.Equal(t, alias.Group{"p53", "TP53"}, ex[0].Group)
}

func TestSequenceShortCircuit(t *testing.T) {
	m1 := aliasMatcher(t, false, alias.Group{"x", "X1"}, alias.Group{"y", "Y1"})
	m2 := aliasMatcher(t, false, alias.Group{"x", "X2"}, alias.Group{"z", "Z2"})
	seq := NewSequence(m1, m2)
	require.NoError(t, seq.SetTargets([]string{"X1", "Y1", "X2", "Z2"}))

	for _, q := range []string{"x", "y", "z", "w"} {
		first, _ := m1.Match(q)
		second, _ := m2.Match(q)
		want := first
		if len(first) == 0 {
			want = second
		}
		got, err := seq.Match(q)
		require.NoError(t, err)
		assert.Equal(t, want, got, q)
	}
}

func TestJoinedConflict(t *testing.T) {
	x := alias.NewIndex([]alias.Group{{"a", "b"}}, false)
	y := alias.NewIndex([]alias.Group{{"b", "c"}}, false)
	j := NewJoined("x+y", false, x, y)
	require.NoError(t, j.SetTargets([]string{"a", "c"}))

	require.Equal(t, 1, j.Index().Len())
	got, err := j.Match("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, got)
}

func TestDirect(t *testing.T) {
	d := NewDirect(true)
	require.NoError(t, d.SetTargets([]string{"TP53", "Tp53", "BRCA1"}))
	got, _ := d.Match("tp53")
	assert.Equal(t, []string{"TP53", "Tp53"}, got)

	exact := NewDirect(false)
	require.NoError(t, exact.SetTargets([]string{"TP53"}))
	got, _ = exact.Match("tp53")
	assert.Empty(t, got)
	u, ok, _ := exact.UMatch("TP53")
	assert.True(t, ok)
	assert.Equal(t, "TP53", u)
}

func TestInvalidatedIndex(t *testing.T) {
	x := alias.NewIndex([]alias.Group{{"a", "b"}}, false)
	m := NewAlias("x", x)
	require.NoError(t, m.SetTargets([]string{"a"}))
	x.Invalidate()

	_, err := m.Match("b")
	assert.ErrorIs(t, err, ErrIndexInvalidated)
	_, _, err = m.UMatch("b")
	assert.ErrorIs(t, err, ErrIndexInvalidated)
	_, err = m.Explain("b")
	assert.ErrorIs(t, err, ErrIndexInvalidated)
	assert.ErrorIs(t, m.SetTargets(nil), ErrIndexInvalidated)

	_, err = NewSequence(NewDirect(false), m).Match("b")
	assert.ErrorIs(t, err, ErrIndexInvalidated)
}

func TestParseSpec(t *testing.T) {
	resolve := func(name string) (alias.Loader, error) {
		if name == "bad" {
			return nil, errors.New("unknown source bad")
		}
		return alias.StaticLoader{Name: name, Release: "1"}, nil
	}

	spec, err := ParseSpec("kegg, [go ncbi], direct", resolve)
	require.NoError(t, err)
	require.Len(t, spec, 3)
	assert.Equal(t, "kegg", spec[0].String())
	assert.Equal(t, "[go ncbi]", spec[1].String())
	assert.True(t, spec[2].Direct)
	assert.Equal(t, "kegg, [go ncbi], direct", spec.String())

	spec, err = ParseSpec("[go,ncbi]", resolve)
	require.NoError(t, err)
	assert.Len(t, spec[0].Loaders, 2)

	for _, bad := range []string{"", "[go", "[]", "bad", "a b"} {
		_, err := ParseSpec(bad, resolve)
		assert.Error(t, err, bad)
	}
}

type countingLoader struct {
	alias.StaticLoader
	calls *int
}

func (c countingLoader) Load(ctx context.Context) ([]alias.Group, error) {
	*c.calls++
	return c.StaticLoader.Load(ctx)
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	cache := store.NewMemCache()
	defer cache.Close()

	var calls int
	kegg := countingLoader{alias.StaticLoader{Name: "kegg", Release: "1", Groups: []alias.Group{{"hsa:7157", "TP53"}}}, &calls}
	goa := countingLoader{alias.StaticLoader{Name: "go", Release: "2", Groups: []alias.Group{{"P04637", "tp53"}}}, &calls}
	ncbi := countingLoader{alias.StaticLoader{Name: "ncbi", Release: "3", Groups: []alias.Group{{"7157", "TP53", "p53"}}}, &calls}
	spec := Spec{Source(kegg), JoinOf(goa, ncbi)}

	m, err := Build(ctx, spec, WithCache(cache), WithParallelism(1))
	require.NoError(t, err)
	seq, ok := m.(*Sequence)
	require.True(t, ok)
	require.Len(t, seq.Members(), 3)
	_, isDirect := seq.Members()[0].(*Direct)
	assert.True(t, isDirect)

	require.NoError(t, m.SetTargets([]string{"7157", "P04637", "hsa:7157"}))

	got, err := m.Match("hsa:7157")
	require.NoError(t, err)
	assert.Equal(t, []string{"hsa:7157"}, got)

	got, err = m.Match("TP53")
	require.NoError(t, err)
	assert.Equal(t, []string{"hsa:7157"}, got)

	got, err = m.Match("p53")
	require.NoError(t, err)
	assert.Equal(t, []string{"7157", "P04637"}, got)
	assert.Equal(t, 3, calls)

	j := seq.Members()[2].(*Joined)
	assert.True(t, j.Stable)
	v, ok := cache.Contains(j.Key)
	require.True(t, ok)
	assert.Equal(t, j.Key, v)

	_, err = Build(ctx, spec, WithCache(cache))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBuildWithoutDirect(t *testing.T) {
	l := alias.StaticLoader{Name: "x", Groups: []alias.Group{{"a", "b"}}}
	m, err := Build(context.Background(), Spec{Source(l)}, WithDirect(false), WithIgnoreCase(false))
	require.NoError(t, err)
	_, ok := m.(*Alias)
	assert.True(t, ok)
}

func TestBuildTaintsOnLoaderError(t *testing.T) {
	boom := errors.New("download failed")
	spec := Spec{Source(alias.StaticLoader{Name: "ok", Release: "1"}), Source(alias.FailingLoader{Name: "broken", Err: boom})}

	m, err := Build(context.Background(), spec)
	require.ErrorIs(t, err, boom)
	require.NotNil(t, m)

	for i := 0; i < 2; i++ {
		_, err := m.Match("anything")
		assert.ErrorIs(t, err, boom, fmt.Sprint("call ", i))
	}
	assert.ErrorIs(t, m.SetTargets([]string{"a"}), boom)
	_, err = m.Resolve("a")
	assert.ErrorIs(t, err, boom)
}

func TestBuildCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, Spec{Source(alias.StaticLoader{Name: "x"})})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanner(t *testing.T) {
	x := alias.NewIndex([]alias.Group{
		{"TP53", "p53"},
		{"BRCA1", "breast cancer 1"},
		{"CAT"},
	}, true)
	m := NewAlias("x", x)
	require.NoError(t, m.SetTargets([]string{"TP53", "BRCA1"}))

	s := NewScanner(x, m)
	assert.Equal(t, 5, s.Len())

	text := "Loss of P53 and breast cancer 1; the cat sat. TP53!"
	mentions, err := s.Scan(text)
	require.NoError(t, err)
	require.Len(t, mentions, 3)
	assert.Equal(t, Mention{Start: 8, End: 11, Text: "P53", Targets: []string{"TP53"}}, mentions[0])
	assert.Equal(t, "breast cancer 1", mentions[1].Text)
	assert.Equal(t, []string{"BRCA1"}, mentions[1].Targets)
	assert.Equal(t, "TP53", mentions[2].Text)

	genes, err := s.Genes(text)
	require.NoError(t, err)
	assert.Equal(t, []string{"TP53", "BRCA1"}, genes)

	empty := NewScanner(alias.NewIndex(nil, false), m)
	got, err := empty.Scan("anything")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScannerFoldsNonASCII(t *testing.T) {
	x := alias.NewIndex([]alias.Group{
		{"4242", "SÄURE1"},
		{"3630", "İNS1"},
	}, true)
	m := NewAlias("x", x)
	require.NoError(t, m.SetTargets([]string{"4242", "3630"}))
	s := NewScanner(x, m)

	text := "säure1 vs SÄURE1; see İNS1 now"
	mentions, err := s.Scan(text)
	require.NoError(t, err)
	require.Len(t, mentions, 3)
	assert.Equal(t, Mention{Start: 0, End: 7, Text: "säure1", Targets: []string{"4242"}}, mentions[0])
	assert.Equal(t, Mention{Start: 11, End: 18, Text: "SÄURE1", Targets: []string{"4242"}}, mentions[1])
	// İ lower-cases to a one-byte rune; offsets still point into text.
	assert.Equal(t, "İNS1", mentions[2].Text)
	assert.Equal(t, []string{"3630"}, mentions[2].Targets)
	assert.Equal(t, text[mentions[2].Start:mentions[2].End], mentions[2].Text)
}

func TestScannerCaseSensitiveIndex(t *testing.T) {
	x := alias.NewIndex([]alias.Group{{"TP53", "p53"}}, false)
	m := NewAlias("x", x)
	require.NoError(t, m.SetTargets([]string{"TP53"}))

	mentions, err := NewScanner(x, m).Scan("P53 p53")
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, 4, mentions[0].Start)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"TP53", "BRCA1", "p53", "x"}, SplitList("TP53, BRCA1;p53\n\tx"))
}
