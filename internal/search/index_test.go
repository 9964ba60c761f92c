package search

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/memoranda/internal/apperr"
	"github.com/starford/memoranda/internal/models"
)

var now = time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)

func memo(id, title, content string, updated time.Time) *models.Memo {
	return &models.Memo{ID: id, Title: title, Content: content, CreatedAt: updated, UpdatedAt: updated}
}

func newIndex(t *testing.T, memos ...*models.Memo) *Index {
	t.Helper()
	x := New(DefaultConfig(), WithClock(func() time.Time { return now }))
	for _, m := range memos {
		x.Index(m)
	}
	return x
}

func ids(rs []Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func query(t *testing.T, x *Index, q string) []string {
	t.Helper()
	rs, err := x.Query(q)
	require.NoError(t, err, q)
	return ids(rs)
}

func TestTokenize(t *testing.T) {
	got := Terms("Hello, World! e-mail ÉCOLE 42nd")
	assert.Equal(t, []string{"hello", "world", "e", "mail", "école", "42nd"}, got)

	toks := Tokenize("ab  cd")
	require.Len(t, toks, 2)
	assert.Equal(t, 4, toks[1].Start)
	assert.Equal(t, 6, toks[1].End)

	assert.Empty(t, Terms("  -- !! "))
	assert.Equal(t, []string{"日本語"}, Terms("日本語"))
}

func TestScenario_UpdateReplacesPostings(t *testing.T) {
	x := newIndex(t)
	x.Index(memo("X", "API Notes", "Use bearer tokens", now))
	assert.Equal(t, []string{"X"}, query(t, x, "bearer"))

	x.Index(memo("X", "API Notes", "Use OAuth2", now))
	assert.Empty(t, query(t, x, "bearer"))
	assert.Equal(t, []string{"X"}, query(t, x, "oauth2"))
	assert.Equal(t, []string{"X"}, query(t, x, "OAUTH2"))
}

func TestTitleOutranksContent(t *testing.T) {
	x := newIndex(t,
		memo("B", "Other", "about bearer things", now),
		memo("A", "Bearer", "about other things", now),
	)
	rs, err := x.Query("bearer")
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "A", rs[0].ID)
	assert.Greater(t, rs[0].Score, rs[1].Score)
}

func TestScoreFormula(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecencyWeight = 0
	x := New(cfg, WithClock(func() time.Time { return now }))
	x.Index(memo("A", "go", "go go", now))
	x.Index(memo("B", "rust", "nothing", now))

	rs, err := x.Query("go")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	want := (3.0*1 + 2) * math.Log(1+2.0/1)
	assert.InDelta(t, want, rs[0].Score, 1e-9)
}

func TestExactTermMatching(t *testing.T) {
	x := newIndex(t,
		memo("A", "t", "cat", now),
		memo("B", "t", "category", now),
		memo("C", "t", "the CAT sat", now),
	)
	assert.ElementsMatch(t, []string{"A", "C"}, query(t, x, "cat"))
}

func TestTieBreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecencyWeight = 0
	x := New(cfg, WithClock(func() time.Time { return now }))
	x.Index(memo("C", "t", "same words", now.Add(-time.Hour)))
	x.Index(memo("B", "t", "same words", now))
	x.Index(memo("A", "t", "same words", now))

	// Equal scores: newest first, then id ascending.
	assert.Equal(t, []string{"A", "B", "C"}, query(t, x, "same"))
}

func TestRecencyBoostBreaksNearTies(t *testing.T) {
	x := newIndex(t,
		memo("OLD", "t", "release notes", now.Add(-90*24*time.Hour)),
		memo("NEW", "t", "release notes", now.Add(-time.Hour)),
	)
	rs, err := x.Query("release")
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "NEW", rs[0].ID)
	assert.Greater(t, rs[0].Score, rs[1].Score)
}

func TestBooleanOperators(t *testing.T) {
	x := newIndex(t,
		memo("A", "t", "apple banana", now),
		memo("B", "t", "apple cherry", now),
		memo("C", "t", "cherry durian", now),
	)
	assert.Equal(t, []string{"A"}, query(t, x, "apple banana"))
	assert.Equal(t, []string{"A"}, query(t, x, "apple AND banana"))
	assert.ElementsMatch(t, []string{"A", "C"}, query(t, x, "banana OR durian"))
	assert.Equal(t, []string{"A"}, query(t, x, "apple NOT cherry"))
	assert.Equal(t, []string{"A"}, query(t, x, "apple AND NOT cherry"))
	assert.Equal(t, []string{"C"}, query(t, x, "NOT apple"))
	// Left to right without precedence: (banana OR durian) AND cherry.
	assert.Equal(t, []string{"C"}, query(t, x, "banana OR durian AND cherry"))
	// Grouping changes the result.
	assert.ElementsMatch(t, []string{"A", "C"}, query(t, x, "banana OR (durian AND cherry)"))
	// Lower-case operators are ordinary terms.
	assert.Empty(t, query(t, x, "apple or banana"))
}

func TestPhrase(t *testing.T) {
	x := newIndex(t,
		memo("A", "t", "use bearer tokens everywhere", now),
		memo("B", "t", "tokens for the bearer", now),
		memo("C", "bearer tokens", "nothing here", now),
	)
	assert.ElementsMatch(t, []string{"A", "C"}, query(t, x, `"bearer tokens"`))
	// A bare hyphenated word is a phrase.
	y := newIndex(t, memo("A", "t", "send e-mail", now), memo("B", "t", "mail e", now))
	assert.Equal(t, []string{"A"}, query(t, y, "e-mail"))
}

func TestWildcards(t *testing.T) {
	x := newIndex(t,
		memo("A", "t", "configuration", now),
		memo("B", "t", "reconfigure", now),
		memo("C", "t", "figure", now),
	)
	assert.Equal(t, []string{"A"}, query(t, x, "config*"))
	assert.ElementsMatch(t, []string{"B", "C"}, query(t, x, "*figure"))
	assert.ElementsMatch(t, []string{"A", "B", "C"}, query(t, x, "*fig*"))
	assert.Equal(t, []string{"A"}, query(t, x, "CONFIG*"))
}

func TestQueryValidation(t *testing.T) {
	x := newIndex(t, memo("A", "t", "a b", now))
	for _, q := range []string{
		"", "   ", `"unterminated`, "(a", "a)", "()", "a AND", "OR a", "a AND OR b",
		"NOT", "a NOT", "*", "fo*o", "--", `""`,
	} {
		_, err := x.Query(q)
		require.Error(t, err, q)
		assert.True(t, errors.Is(err, apperr.ErrValidation), "%q: %v", q, err)
	}
}

func TestEmptyCorpusAndNoMatch(t *testing.T) {
	x := newIndex(t)
	rs, err := x.Query("anything")
	require.NoError(t, err)
	assert.NotNil(t, rs)
	assert.Empty(t, rs)

	x.Index(memo("A", "t", "something", now))
	rs, err = x.Query("anything")
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestRemove(t *testing.T) {
	x := newIndex(t, memo("A", "alpha", "unique words", now), memo("B", "beta", "words", now))
	assert.True(t, x.Remove("A"))
	assert.False(t, x.Remove("A"))
	assert.Equal(t, []string{"B"}, query(t, x, "words"))
	assert.Empty(t, query(t, x, "unique"))
	assert.False(t, x.Has("A"))
	assert.Equal(t, 1, x.Len())
	// beta and words remain.
	assert.Equal(t, 2, x.Vocabulary())
}

func TestReindexLeavesNoStaleTokens(t *testing.T) {
	x := newIndex(t, memo("A", "title", "first version", now))
	x.Index(memo("A", "title", "second", now))
	assert.Equal(t, 2, x.Vocabulary())
	assert.Empty(t, query(t, x, "first"))
}

func TestRebuild(t *testing.T) {
	x := newIndex(t, memo("A", "t", "old", now))
	x.Rebuild([]*models.Memo{memo("B", "t", "new", now), memo("C", "t", "new", now)})
	assert.False(t, x.Has("A"))
	assert.Equal(t, 2, x.Len())
	assert.ElementsMatch(t, []string{"B", "C"}, query(t, x, "new"))
}

func TestCorruptionDetected(t *testing.T) {
	x := newIndex(t, memo("A", "t", "ghost", now))
	x.mu.Lock()
	delete(x.docs, "A")
	x.mu.Unlock()

	_, err := x.Query("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrIndexCorruption))
	assert.Contains(t, err.Error(), "A")

	x.Rebuild([]*models.Memo{memo("A", "t", "ghost", now)})
	assert.Equal(t, []string{"A"}, query(t, x, "ghost"))
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("lorem ipsum ", 30) + "needle " + strings.Repeat("dolor sit ", 30)
	x := newIndex(t, memo("A", "Title", long, now), memo("B", "needle", "short body", now))

	rs, err := x.Query("needle")
	require.NoError(t, err)
	require.Len(t, rs, 2)
	byID := map[string]Result{}
	for _, r := range rs {
		byID[r.ID] = r
	}

	s := byID["A"].Snippet
	assert.Contains(t, s, "needle")
	assert.True(t, strings.HasPrefix(s, "..."))
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.LessOrEqual(t, len([]rune(s)), 160+6)

	// Title-only match: leading content.
	assert.Equal(t, "short body", byID["B"].Snippet)
}

func TestDocuments(t *testing.T) {
	x := newIndex(t, memo("A", "Alpha", "x", now), memo("B", "Beta", "y", now))
	docs := x.Documents()
	require.Len(t, docs, 2)
	d, ok := x.Document("A")
	require.True(t, ok)
	assert.Equal(t, "Alpha", d.Title)
}
