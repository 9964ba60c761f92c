// Package search maintains an in-memory inverted index over memo titles and
// contents and answers boolean, phrase and wildcard queries ranked by TF-IDF.
package search

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/starford/memoranda/internal/apperr"
	"github.com/starford/memoranda/internal/models"
)

// Field identifies which part of a memo a posting refers to.
type Field uint8

const (
	FieldTitle Field = iota
	FieldContent
	numFields
)

func (f Field) String() string {
	if f == FieldTitle {
		return "title"
	}
	return "content"
}

// Posting records where one token occurs in one field of one memo.
type Posting struct {
	MemoID    string
	Field     Field
	Frequency int
	Positions []int
}

type fieldPostings [numFields]*Posting

// document is what the index keeps about each memo besides postings.
type document struct {
	meta    models.MemoMetadata
	content string // NFC-normalized, for snippets
	terms   []string
}

// Config tunes ranking and snippets.
type Config struct {
	TitleBoost      float64
	RecencyHalfLife time.Duration
	RecencyWeight   float64
	SnippetLength   int
}

// DefaultConfig returns the default ranking parameters.
func DefaultConfig() Config {
	return Config{
		TitleBoost:      3.0,
		RecencyHalfLife: 720 * time.Hour,
		RecencyWeight:   0.1,
		SnippetLength:   160,
	}
}

// Result is one ranked match.
type Result struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Score     float64   `json:"score"`
	Snippet   string    `json:"snippet"`
	UpdatedAt time.Time `json:"updated_at"`
	Location  string    `json:"location"`
}

// Index is safe for concurrent use. Queries share a read lock; updates to
// one memo replace all of its postings under the write lock.
type Index struct {
	cfg Config
	now func() time.Time

	mu       sync.RWMutex
	docs     map[string]*document
	postings map[string]map[string]*fieldPostings // token -> memo id -> postings
}

// Option configures an Index.
type Option func(*Index)

// WithClock sets the time source used for the recency boost.
func WithClock(now func() time.Time) Option {
	return func(i *Index) { i.now = now }
}

// New returns an empty index. Zero fields of cfg take their defaults.
func New(cfg Config, opts ...Option) *Index {
	def := DefaultConfig()
	if cfg.TitleBoost <= 0 {
		cfg.TitleBoost = def.TitleBoost
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = def.RecencyHalfLife
	}
	if cfg.RecencyWeight < 0 {
		cfg.RecencyWeight = 0
	}
	if cfg.SnippetLength <= 0 {
		cfg.SnippetLength = def.SnippetLength
	}
	idx := &Index{
		cfg:      cfg,
		now:      time.Now,
		docs:     make(map[string]*document),
		postings: make(map[string]map[string]*fieldPostings),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Index adds memo, replacing every posting previously held for its id.
func (x *Index) Index(memo *models.Memo) {
	doc, post := analyze(memo)
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(memo.ID)
	x.insertLocked(memo.ID, doc, post)
}

// Remove purges all postings of id. It reports whether id was indexed.
func (x *Index) Remove(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.docs[id]
	x.removeLocked(id)
	return ok
}

// Rebuild replaces the whole index with one built from memos. The new index
// is assembled off to the side and swapped in at once.
func (x *Index) Rebuild(memos []*models.Memo) {
	docs := make(map[string]*document, len(memos))
	postings := make(map[string]map[string]*fieldPostings)
	for _, m := range memos {
		doc, post := analyze(m)
		docs[m.ID] = doc
		for tok, fp := range post {
			byID, ok := postings[tok]
			if !ok {
				byID = make(map[string]*fieldPostings)
				postings[tok] = byID
			}
			byID[m.ID] = fp
		}
	}
	x.mu.Lock()
	x.docs, x.postings = docs, postings
	x.mu.Unlock()
}

// Has reports whether id is indexed.
func (x *Index) Has(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.docs[id]
	return ok
}

// Len returns the number of indexed memos.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Vocabulary returns the number of distinct tokens.
func (x *Index) Vocabulary() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.postings)
}

// Document returns the metadata of an indexed memo.
func (x *Index) Document(id string) (models.MemoMetadata, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	d, ok := x.docs[id]
	if !ok {
		return models.MemoMetadata{}, false
	}
	return d.meta, true
}

// Documents returns the metadata of every indexed memo, in no particular order.
func (x *Index) Documents() []models.MemoMetadata {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]models.MemoMetadata, 0, len(x.docs))
	for _, d := range x.docs {
		out = append(out, d.meta)
	}
	return out
}

// Query evaluates expr and returns matches ordered by score (descending),
// then updated_at (newest first), then id.
func (x *Index) Query(expr string) ([]Result, error) {
	tree, err := parse(expr)
	if err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	hits, err := x.eval(tree)
	if err != nil {
		return nil, err
	}

	now := x.now()
	out := make([]Result, 0, len(hits))
	for id, h := range hits {
		doc, ok := x.docs[id]
		if !ok {
			return nil, apperr.IndexCorruption(id, "match has no document record")
		}
		out = append(out, Result{
			ID:        id,
			Title:     doc.meta.Title,
			Score:     h.score + x.recency(now, doc.meta.UpdatedAt),
			Snippet:   snippet(doc.content, h.terms, x.cfg.SnippetLength),
			UpdatedAt: doc.meta.UpdatedAt,
			Location:  doc.meta.Location,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// recency decays by half every RecencyHalfLife.
func (x *Index) recency(now, updated time.Time) float64 {
	age := now.Sub(updated)
	if age < 0 {
		age = 0
	}
	return x.cfg.RecencyWeight * math.Pow(0.5, float64(age)/float64(x.cfg.RecencyHalfLife))
}

// analyze tokenizes a memo into its document record and postings.
func analyze(m *models.Memo) (*document, map[string]*fieldPostings) {
	content := Normalize(m.Content)
	post := make(map[string]*fieldPostings)
	add := func(f Field, toks []Token) {
		for pos, t := range toks {
			fp, ok := post[t.Text]
			if !ok {
				fp = &fieldPostings{}
				post[t.Text] = fp
			}
			p := fp[f]
			if p == nil {
				p = &Posting{MemoID: m.ID, Field: f}
				fp[f] = p
			}
			p.Frequency++
			p.Positions = append(p.Positions, pos)
		}
	}
	add(FieldTitle, Tokenize(m.Title))
	add(FieldContent, Tokenize(content))

	terms := make([]string, 0, len(post))
	for tok := range post {
		terms = append(terms, tok)
	}
	return &document{meta: m.Metadata(), content: content, terms: terms}, post
}

func (x *Index) insertLocked(id string, doc *document, post map[string]*fieldPostings) {
	x.docs[id] = doc
	for tok, fp := range post {
		byID, ok := x.postings[tok]
		if !ok {
			byID = make(map[string]*fieldPostings)
			x.postings[tok] = byID
		}
		byID[id] = fp
	}
}

func (x *Index) removeLocked(id string) {
	doc, ok := x.docs[id]
	if !ok {
		return
	}
	for _, tok := range doc.terms {
		byID := x.postings[tok]
		delete(byID, id)
		if len(byID) == 0 {
			delete(x.postings, tok)
		}
	}
	delete(x.docs, id)
}
