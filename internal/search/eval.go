package search

import (
	"math"
	"strings"

	"github.com/starford/memoranda/internal/apperr"
)

// hit is the partial score of one memo for a sub-expression, plus the
// tokens that matched it (used to place the snippet).
type hit struct {
	score float64
	terms map[string]struct{}
}

type hitSet map[string]*hit

func merge(a, b *hit) *hit {
	out := &hit{score: a.score + b.score, terms: make(map[string]struct{}, len(a.terms)+len(b.terms))}
	for t := range a.terms {
		out.terms[t] = struct{}{}
	}
	for t := range b.terms {
		out.terms[t] = struct{}{}
	}
	return out
}

// eval must be called with x.mu held for reading.
func (x *Index) eval(n node) (hitSet, error) {
	switch n := n.(type) {
	case termNode:
		return x.evalTerm(n.token)
	case phraseNode:
		return x.evalPhrase(n.tokens)
	case wildcardNode:
		out := hitSet{}
		for tok := range x.postings {
			if !n.matches(tok) {
				continue
			}
			hs, err := x.evalTerm(tok)
			if err != nil {
				return nil, err
			}
			for id, h := range hs {
				if prev, ok := out[id]; ok {
					h = merge(prev, h)
				}
				out[id] = h
			}
		}
		return out, nil
	case notNode:
		inner, err := x.eval(n.operand)
		if err != nil {
			return nil, err
		}
		out := hitSet{}
		for id := range x.docs {
			if _, ok := inner[id]; !ok {
				out[id] = &hit{}
			}
		}
		return out, nil
	case binaryNode:
		left, err := x.eval(n.left)
		if err != nil {
			return nil, err
		}
		right, err := x.eval(n.right)
		if err != nil {
			return nil, err
		}
		out := hitSet{}
		if n.op == opOr {
			for id, h := range left {
				out[id] = h
			}
			for id, h := range right {
				if prev, ok := out[id]; ok {
					h = merge(prev, h)
				}
				out[id] = h
			}
			return out, nil
		}
		for id, lh := range left {
			if rh, ok := right[id]; ok {
				out[id] = merge(lh, rh)
			}
		}
		return out, nil
	}
	return hitSet{}, nil
}

func (x *Index) idf(df int) float64 {
	return math.Log(1 + float64(len(x.docs))/float64(df))
}

func (x *Index) evalTerm(tok string) (hitSet, error) {
	byID := x.postings[tok]
	out := make(hitSet, len(byID))
	if len(byID) == 0 {
		return out, nil
	}
	idf := x.idf(len(byID))
	for id, fp := range byID {
		if _, ok := x.docs[id]; !ok {
			return nil, apperr.IndexCorruption(id, "posting for "+tok+" references a memo that is not indexed")
		}
		tf := x.cfg.TitleBoost*float64(freq(fp[FieldTitle])) + float64(freq(fp[FieldContent]))
		out[id] = &hit{score: tf * idf, terms: map[string]struct{}{tok: {}}}
	}
	return out, nil
}

func (x *Index) evalPhrase(tokens []string) (hitSet, error) {
	lists := make([]map[string]*fieldPostings, len(tokens))
	var idf float64
	for i, tok := range tokens {
		byID := x.postings[tok]
		if len(byID) == 0 {
			return hitSet{}, nil
		}
		lists[i] = byID
		idf += x.idf(len(byID))
	}

	out := hitSet{}
	for id, first := range lists[0] {
		if _, ok := x.docs[id]; !ok {
			return nil, apperr.IndexCorruption(id, "posting for "+tokens[0]+" references a memo that is not indexed")
		}
		per := make([]*fieldPostings, len(tokens))
		per[0] = first
		found := true
		for i := 1; i < len(tokens); i++ {
			fp, ok := lists[i][id]
			if !ok {
				found = false
				break
			}
			per[i] = fp
		}
		if !found {
			continue
		}
		titleHits := phraseCount(per, FieldTitle)
		contentHits := phraseCount(per, FieldContent)
		if titleHits+contentHits == 0 {
			continue
		}
		terms := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			terms[t] = struct{}{}
		}
		score := (x.cfg.TitleBoost*float64(titleHits) + float64(contentHits)) * idf
		out[id] = &hit{score: score, terms: terms}
	}
	return out, nil
}

// phraseCount counts positions p in field f where token i occurs at p+i for
// every token of the phrase.
func phraseCount(per []*fieldPostings, f Field) int {
	if per[0][f] == nil {
		return 0
	}
	sets := make([]map[int]struct{}, len(per))
	for i := 1; i < len(per); i++ {
		p := per[i][f]
		if p == nil {
			return 0
		}
		sets[i] = make(map[int]struct{}, len(p.Positions))
		for _, pos := range p.Positions {
			sets[i][pos] = struct{}{}
		}
	}
	n := 0
	for _, start := range per[0][f].Positions {
		ok := true
		for i := 1; i < len(per); i++ {
			if _, at := sets[i][start+i]; !at {
				ok = false
				break
			}
		}
		if ok {
			n++
		}
	}
	return n
}

func freq(p *Posting) int {
	if p == nil {
		return 0
	}
	return p.Frequency
}

// snippet returns up to length runes of content around the first occurrence
// of a matched token, with "..." marking cut ends. Without a content match it
// returns the start of content.
func snippet(content string, terms map[string]struct{}, length int) string {
	if content == "" {
		return ""
	}
	start := 0
	if len(terms) > 0 {
		for _, t := range Tokenize(content) {
			if _, ok := terms[t.Text]; ok {
				start = runeOffset(content, t.Start)
				break
			}
		}
	}

	rs := []rune(content)
	begin := start - length/4
	if begin < 0 {
		begin = 0
	}
	end := begin + length
	if end > len(rs) {
		end = len(rs)
		begin = max(0, end-length)
	}
	s := strings.Join(strings.Fields(string(rs[begin:end])), " ")
	if begin > 0 {
		s = "..." + s
	}
	if end < len(rs) {
		s += "..."
	}
	return s
}
