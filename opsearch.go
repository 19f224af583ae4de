package recdb

import (
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// SearchHit is a record found by a search. Its rank is the fraction of the
// record's distinct tokens that some query token is a prefix of.
type SearchHit struct {
	Record  Record
	Matched int
	Total   int
	seq     uint64
}

func (h *SearchHit) Rank() float64 {
	if h.Total == 0 {
		return 0
	}
	return float64(h.Matched) / float64(h.Total)
}

// ranksAbove compares by rank, then prefers records with fewer tokens.
func (h *SearchHit) ranksAbove(o *SearchHit) bool {
	// cross-multiply to avoid comparing floats
	a := h.Matched * max(o.Total, 1)
	b := o.Matched * max(h.Total, 1)
	if a != b {
		return a > b
	}
	return h.Total < o.Total
}

// before is the result order: rank, token count, then insertion order.
func (h *SearchHit) before(o *SearchHit) bool {
	if h.ranksAbove(o) {
		return true
	}
	if o.ranksAbove(h) {
		return false
	}
	return h.seq < o.seq
}

// tokenize lower-cases s and splits it on anything that is not a letter or
// a digit. Repeated tokens are dropped.
func tokenize(s string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return dedupStrings(tokens)
}

// scoreText counts the text tokens prefixed by some query token, and reports
// whether every query token prefixes at least one text token.
func scoreText(qtokens []string, text string) (matched, total int, ok bool) {
	tokens := tokenize(text)
	ok = true
	for _, q := range qtokens {
		var found bool
		for _, t := range tokens {
			if strings.HasPrefix(t, q) {
				found = true
				break
			}
		}
		if !found {
			ok = false
			break
		}
	}
	for _, t := range tokens {
		for _, q := range qtokens {
			if strings.HasPrefix(t, q) {
				matched++
				break
			}
		}
	}
	return matched, len(tokens), ok
}

// scoreRecord picks the best-ranked field among the search indices. With
// requireAll, fields that don't match every query token are skipped.
func scoreRecord(indices []*Index, qtokens []string, rec Record, requireAll bool) (SearchHit, bool) {
	var best SearchHit
	var found bool
	for _, idx := range indices {
		text, _ := rec[idx.fields[0].name].(string)
		m, t, ok := scoreText(qtokens, text)
		if !ok && requireAll {
			continue
		}
		cand := SearchHit{Matched: m, Total: t}
		if !found || cand.ranksAbove(&best) {
			best, found = cand, true
		}
	}
	return best, found
}

func longestToken(tokens []string) string {
	var result string
	for _, t := range tokens {
		if len(t) > len(result) {
			result = t
		}
	}
	return result
}

// search runs a ranked prefix search over the given search indices of
// a store. A record matching through several indices is reported once,
// with its best rank.
func (tx *Tx) search(st *Store, indices []*Index, query string, anchor Record, limit int) ([]SearchHit, error) {
	qtokens := tokenize(query)

	var anchorHit *SearchHit
	if anchor != nil {
		kr, err := st.keyRecord(anchor)
		if err != nil {
			return nil, err
		}
		pk := st.encodePK(kr)
		rec, vle, found, err := tx.loadRaw(st, pk)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, storeErrf(st, "", pk, ErrNotFound, "anchor record")
		}
		h, _ := scoreRecord(indices, qtokens, rec, false)
		h.seq = vle.Seq
		anchorHit = &h
	}

	var hits []SearchHit
	consider := func(rec Record, seq uint64) {
		h, ok := scoreRecord(indices, qtokens, rec, true)
		if !ok {
			return
		}
		h.Record, h.seq = rec, seq
		if anchorHit != nil && !anchorHit.before(&h) {
			return
		}
		hits = append(hits, h)
	}

	if len(qtokens) == 0 {
		err := tx.scanStored(st, st.rm, func(rec Record, vle *value) bool {
			consider(rec, vle.Seq)
			return true
		})
		if err != nil {
			return nil, err
		}
	} else {
		// the longest token is the most selective one
		prefix := appendEscaped(nil, []byte(longestToken(qtokens)), false)
		seen := make(map[string]bool)
		for _, idx := range indices {
			rang := rawRange{Prefix: prefix}
			for c := rang.newCursor(tx.indexBucket(idx).Cursor(), tx.db.logger); c.Next(); {
				pk := c.Value()
				if seen[string(pk)] {
					continue
				}
				seen[string(pk)] = true
				rec, vle, found, err := tx.loadRaw(st, pk)
				if err != nil {
					return nil, err
				}
				if !found {
					return nil, storeErrf(st, idx.name, c.Key(), nil, "index entry references a missing record")
				}
				consider(rec, vle.Seq)
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].before(&hits[j])
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	if tx.db.verbose {
		tx.db.logger.Debug("db: SEARCH", zap.String("store", st.name), zap.Strings("tokens", qtokens), zap.Int("hits", len(hits)))
	}
	return hits, nil
}

func (st *Store) searchIndexOf(field string) *Index {
	for _, idx := range st.indices {
		if idx.kind == searchIndex && idx.fields[0].name == field {
			return idx
		}
	}
	return nil
}
