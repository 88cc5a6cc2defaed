// Package engine executes free-text queries against an immutable index
// snapshot using BM25F ranking with a static-feature boost. The engine
// holds no mutable state of its own: every call works entirely off the
// snapshot it is handed, so queries run fully concurrently.
package engine

import (
	"math"
	"sort"

	"github.com/registrylabs/pkgserve/internal/search/analysis"
	"github.com/registrylabs/pkgserve/internal/search/docset"
	"github.com/registrylabs/pkgserve/internal/search/index"
)

// Result is one ranked search hit.
type Result struct {
	PackageID string  `json:"package_id"`
	Score     float64 `json:"score"`
}

// Search tokenizes query with the index-time analysis pipeline, gathers the
// union of postings for all query terms (OR retrieval: matching any term
// makes a document a candidate), scores each candidate with BM25F plus the
// configured feature boost, and returns the topK results ordered by
// descending score, ties broken by ascending document id.
//
// An empty query, a query of only stop-words, or topK <= 0 all yield an
// empty result list. Terms absent from the index contribute nothing and are
// never an error.
func Search(snap *index.Snapshot, p Params, query string, topK int) []Result {
	return SearchWeighted(snap, p, query, topK, nil)
}

// SearchWeighted is Search with optional per-field weight overrides for
// this query only. Fields absent from overrides keep their configured
// weight.
func SearchWeighted(snap *index.Snapshot, p Params, query string, topK int, overrides map[index.Field]float64) []Result {
	if topK <= 0 {
		return []Result{}
	}
	terms := analysis.Analyze(query)
	if len(terms) == 0 {
		return []Result{}
	}
	terms = dedupe(terms)

	weights := p.fieldWeights(overrides)

	type termPostings struct {
		docs docset.Set
		freq index.FreqFunc
		idf  float64
	}
	n := float64(snap.NumDocs())
	candidates := docset.Empty()
	matched := make([]termPostings, 0, len(terms))
	for _, term := range terms {
		docs, freq := snap.Postings(term)
		if docs.Len() == 0 {
			continue
		}
		df := float64(docs.Len())
		matched = append(matched, termPostings{
			docs: docs,
			freq: freq,
			idf:  math.Log((n-df+0.5)/(df+0.5) + 1),
		})
		candidates = docset.Union(candidates, docs)
	}
	if candidates.Len() == 0 {
		return []Result{}
	}

	var avgLen [index.NumFields]float64
	for f := 0; f < index.NumFields; f++ {
		avgLen[f] = snap.AvgFieldLength(index.Field(f))
	}

	scored := make([]Result, 0, candidates.Len())
	type scoredDoc struct {
		doc   uint32
		score float64
	}
	hits := make([]scoredDoc, 0, candidates.Len())
	for _, doc := range candidates {
		var score float64
		for _, tp := range matched {
			if !tp.docs.Contains(doc) {
				continue
			}
			for f := 0; f < index.NumFields; f++ {
				tf := float64(tp.freq(doc, index.Field(f)))
				if tf == 0 {
					continue
				}
				score += weights[f] * tp.idf * saturate(tf, p.K1, p.Fields[f].B,
					float64(snap.FieldLength(doc, index.Field(f))), avgLen[f])
			}
		}
		score += p.featureBoost(snap, doc)
		hits = append(hits, scoredDoc{doc: doc, score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].doc < hits[j].doc
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	for _, h := range hits {
		scored = append(scored, Result{
			PackageID: snap.PackageID(h.doc),
			Score:     h.score,
		})
	}
	return scored
}

// saturate computes the BM25F term-frequency component for one field:
// tf·(k1+1) / (tf + k1·(1 − b + b·len/avglen)).
func saturate(tf, k1, b, fieldLen, avgLen float64) float64 {
	norm := 1.0
	if avgLen > 0 {
		norm = 1 - b + b*fieldLen/avgLen
	}
	return tf * (k1 + 1) / (tf + k1*norm)
}

// dedupe removes repeated query terms while preserving first-seen order.
// Scoring a repeated term twice would double-count it.
func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
