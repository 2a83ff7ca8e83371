package search

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75

	titleTermBonus   = 0.8 // applied per matching title term, scaled by idf
	titlePhraseBonus = 2.5
	bodyPhraseBonus  = 1.2

	snippetWindow   = 280
	snippetLead     = 90
	snippetFallback = 220
)

// Result is one ranked retrieval hit. Ephemeral; the orchestrator persists
// the downstream citation.
type Result struct {
	Passage      *Passage
	Score        float64
	MatchedTerms []string
	Snippet      string
	Weight       float64
}

// Options control one retrieval call.
type Options struct {
	// Limit is the maximum number of results (top-K).
	Limit int
	// Sources restricts results to the given source tags. Empty means all.
	Sources []string
	// Weights are per-chunk relevance multipliers keyed by ChunkID,
	// defaulting to 1.0 when absent. Non-negative supplied values apply
	// as-is (zero fully demotes); negative values are ignored. The
	// operator hook for boosting or demoting passages without a reindex.
	Weights map[string]float64
}

type scoredHit struct {
	pos     int
	score   float64
	matched []string
	weight  float64
}

// Search ranks indexed passages against the query with BM25, title and
// whole-phrase bonuses, and external weight multipliers, then selects up to
// Limit results preferring distinct source URLs.
func (idx *Index) Search(query string, opts Options) []Result {
	terms := dedupeTerms(Tokenize(query))
	if len(terms) == 0 {
		return nil
	}

	var sourceFilter map[string]struct{}
	if len(opts.Sources) > 0 {
		sourceFilter = make(map[string]struct{})
		for _, s := range opts.Sources {
			if _, known := idx.sourceChunks[s]; known {
				sourceFilter[s] = struct{}{}
			}
		}
		// Filter requested but nothing resolves: no scan, no results.
		if len(sourceFilter) == 0 {
			return nil
		}
	}

	queryLower := strings.ToLower(strings.TrimSpace(query))
	n := float64(len(idx.passages))

	var hits []scoredHit
	for i := range idx.passages {
		ip := &idx.passages[i]
		if sourceFilter != nil {
			if _, ok := sourceFilter[ip.source]; !ok {
				continue
			}
		}

		score := 0.0
		var matched []string
		for _, term := range terms {
			tf := ip.termFreq[term]
			if tf == 0 {
				continue
			}
			df := float64(idx.docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1 - bm25B + bm25B*(float64(ip.docLen)/idx.avgDocLen)
			score += idf * (float64(tf) * (bm25K1 + 1)) / (float64(tf) + bm25K1*norm)
			if _, inTitle := ip.titleTerms[term]; inTitle {
				score += idf * titleTermBonus
			}
			matched = append(matched, term)
		}
		if len(matched) == 0 {
			continue
		}

		if strings.Contains(ip.titleLower, queryLower) {
			score += titlePhraseBonus
		}
		if strings.Contains(ip.bodyLower, queryLower) {
			score += bodyPhraseBonus
		}

		weight := 1.0
		if w, ok := opts.Weights[ip.passage.ChunkID]; ok && w >= 0 {
			weight = w
		}
		hits = append(hits, scoredHit{pos: i, score: score * weight, matched: matched, weight: weight})
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return idx.passages[hits[a].pos].passage.ChunkID < idx.passages[hits[b].pos].passage.ChunkID
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 6
	}
	selected := idx.selectDiverse(hits, limit)

	results := make([]Result, 0, len(selected))
	for _, h := range selected {
		ip := &idx.passages[h.pos]
		results = append(results, Result{
			Passage:      &ip.passage,
			Score:        h.score,
			MatchedTerms: h.matched,
			Snippet:      extractSnippet(ip.body, ip.bodyLower, h.matched),
			Weight:       h.weight,
		})
	}
	return results
}

// selectDiverse prefers one hit per distinct URL, then backfills with the
// next-highest remaining hits so one long document cannot crowd out the
// whole result set unless nothing else matched.
func (idx *Index) selectDiverse(hits []scoredHit, limit int) []scoredHit {
	if len(hits) <= limit {
		return hits
	}

	selected := make([]scoredHit, 0, limit)
	taken := make(map[int]struct{}, limit)
	seenURLs := make(map[string]struct{}, limit)
	for i, h := range hits {
		if len(selected) >= limit {
			break
		}
		u := idx.passages[h.pos].passage.URL
		if _, dup := seenURLs[u]; dup {
			continue
		}
		seenURLs[u] = struct{}{}
		taken[i] = struct{}{}
		selected = append(selected, h)
	}
	for i, h := range hits {
		if len(selected) >= limit {
			break
		}
		if _, ok := taken[i]; ok {
			continue
		}
		selected = append(selected, h)
	}

	// Restore global score order after the two passes.
	sort.Slice(selected, func(a, b int) bool {
		if selected[a].score != selected[b].score {
			return selected[a].score > selected[b].score
		}
		return idx.passages[selected[a].pos].passage.ChunkID < idx.passages[selected[b].pos].passage.ChunkID
	})
	return selected
}

// extractSnippet windows the cleaned body around the earliest query-term
// occurrence, falling back to the opening of the body when only the title
// matched.
func extractSnippet(body, bodyLower string, terms []string) string {
	earliest := -1
	for _, term := range terms {
		if pos := strings.Index(bodyLower, term); pos >= 0 && (earliest < 0 || pos < earliest) {
			earliest = pos
		}
	}

	if earliest < 0 {
		if len(body) <= snippetFallback {
			return body
		}
		return body[:runeBoundary(body, snippetFallback)] + "…"
	}

	start := earliest - snippetLead
	if start < 0 {
		start = 0
	}
	start = runeBoundary(body, start)
	end := start + snippetWindow
	if end >= len(body) {
		end = len(body)
	} else {
		end = runeBoundary(body, end)
	}

	snippet := body[start:end]
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(body) {
		snippet += "…"
	}
	return snippet
}

// runeBoundary steps pos back to the nearest UTF-8 rune start.
func runeBoundary(s string, pos int) int {
	for pos > 0 && pos < len(s) && !utf8.RuneStart(s[pos]) {
		pos--
	}
	return pos
}
