package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPassages() []Passage {
	return []Passage{
		{
			ChunkID: "a-1", DocID: "doc-a", URL: "https://help.example.com/rostering",
			Title: "Rostering overview", Section: "Setup",
			Text:   "Rostering lets admins sync class lists from their SIS. Enable rostering from the admin console before inviting teachers.",
			Source: "support",
		},
		{
			ChunkID: "b-1", DocID: "doc-b", URL: "https://help.example.com/sso",
			Title: "Single sign-on", Section: "Auth",
			Text:   "Configure single sign-on with your identity provider. SAML and OIDC are both available.",
			Source: "support",
		},
		{
			ChunkID: "c-1", DocID: "doc-c", URL: "https://dev.example.com/api-keys",
			Title: "API keys", Section: "Reference",
			Text:   "Create and rotate API keys from the developer dashboard. Keys expire after one year.",
			Source: "dev",
		},
	}
}

func TestSearchSingleMatchingPassage(t *testing.T) {
	idx := buildIndex(testPassages())

	results := idx.Search("rostering setup", Options{Limit: 6})
	require.Len(t, results, 1)
	assert.Equal(t, "a-1", results[0].Passage.ChunkID)
	assert.Contains(t, results[0].MatchedTerms, "rostering")
	assert.Contains(t, strings.ToLower(results[0].Snippet), "rostering")
}

func TestSearchEmptyQueryAfterStopwords(t *testing.T) {
	idx := buildIndex(testPassages())
	assert.Empty(t, idx.Search("the a of", Options{Limit: 6}))
	assert.Empty(t, idx.Search("", Options{Limit: 6}))
}

func TestSearchUnresolvedSourceFilterReturnsEmpty(t *testing.T) {
	idx := buildIndex(testPassages())
	results := idx.Search("rostering", Options{Limit: 6, Sources: []string{"marketing"}})
	assert.Empty(t, results)
}

func TestSearchSourceFilter(t *testing.T) {
	idx := buildIndex(testPassages())

	results := idx.Search("keys dashboard", Options{Limit: 6, Sources: []string{"dev"}})
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "dev", r.Passage.ResolvedSource())
	}

	// The same query restricted to support finds nothing.
	assert.Empty(t, idx.Search("dashboard", Options{Limit: 6, Sources: []string{"support"}}))
}

func TestSearchDeterministicOrdering(t *testing.T) {
	idx := buildIndex(testPassages())

	first := idx.Search("sign-on identity keys", Options{Limit: 6})
	for i := 0; i < 5; i++ {
		again := idx.Search("sign-on identity keys", Options{Limit: 6})
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].Passage.ChunkID, again[j].Passage.ChunkID)
			assert.Equal(t, first[j].Score, again[j].Score)
		}
	}
}

func TestSearchWeightMultiplier(t *testing.T) {
	passages := []Passage{
		{ChunkID: "x-1", DocID: "dx", URL: "https://h/x", Title: "Billing", Text: "Billing invoices are sent monthly.", Source: "support"},
		{ChunkID: "y-1", DocID: "dy", URL: "https://h/y", Title: "Billing", Text: "Billing invoices are sent monthly.", Source: "support"},
	}
	idx := buildIndex(passages)

	base := idx.Search("billing invoices", Options{Limit: 2})
	require.Len(t, base, 2)

	boosted := idx.Search("billing invoices", Options{Limit: 2, Weights: map[string]float64{"y-1": 3.0}})
	require.Len(t, boosted, 2)
	assert.Equal(t, "y-1", boosted[0].Passage.ChunkID)
	assert.Equal(t, 3.0, boosted[0].Weight)
	assert.Equal(t, 1.0, boosted[1].Weight)
	assert.InDelta(t, base[0].Score*3.0, boosted[0].Score, 1e-9)
}

func TestSearchWeightZeroFullyDemotes(t *testing.T) {
	passages := []Passage{
		{ChunkID: "x-1", DocID: "dx", URL: "https://h/x", Title: "Billing", Text: "Billing invoices are sent monthly.", Source: "support"},
		{ChunkID: "y-1", DocID: "dy", URL: "https://h/y", Title: "Billing", Text: "Billing invoices are sent monthly.", Source: "support"},
	}
	idx := buildIndex(passages)

	demoted := idx.Search("billing invoices", Options{Limit: 2, Weights: map[string]float64{"x-1": 0}})
	require.Len(t, demoted, 2)
	assert.Equal(t, "y-1", demoted[0].Passage.ChunkID)
	assert.Equal(t, "x-1", demoted[1].Passage.ChunkID)
	assert.Zero(t, demoted[1].Score)
	assert.Zero(t, demoted[1].Weight)

	// Negative weights are ignored, not applied.
	negative := idx.Search("billing invoices", Options{Limit: 2, Weights: map[string]float64{"x-1": -2}})
	require.Len(t, negative, 2)
	for _, r := range negative {
		assert.Equal(t, 1.0, r.Weight)
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestSearchTitlePhraseBonus(t *testing.T) {
	passages := []Passage{
		{ChunkID: "t-1", DocID: "d1", URL: "https://h/1", Title: "Password reset", Text: "Users can change credentials from settings.", Source: "support"},
		{ChunkID: "t-2", DocID: "d2", URL: "https://h/2", Title: "Account settings", Text: "The password reset flow emails a link.", Source: "support"},
	}
	idx := buildIndex(passages)

	results := idx.Search("password reset", Options{Limit: 2})
	require.Len(t, results, 2)
	// Exact title match outranks a body mention.
	assert.Equal(t, "t-1", results[0].Passage.ChunkID)
}

func TestSearchDiversityPrefersDistinctURLs(t *testing.T) {
	var passages []Passage
	// Five chunks of one long document all mention deployment, plus two
	// single-chunk documents.
	for _, id := range []string{"long-1", "long-2", "long-3", "long-4", "long-5"} {
		passages = append(passages, Passage{
			ChunkID: id, DocID: "doc-long", URL: "https://h/long-guide",
			Title: "Deployment guide", Text: "Deployment steps for the long guide. " + id,
			Source: "support",
		})
	}
	passages = append(passages,
		Passage{ChunkID: "s-1", DocID: "doc-s1", URL: "https://h/quickstart", Title: "Quickstart", Text: "Deployment quickstart for small teams.", Source: "support"},
		Passage{ChunkID: "s-2", DocID: "doc-s2", URL: "https://h/faq", Title: "FAQ", Text: "Deployment questions answered.", Source: "support"},
	)
	idx := buildIndex(passages)

	results := idx.Search("deployment", Options{Limit: 3})
	require.Len(t, results, 3)
	urls := map[string]int{}
	for _, r := range results {
		urls[r.Passage.URL]++
	}
	// Three distinct URLs exist, so no URL repeats.
	assert.Len(t, urls, 3)

	// With a higher limit the long document backfills the remainder.
	results = idx.Search("deployment", Options{Limit: 5})
	require.Len(t, results, 5)
}

func TestSnippetWindowsAroundEarliestMatch(t *testing.T) {
	padding := strings.Repeat("filler words before the match appear here. ", 8)
	body := padding + "The rostering toggle lives under district settings." + strings.Repeat(" trailing text", 30)
	idx := buildIndex([]Passage{{
		ChunkID: "p-1", DocID: "d", URL: "https://h/p", Title: "Admin guide",
		Text: body, Source: "support",
	}})

	results := idx.Search("rostering", Options{Limit: 1})
	require.Len(t, results, 1)
	snippet := results[0].Snippet
	assert.Contains(t, snippet, "rostering")
	assert.True(t, strings.HasPrefix(snippet, "…"), "snippet should be cut at the front")
	assert.True(t, strings.HasSuffix(snippet, "…"), "snippet should be cut at the back")
	assert.LessOrEqual(t, len(snippet), snippetWindow+2*len("…"))
}

func TestSnippetFallsBackToBodyStartOnTitleOnlyMatch(t *testing.T) {
	body := "This body never mentions the query term at all. " + strings.Repeat("More filler. ", 30)
	idx := buildIndex([]Passage{{
		ChunkID: "p-2", DocID: "d", URL: "https://h/p2", Title: "Webhooks",
		Text: body, Source: "dev",
	}})

	results := idx.Search("webhooks", Options{Limit: 1})
	require.Len(t, results, 1)
	assert.True(t, strings.HasPrefix(results[0].Snippet, "This body never mentions"))
	assert.True(t, strings.HasSuffix(results[0].Snippet, "…"))
}

func TestZeroTermMatchesExcluded(t *testing.T) {
	idx := buildIndex(testPassages())
	results := idx.Search("kubernetes helm charts", Options{Limit: 6})
	assert.Empty(t, results)
}
