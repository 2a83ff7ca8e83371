package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// indexedPassage carries the per-passage precomputation done at build time.
type indexedPassage struct {
	passage    Passage
	termFreq   map[string]int
	docLen     int
	titleTerms map[string]struct{}
	titleLower string
	bodyLower  string
	body       string // cleaned text, used for snippet extraction
	source     string
}

// Index is an in-memory inverted index over the corpus. Read-only after
// build; safe for concurrent queries.
type Index struct {
	passages  []indexedPassage
	docFreq   map[string]int
	avgDocLen float64

	// per-source counts, documents deduped by doc_id
	sourceDocs   map[string]int
	sourceChunks map[string]int
}

// Len returns the number of indexed passages.
func (idx *Index) Len() int { return len(idx.passages) }

// Sources returns the per-source chunk counts.
func (idx *Index) Sources() map[string]int {
	out := make(map[string]int, len(idx.sourceChunks))
	for k, v := range idx.sourceChunks {
		out[k] = v
	}
	return out
}

func buildIndex(passages []Passage) *Index {
	idx := &Index{
		docFreq:      make(map[string]int),
		sourceDocs:   make(map[string]int),
		sourceChunks: make(map[string]int),
	}

	totalLen := 0
	seenDocs := make(map[string]struct{})
	for _, p := range passages {
		body := CleanText(p.Text)
		terms := Tokenize(p.Title + " " + p.Section + " " + body)
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		for t := range tf {
			idx.docFreq[t]++
		}

		titleTerms := make(map[string]struct{})
		for _, t := range Tokenize(p.Title) {
			titleTerms[t] = struct{}{}
		}

		source := p.ResolvedSource()
		idx.sourceChunks[source]++
		docKey := source + "\x00" + p.DocID
		if _, seen := seenDocs[docKey]; !seen {
			seenDocs[docKey] = struct{}{}
			idx.sourceDocs[source]++
		}

		totalLen += len(terms)
		idx.passages = append(idx.passages, indexedPassage{
			passage:    p,
			termFreq:   tf,
			docLen:     len(terms),
			titleTerms: titleTerms,
			titleLower: strings.ToLower(p.Title),
			bodyLower:  strings.ToLower(body),
			body:       body,
			source:     source,
		})
	}

	if len(idx.passages) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(idx.passages))
	}
	return idx
}

// Stats describes the index build state for operational tooling.
type Stats struct {
	Built         bool          `json:"built"`
	Builds        int           `json:"builds"`
	LastBuildTime time.Duration `json:"last_build_ns"`
	Passages      int           `json:"passages"`
}

// Service owns the process-lifetime index cache. The first caller pays the
// build; concurrent callers during the build share the in-flight result.
type Service struct {
	loader func() ([]Passage, error)

	mu        sync.RWMutex
	idx       *Index
	builds    int
	lastBuild time.Duration

	group singleflight.Group
}

// NewService returns a Service that builds the index from loader on first
// use. The common loader is func() { return LoadPassages(path) }.
func NewService(loader func() ([]Passage, error)) *Service {
	return &Service{loader: loader}
}

// Index returns the built index, triggering a build if needed. Concurrent
// first callers converge on a single build.
func (s *Service) Index(ctx context.Context) (*Index, error) {
	s.mu.RLock()
	idx := s.idx
	s.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	v, err, _ := s.group.Do("build", func() (any, error) {
		return s.build()
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// Rebuild discards the cached index and builds a fresh one.
func (s *Service) Rebuild(ctx context.Context) (*Index, error) {
	s.mu.Lock()
	s.idx = nil
	s.mu.Unlock()
	s.group.Forget("build")
	return s.Index(ctx)
}

func (s *Service) build() (*Index, error) {
	start := time.Now()
	passages, err := s.loader()
	if err != nil {
		return nil, err
	}
	idx := buildIndex(passages)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.idx = idx
	s.builds++
	s.lastBuild = elapsed
	s.mu.Unlock()

	log.Info().
		Int("passages", idx.Len()).
		Dur("took", elapsed).
		Msg("corpus index built")
	return idx, nil
}

// Stats reports build diagnostics. Retrieval never consults these.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Built:         s.idx != nil,
		Builds:        s.builds,
		LastBuildTime: s.lastBuild,
	}
	if s.idx != nil {
		st.Passages = s.idx.Len()
	}
	return st
}
