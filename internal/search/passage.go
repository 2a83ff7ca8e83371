package search

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Passage is one indexed corpus unit, produced by the ingestion pipeline as
// a line-delimited JSON record. Immutable once loaded.
type Passage struct {
	ChunkID        string   `json:"chunk_id"`
	DocID          string   `json:"doc_id"`
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	Section        string   `json:"section,omitempty"`
	HeadingPath    []string `json:"heading_path,omitempty"`
	Text           string   `json:"text"`
	Source         string   `json:"source,omitempty"`
	SourceHost     string   `json:"source_host,omitempty"`
	TokensEstimate int      `json:"tokens_estimate,omitempty"`
}

// ResolvedSource returns the passage's source tag, inferring it from the
// URL hostname when the record carries no explicit source field.
func (p *Passage) ResolvedSource() string {
	if p.Source != "" {
		return p.Source
	}
	if p.SourceHost != "" {
		return p.SourceHost
	}
	if u, err := url.Parse(p.URL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return ""
}

// LoadPassages reads line-delimited passage records from path. Malformed
// lines and records missing a required field are skipped silently; only the
// count of skips is logged.
func LoadPassages(path string) ([]Passage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var passages []Passage
	skipped := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var p Passage
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			skipped++
			continue
		}
		if p.ChunkID == "" || p.URL == "" || p.Title == "" || p.Text == "" {
			skipped++
			continue
		}
		passages = append(passages, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}

	log.Info().
		Str("path", path).
		Int("loaded", len(passages)).
		Int("skipped", skipped).
		Msg("corpus passages loaded")
	return passages, nil
}
