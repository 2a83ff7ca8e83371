package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrUnknownModel reports a caller-named model absent from the catalog.
var ErrUnknownModel = errors.New("unknown model")

// ModelInfo is one priced catalog entry. Pricing is integer-safe: cents per
// one million tokens, applied with ceiling division.
type ModelInfo struct {
	ID                 string  `json:"id"`
	Provider           string  `json:"provider"`
	InputCentsPerMTok  float64 `json:"input_cents_per_mtok"`
	OutputCentsPerMTok float64 `json:"output_cents_per_mtok"`
}

// fallbackModels is the fixed table used when live discovery fails or has
// not run yet. Prices track the public Gemini rate card.
var fallbackModels = []ModelInfo{
	{ID: "gemini-1.5-flash-latest", Provider: "google", InputCentsPerMTok: 7.5, OutputCentsPerMTok: 30},
	{ID: "gemini-1.5-flash-8b", Provider: "google", InputCentsPerMTok: 3.75, OutputCentsPerMTok: 15},
	{ID: "gemini-1.5-pro-latest", Provider: "google", InputCentsPerMTok: 125, OutputCentsPerMTok: 500},
	{ID: "gemini-2.0-flash", Provider: "google", InputCentsPerMTok: 10, OutputCentsPerMTok: 40},
}

// Catalog resolves model ids against the currently available set: live
// discovery merged over the fixed fallback table. An empty catalog is a
// configuration error, never a silent no-model state.
type Catalog struct {
	mu        sync.RWMutex
	models    map[string]ModelInfo
	defaultID string
}

func NewCatalog(defaultID string) (*Catalog, error) {
	models := make(map[string]ModelInfo, len(fallbackModels))
	for _, m := range fallbackModels {
		models[m.ID] = m
	}
	if len(models) == 0 {
		return nil, errors.New("model catalog is empty")
	}
	if _, ok := models[defaultID]; !ok {
		return nil, fmt.Errorf("default model %q not in catalog", defaultID)
	}
	return &Catalog{models: models, defaultID: defaultID}, nil
}

// Refresh merges live discovery into the catalog: discovered models with
// known pricing replace the fallback set; models without pricing cannot be
// metered and are skipped. Discovery failure keeps the current table.
func (c *Catalog) Refresh(ctx context.Context, client Client) {
	ids, err := client.ListModelIDs(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("model discovery failed, keeping static catalog")
		return
	}

	priced := make(map[string]ModelInfo, len(fallbackModels))
	for _, m := range fallbackModels {
		priced[m.ID] = m
	}
	live := make(map[string]ModelInfo)
	for _, id := range ids {
		if m, ok := priced[id]; ok {
			live[id] = m
		}
	}
	if len(live) == 0 {
		log.Warn().Int("discovered", len(ids)).Msg("no discovered model has pricing, keeping static catalog")
		return
	}
	if _, ok := live[c.defaultID]; !ok {
		// The default must always resolve.
		live[c.defaultID] = priced[c.defaultID]
	}

	c.mu.Lock()
	c.models = live
	c.mu.Unlock()
	log.Info().Int("models", len(live)).Msg("model catalog refreshed from live discovery")
}

// Resolve returns the catalog entry for the requested model, or the default
// when none is named.
func (c *Catalog) Resolve(requested string) (ModelInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if requested == "" {
		requested = c.defaultID
	}
	m, ok := c.models[requested]
	if !ok {
		return ModelInfo{}, fmt.Errorf("%w: %s", ErrUnknownModel, requested)
	}
	return m, nil
}

// Models returns the current catalog entries in no particular order.
func (c *Catalog) Models() []ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModelInfo, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	return out
}
