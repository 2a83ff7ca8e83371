// Package turn runs one chat turn as a three-stage pipeline: Prepare
// validates and resolves, Execute retrieves, reserves and calls the
// provider, Finalize persists and settles. The only side effect Execute
// leaves behind on failure is the reservation, and it is compensated in
// full before the error is re-raised.
package turn

import (
	"context"
	"errors"

	"supportchat/internal/ledger"
	"supportchat/internal/llm"
	"supportchat/internal/search"
	"supportchat/internal/secrets"
	"supportchat/internal/store"
)

// Terminal Prepare-stage errors; none of them require compensation.
var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrForbidden      = errors.New("thread does not belong to caller")
	ErrEmptyContent   = errors.New("message content cannot be empty")
	ErrNoCredential   = errors.New("no credential available for the model's provider")
	ErrCredential     = errors.New("credential error")
)

// ErrUpstream is the generic failure reported for any provider error;
// provider internals never leak to the caller.
var ErrUpstream = errors.New("upstream provider failure")

// Sampling parameter clamps. Missing or non-finite values fall back to the
// defaults.
const (
	defaultTopK = 6
	minTopK     = 1
	maxTopK     = 12

	defaultTemperature = 0.3
	minTemperature     = 0.0
	maxTemperature     = 1.0

	defaultMaxTokens = 1024
	minMaxTokens     = 64
	maxMaxTokens     = 4096

	historyLoadLimit   = 12 // messages fetched from the thread
	historyPromptLimit = 8  // most recent messages actually prompted
)

// Request is one turn as submitted by the boundary layer.
type Request struct {
	UserID          int64
	ThreadID        string
	Content         string
	Sources         []string
	Model           string
	TopK            int      // 0 means default
	Temperature     *float64 // nil means default
	MaxOutputTokens int      // 0 means default
	CredentialID    string   // personal credential; empty means house billing
	Weights         map[string]float64
}

// Budget summarizes the money movement of one turn, all integer cents.
type Budget struct {
	ReservedCents  int64  `json:"reserved_cents"`
	ChargedCents   int64  `json:"charged_cents"`
	ReleasedCents  int64  `json:"released_cents"`
	RemainingCents int64  `json:"remaining_cents"`
	BillingMode    string `json:"billing_mode"`
}

// Result is the completed turn.
type Result struct {
	ThreadID         string           `json:"thread_id"`
	UserMessage      store.Message    `json:"user_message"`
	AssistantMessage store.Message    `json:"assistant_message"`
	Citations        []store.Citation `json:"citations"`
	Budget           Budget           `json:"budget"`
}

type Service struct {
	store    *store.SQLiteStore
	index    *search.Service
	ledger   *ledger.Service
	provider llm.Client
	catalog  *llm.Catalog
	keyring  *secrets.Keyring
	houseKey string
}

func NewService(
	st *store.SQLiteStore,
	index *search.Service,
	lg *ledger.Service,
	provider llm.Client,
	catalog *llm.Catalog,
	keyring *secrets.Keyring,
	houseKey string,
) *Service {
	return &Service{
		store:    st,
		index:    index,
		ledger:   lg,
		provider: provider,
		catalog:  catalog,
		keyring:  keyring,
		houseKey: houseKey,
	}
}

// Run executes one turn end to end.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	prep, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	exec, err := s.execute(ctx, prep)
	if err != nil {
		return nil, err
	}
	return s.finalize(exec)
}
