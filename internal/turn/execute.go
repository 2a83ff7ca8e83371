package turn

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"supportchat/internal/ledger"
	"supportchat/internal/llm"
	"supportchat/internal/search"
	"supportchat/internal/store"
)

// estimateMargin pads the cost estimate so it stays a conservative upper
// bound on the measured actual cost.
const estimateMargin = 1.25

// execution is the in-memory record produced by Execute.
type execution struct {
	prep          *preparedTurn
	retrieval     []search.Result
	grounding     string
	reservedCents int64
	actualCents   int64
	response      *llm.GenerateResult
}

// execute retrieves grounding passages, reserves the estimated cost when
// house-funded, and calls the provider. Any failure after the reservation
// releases it in full before the error is surfaced.
func (s *Service) execute(ctx context.Context, prep *preparedTurn) (*execution, error) {
	history, err := s.loadHistory(prep)
	if err != nil {
		return nil, err
	}

	idx, err := s.index.Index(ctx)
	if err != nil {
		return nil, fmt.Errorf("build corpus index: %w", err)
	}
	retrieval := idx.Search(prep.req.Content, search.Options{
		Limit:   prep.topK,
		Sources: prep.req.Sources,
		Weights: prep.req.Weights,
	})
	grounding := buildGroundingPrompt(retrieval)

	messages := make([]llm.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: prep.req.Content})

	corr := prep.correlation()
	exec := &execution{prep: prep, retrieval: retrieval, grounding: grounding}

	if !prep.personal {
		estimate := estimateCostCents(prep.model, promptChars(grounding, messages), prep.maxTokens)
		if _, err := s.ledger.Reserve(prep.req.UserID, estimate, corr); err != nil {
			// Funding errors pass through untouched so the boundary can
			// report the caller's remaining balance.
			return nil, err
		}
		exec.reservedCents = estimate
	}

	resp, err := s.provider.Generate(ctx, llm.GenerateRequest{
		Model:              prep.model.ID,
		System:             grounding,
		Messages:           messages,
		Temperature:        prep.temperature,
		MaxOutputTokens:    prep.maxTokens,
		CredentialOverride: prep.apiKey,
	})
	if err != nil {
		s.compensate(exec, err)
		log.Error().Err(err).Str("request_id", prep.requestID).Msg("provider call failed")
		return nil, ErrUpstream
	}

	exec.response = resp
	exec.actualCents = costFromUsage(prep.model, resp.Usage)
	return exec, nil
}

// compensate undoes Execute's only durable side effect: the reservation.
// A failed personal-credential use is audit-logged with a reason code.
func (s *Service) compensate(exec *execution, cause error) {
	prep := exec.prep
	if exec.reservedCents > 0 {
		if _, err := s.ledger.Release(prep.req.UserID, exec.reservedCents, prep.correlation(), "provider_error"); err != nil {
			log.Error().Err(err).
				Str("request_id", prep.requestID).
				Int64("reserved_cents", exec.reservedCents).
				Msg("failed to release reservation after provider failure")
		}
	}
	if prep.personal {
		s.auditCredential(prep.req.UserID, prep.credentialID, prep.requestID,
			store.AuditCredentialFailed, failureReason(cause))
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "provider_error"
	}
}

// loadHistory returns the bounded window of prior turns, excluding the user
// message this turn just persisted.
func (s *Service) loadHistory(prep *preparedTurn) ([]store.Message, error) {
	recent, err := s.store.GetRecentMessages(prep.req.ThreadID, historyLoadLimit)
	if err != nil {
		return nil, fmt.Errorf("load thread history: %w", err)
	}
	history := make([]store.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID == prep.userMsg.ID {
			continue
		}
		history = append(history, m)
	}
	if len(history) > historyPromptLimit {
		history = history[len(history)-historyPromptLimit:]
	}
	return history, nil
}

func (prep *preparedTurn) correlation() ledger.Correlation {
	return ledger.Correlation{
		RequestID: prep.requestID,
		ThreadID:  prep.req.ThreadID,
		MessageID: prep.userMsg.ID,
		ModelID:   prep.model.ID,
		Provider:  prep.model.Provider,
	}
}

func promptChars(grounding string, messages []llm.ChatMessage) int {
	total := len(grounding)
	for _, m := range messages {
		total += len(m.Content)
	}
	return total
}

// estimateCostCents computes the conservative upper-bound reservation: a
// chars/4 input-token heuristic, the full requested output budget, and a
// safety margin, rounded up with a one-cent floor.
func estimateCostCents(model llm.ModelInfo, inputChars int, maxOutputTokens int32) int64 {
	inputTokens := float64(inputChars)/4 + 1
	cost := inputTokens*model.InputCentsPerMTok/1e6 +
		float64(maxOutputTokens)*model.OutputCentsPerMTok/1e6
	cents := int64(math.Ceil(cost * estimateMargin))
	if cents < 1 {
		cents = 1
	}
	return cents
}

// costFromUsage converts the provider's reported token usage to cents.
func costFromUsage(model llm.ModelInfo, usage llm.Usage) int64 {
	cost := float64(usage.InputTokens)*model.InputCentsPerMTok/1e6 +
		float64(usage.OutputTokens)*model.OutputCentsPerMTok/1e6
	if cost <= 0 {
		return 0
	}
	return int64(math.Ceil(cost))
}
