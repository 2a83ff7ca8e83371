package turn

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"supportchat/internal/ledger"
	"supportchat/internal/store"
)

// finalize persists the assistant message with its citations, settles the
// ledger, and assembles the result. This stage is the point of no return:
// failures here are infrastructure defects and are reported as-is, never
// silently retried.
func (s *Service) finalize(exec *execution) (*Result, error) {
	prep := exec.prep

	if prep.personal {
		s.auditCredential(prep.req.UserID, prep.credentialID, prep.requestID,
			store.AuditCredentialUsed, "")
	}

	billingMode := store.BillingHouse
	if prep.personal {
		billingMode = store.BillingPersonal
	}
	assistantMsg := &store.Message{
		ThreadID:     prep.req.ThreadID,
		Role:         "model",
		Content:      exec.response.Text,
		Model:        prep.model.ID,
		Provider:     prep.model.Provider,
		InputTokens:  exec.response.Usage.InputTokens,
		OutputTokens: exec.response.Usage.OutputTokens,
		TotalTokens:  exec.response.Usage.TotalTokens,
		CostCents:    exec.actualCents,
		BillingMode:  billingMode,
	}

	citations := make([]store.Citation, 0, len(exec.retrieval))
	for i, r := range exec.retrieval {
		citations = append(citations, store.Citation{
			ChunkID: r.Passage.ChunkID,
			Rank:    i + 1,
			Score:   math.Round(r.Score*10000) / 10000,
			Snippet: r.Snippet,
			Weight:  r.Weight,
			Title:   r.Passage.Title,
			URL:     r.Passage.URL,
		})
	}

	titleIfUnset := ""
	if prep.thread.Title == nil || *prep.thread.Title == "" {
		titleIfUnset = s.threadTitle(prep)
	}

	if err := s.store.CreateAssistantTurn(assistantMsg, citations, titleIfUnset); err != nil {
		return nil, fmt.Errorf("persist assistant turn: %w", err)
	}

	budget, err := s.settle(exec, assistantMsg.ID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("request_id", prep.requestID).
		Str("thread_id", prep.req.ThreadID).
		Str("model", prep.model.ID).
		Int64("charged_cents", budget.ChargedCents).
		Int64("remaining_cents", budget.RemainingCents).
		Int("citations", len(citations)).
		Msg("turn finalized")

	return &Result{
		ThreadID:         prep.req.ThreadID,
		UserMessage:      *prep.userMsg,
		AssistantMessage: *assistantMsg,
		Citations:        citations,
		Budget:           budget,
	}, nil
}

// settle finalizes the reservation for house-funded turns, or just reads
// the balance when a personal credential paid for the call.
func (s *Service) settle(exec *execution, assistantMsgID string) (Budget, error) {
	prep := exec.prep
	corr := prep.correlation()
	corr.MessageID = assistantMsgID

	if prep.personal {
		remaining, err := s.ledger.Balance(prep.req.UserID)
		if err != nil {
			return Budget{}, fmt.Errorf("read balance: %w", err)
		}
		return Budget{RemainingCents: remaining, BillingMode: store.BillingPersonal}, nil
	}

	settlement, err := s.ledger.Finalize(prep.req.UserID, exec.reservedCents, exec.actualCents, corr)
	if err != nil {
		var inv *ledger.SettlementInvariantError
		if errors.As(err, &inv) {
			// Estimator defect: the measured cost exceeded the reservation.
			// Reported, never clamped.
			log.Error().
				Str("request_id", prep.requestID).
				Int64("reserved_cents", inv.ReservedCents).
				Int64("actual_cents", inv.ActualCents).
				Msg("cost estimate was not a conservative upper bound")
		}
		return Budget{}, fmt.Errorf("settle reservation: %w", err)
	}
	return Budget{
		ReservedCents:  exec.reservedCents,
		ChargedCents:   settlement.DebitedCents,
		ReleasedCents:  settlement.ReleasedCents,
		RemainingCents: settlement.RemainingCents,
		BillingMode:    store.BillingHouse,
	}, nil
}

// threadTitle derives the once-only thread title from the first user
// message.
func (s *Service) threadTitle(prep *preparedTurn) string {
	first, err := s.store.GetFirstUserMessage(prep.req.ThreadID)
	if err != nil || first == nil {
		return deriveTitle(prep.req.Content)
	}
	return deriveTitle(first.Content)
}
