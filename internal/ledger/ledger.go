// Package ledger meters turn costs against per-user prepaid balances.
// Every mutation goes through a single conditional update or a single
// transaction in the store; the package holds no locks of its own.
package ledger

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"supportchat/internal/store"
)

// Correlation ties ledger entries back to the turn that caused them.
type Correlation struct {
	RequestID string
	ThreadID  string
	MessageID string
	ModelID   string
	Provider  string
}

// InsufficientBalanceError reports a reservation the balance cannot cover,
// carrying the caller's actual remaining balance.
type InsufficientBalanceError struct {
	RequiredCents  int64
	RemainingCents int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d cents, have %d cents", e.RequiredCents, e.RemainingCents)
}

// SettlementInvariantError reports a measured cost above the reservation.
// The estimate is designed as a conservative upper bound, so this marks an
// estimator defect to investigate, not a condition to clamp.
type SettlementInvariantError struct {
	ReservedCents int64
	ActualCents   int64
}

func (e *SettlementInvariantError) Error() string {
	return fmt.Sprintf("settlement invariant violated: actual cost %d cents exceeds reservation of %d cents", e.ActualCents, e.ReservedCents)
}

// Settlement is the outcome of finalizing a reservation.
type Settlement struct {
	DebitedCents   int64 `json:"debited_cents"`
	ReleasedCents  int64 `json:"released_cents"`
	RemainingCents int64 `json:"remaining_cents"`
}

type Service struct {
	store *store.SQLiteStore
}

func NewService(s *store.SQLiteStore) *Service {
	return &Service{store: s}
}

func entryFor(userID int64, entryType string, amount int64, corr Correlation) *store.LedgerEntry {
	return &store.LedgerEntry{
		UserID:      userID,
		Type:        entryType,
		AmountCents: amount,
		RequestID:   corr.RequestID,
		ThreadID:    corr.ThreadID,
		MessageID:   corr.MessageID,
		ModelID:     corr.ModelID,
		Provider:    corr.Provider,
	}
}

// Reserve holds amountCents against the user's balance ahead of a provider
// call. The hold succeeds only if the balance covers it, enforced by the
// store's conditional update; on failure no entry is written and the error
// carries the current balance.
func (s *Service) Reserve(userID int64, amountCents int64, corr Correlation) (int64, error) {
	if amountCents <= 0 {
		return 0, fmt.Errorf("reserve amount must be positive, got %d", amountCents)
	}

	entry := entryFor(userID, store.EntryReserve, amountCents, corr)
	remaining, ok, err := s.store.ReserveFunds(entry)
	if err != nil {
		return 0, fmt.Errorf("reserve funds: %w", err)
	}
	if !ok {
		return 0, &InsufficientBalanceError{RequiredCents: amountCents, RemainingCents: remaining}
	}

	log.Debug().
		Int64("user_id", userID).
		Int64("reserved_cents", amountCents).
		Int64("remaining_cents", remaining).
		Str("request_id", corr.RequestID).
		Msg("funds reserved")
	return remaining, nil
}

// Finalize settles a reservation against the measured actual cost: the
// actual cost stays debited, the difference is credited back. Writes a debit
// entry and, when anything was left over, a release entry.
func (s *Service) Finalize(userID int64, reservedCents, actualCents int64, corr Correlation) (Settlement, error) {
	if actualCents < 0 {
		return Settlement{}, fmt.Errorf("actual cost must not be negative, got %d", actualCents)
	}
	releaseCents := reservedCents - actualCents
	if releaseCents < 0 {
		return Settlement{}, &SettlementInvariantError{ReservedCents: reservedCents, ActualCents: actualCents}
	}

	debit := entryFor(userID, store.EntryDebit, actualCents, corr)
	release := entryFor(userID, store.EntryRelease, releaseCents, corr)
	remaining, err := s.store.SettleFunds(userID, releaseCents, actualCents, debit, release)
	if err != nil {
		return Settlement{}, fmt.Errorf("settle funds: %w", err)
	}

	log.Debug().
		Int64("user_id", userID).
		Int64("debited_cents", actualCents).
		Int64("released_cents", releaseCents).
		Int64("remaining_cents", remaining).
		Str("request_id", corr.RequestID).
		Msg("reservation settled")
	return Settlement{DebitedCents: actualCents, ReleasedCents: releaseCents, RemainingCents: remaining}, nil
}

// Release refunds a reservation in full after a failed provider call. No
// debit is written; the user is not charged for a failed attempt.
func (s *Service) Release(userID int64, reservedCents int64, corr Correlation, reason string) (int64, error) {
	if reservedCents <= 0 {
		return 0, fmt.Errorf("release amount must be positive, got %d", reservedCents)
	}

	entry := entryFor(userID, store.EntryRelease, reservedCents, corr)
	entry.Metadata = reason
	remaining, err := s.store.ReleaseFunds(entry)
	if err != nil {
		return 0, fmt.Errorf("release funds: %w", err)
	}

	log.Info().
		Int64("user_id", userID).
		Int64("released_cents", reservedCents).
		Str("reason", reason).
		Str("request_id", corr.RequestID).
		Msg("reservation released")
	return remaining, nil
}

// Grant credits a balance, creating it on first grant.
func (s *Service) Grant(userID int64, amountCents int64, corr Correlation) (int64, error) {
	if amountCents <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amountCents)
	}

	entry := entryFor(userID, store.EntryGrant, amountCents, corr)
	remaining, err := s.store.GrantFunds(entry)
	if err != nil {
		return 0, fmt.Errorf("grant funds: %w", err)
	}
	return remaining, nil
}

// Balance returns the current balance in cents; zero when no balance row
// exists yet.
func (s *Service) Balance(userID int64) (int64, error) {
	b, err := s.store.GetBalance(userID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if b == nil {
		return 0, nil
	}
	return b.BalanceCents, nil
}
