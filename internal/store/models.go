package store

import "time"

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

type Thread struct {
	ID         string    `json:"id"` // UUID
	UserID     int64     `json:"user_id"`
	Title      *string   `json:"title"` // Nullable until the first turn completes
	Visibility string    `json:"visibility"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Billing modes recorded on assistant messages.
const (
	BillingHouse    = "house"
	BillingPersonal = "personal"
)

type Message struct {
	ID               string    `json:"id"` // UUID
	ThreadID         string    `json:"thread_id"`
	Role             string    `json:"role"` // "user" or "model"
	Content          string    `json:"content"`
	Model            string    `json:"model,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	InputTokens      int       `json:"input_tokens,omitempty"`
	OutputTokens     int       `json:"output_tokens,omitempty"`
	TotalTokens      int       `json:"total_tokens,omitempty"`
	CostCents        int64     `json:"cost_cents"`
	BillingMode      string    `json:"billing_mode,omitempty"`
	NegativeFeedback bool      `json:"negative_feedback"`
	CreatedAt        time.Time `json:"created_at"`
}

// Citation ties an assistant message back to a retrieved passage.
type Citation struct {
	ID        int64   `json:"-"`
	MessageID string  `json:"-"`
	ChunkID   string  `json:"chunk_id"`
	Rank      int     `json:"rank"` // 1-indexed
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet"`
	Weight    float64 `json:"weight"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
}

// Balance is the per-user prepaid balance, integer cents throughout.
type Balance struct {
	UserID       int64     `json:"user_id"`
	BalanceCents int64     `json:"balance_cents"`
	GrantedCents int64     `json:"granted_cents"`
	SpentCents   int64     `json:"spent_cents"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Ledger entry types.
const (
	EntryGrant   = "grant"
	EntryReserve = "reserve"
	EntryDebit   = "debit"
	EntryRelease = "release"
)

// LedgerEntry is an immutable record of one balance-affecting event.
type LedgerEntry struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	Type        string    `json:"type"`
	AmountCents int64     `json:"amount_cents"`
	RequestID   string    `json:"request_id,omitempty"`
	ThreadID    string    `json:"thread_id,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	ModelID     string    `json:"model_id,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Metadata    string    `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Credential is a user-held upstream API credential, sealed at rest.
type Credential struct {
	ID         string    `json:"id"` // UUID
	UserID     int64     `json:"user_id"`
	Provider   string    `json:"provider"`
	Ciphertext []byte    `json:"-"`
	KeyVersion int       `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Audit event kinds for personal-credential use.
const (
	AuditCredentialUsed   = "credential_used"
	AuditCredentialFailed = "credential_failed"
)

// AuditEvent records a personal-credential use outside house billing.
type AuditEvent struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	CredentialID string    `json:"credential_id"`
	RequestID    string    `json:"request_id"`
	Event        string    `json:"event"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
