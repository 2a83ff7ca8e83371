package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS threads (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        title TEXT,
        visibility TEXT NOT NULL DEFAULT 'private',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        thread_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'model')),
        content TEXT NOT NULL,
        model TEXT,
        provider TEXT,
        input_tokens INTEGER DEFAULT 0,
        output_tokens INTEGER DEFAULT 0,
        total_tokens INTEGER DEFAULT 0,
        cost_cents INTEGER DEFAULT 0,
        billing_mode TEXT,
        negative_feedback BOOLEAN DEFAULT FALSE,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (thread_id) REFERENCES threads (id)
    );
    CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);

    CREATE TABLE IF NOT EXISTS citations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        message_id TEXT NOT NULL,
        chunk_id TEXT NOT NULL,
        rank INTEGER NOT NULL,
        score REAL NOT NULL,
        snippet TEXT,
        weight REAL NOT NULL DEFAULT 1.0,
        title TEXT,
        url TEXT,
        FOREIGN KEY (message_id) REFERENCES messages (id)
    );
    CREATE INDEX IF NOT EXISTS idx_citations_message ON citations(message_id);

    CREATE TABLE IF NOT EXISTS balances (
        user_id INTEGER PRIMARY KEY,
        balance_cents INTEGER NOT NULL DEFAULT 0,
        granted_cents INTEGER NOT NULL DEFAULT 0,
        spent_cents INTEGER NOT NULL DEFAULT 0,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS ledger_entries (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        entry_type TEXT NOT NULL CHECK (entry_type IN ('grant', 'reserve', 'debit', 'release')),
        amount_cents INTEGER NOT NULL,
        request_id TEXT,
        thread_id TEXT,
        message_id TEXT,
        model_id TEXT,
        provider TEXT,
        metadata TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );
    CREATE INDEX IF NOT EXISTS idx_ledger_user_time ON ledger_entries(user_id, created_at);

    CREATE TABLE IF NOT EXISTS user_credentials (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        provider TEXT NOT NULL,
        ciphertext BLOB NOT NULL,
        key_version INTEGER NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS audit_events (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        credential_id TEXT NOT NULL,
        request_id TEXT NOT NULL,
        event TEXT NOT NULL CHECK (event IN ('credential_used', 'credential_failed')),
        reason TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func (s *SQLiteStore) GetUserByExternalID(externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE external_user_id = ?", externalUserID).
		Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(externalUserID, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (external_user_id, password_hash) VALUES (?, ?)", externalUserID, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(id)
}

func (s *SQLiteStore) getUserByID(id int64) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// Thread methods

func (s *SQLiteStore) CreateThread(userID int64, title *string) (*Thread, error) {
	threadID := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		"INSERT INTO threads (id, user_id, title, visibility, created_at, updated_at) VALUES (?, ?, ?, 'private', ?, ?)",
		threadID, userID, title, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert thread: %w", err)
	}
	return &Thread{ID: threadID, UserID: userID, Title: title, Visibility: "private", CreatedAt: now, UpdatedAt: now}, nil
}

// GetThread fetches a thread regardless of owner so callers can distinguish
// not-found from forbidden.
func (s *SQLiteStore) GetThread(threadID string) (*Thread, error) {
	var thread Thread
	var title sql.NullString
	err := s.db.QueryRow("SELECT id, user_id, title, visibility, created_at, updated_at FROM threads WHERE id = ?", threadID).
		Scan(&thread.ID, &thread.UserID, &title, &thread.Visibility, &thread.CreatedAt, &thread.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	if title.Valid {
		thread.Title = &title.String
	}
	return &thread, nil
}

func (s *SQLiteStore) GetThreadsByUserID(userID int64) ([]Thread, error) {
	rows, err := s.db.Query("SELECT id, user_id, title, visibility, created_at, updated_at FROM threads WHERE user_id = ? ORDER BY updated_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		var thread Thread
		var title sql.NullString
		if err := rows.Scan(&thread.ID, &thread.UserID, &title, &thread.Visibility, &thread.CreatedAt, &thread.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		if title.Valid {
			thread.Title = &title.String
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

// Message methods

func (s *SQLiteStore) CreateMessage(msg *Message) error {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()

	_, err := s.db.Exec(`INSERT INTO messages
        (id, thread_id, role, content, model, provider, input_tokens, output_tokens, total_tokens, cost_cents, billing_mode, negative_feedback, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.Role, msg.Content, msg.Model, msg.Provider,
		msg.InputTokens, msg.OutputTokens, msg.TotalTokens, msg.CostCents,
		msg.BillingMode, msg.NegativeFeedback, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var msg Message
		var model, provider, billing sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content, &model, &provider,
			&msg.InputTokens, &msg.OutputTokens, &msg.TotalTokens, &msg.CostCents,
			&billing, &msg.NegativeFeedback, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Model = model.String
		msg.Provider = provider.String
		msg.BillingMode = billing.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

const messageColumns = "id, thread_id, role, content, model, provider, input_tokens, output_tokens, total_tokens, cost_cents, billing_mode, negative_feedback, created_at"

func (s *SQLiteStore) GetMessagesByThreadID(threadID string, limit, offset int) ([]Message, error) {
	rows, err := s.db.Query(
		"SELECT "+messageColumns+" FROM messages WHERE thread_id = ? ORDER BY created_at ASC LIMIT ? OFFSET ?",
		threadID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetRecentMessages returns up to n most recent messages, oldest first.
func (s *SQLiteStore) GetRecentMessages(threadID string, n int) ([]Message, error) {
	rows, err := s.db.Query(
		"SELECT "+messageColumns+" FROM messages WHERE thread_id = ? ORDER BY created_at DESC LIMIT ?",
		threadID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *SQLiteStore) GetFirstUserMessage(threadID string) (*Message, error) {
	rows, err := s.db.Query(
		"SELECT "+messageColumns+" FROM messages WHERE thread_id = ? AND role = 'user' ORDER BY created_at ASC LIMIT 1",
		threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query first user message: %w", err)
	}
	defer rows.Close()
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return &messages[0], nil
}

func (s *SQLiteStore) UpdateMessageFeedback(messageID string, negativeFeedback bool) error {
	res, err := s.db.Exec("UPDATE messages SET negative_feedback = ? WHERE id = ?", negativeFeedback, messageID)
	if err != nil {
		return fmt.Errorf("failed to execute feedback update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("message not found, feedback not updated")
	}
	return nil
}

// CreateAssistantTurn persists the assistant message, its citations, and the
// thread title/timestamp update in a single transaction so a failure cannot
// leave a half-written turn visible to readers.
func (s *SQLiteStore) CreateAssistantTurn(msg *Message, citations []Citation, titleIfUnset string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin turn transaction: %w", err)
	}
	defer tx.Rollback()

	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()
	_, err = tx.Exec(`INSERT INTO messages
        (id, thread_id, role, content, model, provider, input_tokens, output_tokens, total_tokens, cost_cents, billing_mode, negative_feedback, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.Role, msg.Content, msg.Model, msg.Provider,
		msg.InputTokens, msg.OutputTokens, msg.TotalTokens, msg.CostCents,
		msg.BillingMode, msg.NegativeFeedback, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert assistant message: %w", err)
	}

	for i := range citations {
		citations[i].MessageID = msg.ID
		_, err = tx.Exec(`INSERT INTO citations (message_id, chunk_id, rank, score, snippet, weight, title, url)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			citations[i].MessageID, citations[i].ChunkID, citations[i].Rank, citations[i].Score,
			citations[i].Snippet, citations[i].Weight, citations[i].Title, citations[i].URL)
		if err != nil {
			return fmt.Errorf("failed to insert citation %d: %w", i+1, err)
		}
	}

	if titleIfUnset != "" {
		_, err = tx.Exec("UPDATE threads SET title = ? WHERE id = ? AND (title IS NULL OR title = '')",
			titleIfUnset, msg.ThreadID)
		if err != nil {
			return fmt.Errorf("failed to set thread title: %w", err)
		}
	}
	_, err = tx.Exec("UPDATE threads SET updated_at = ? WHERE id = ?", msg.CreatedAt, msg.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to touch thread: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetCitationsByMessageID(messageID string) ([]Citation, error) {
	rows, err := s.db.Query(
		"SELECT id, message_id, chunk_id, rank, score, snippet, weight, title, url FROM citations WHERE message_id = ? ORDER BY rank ASC",
		messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query citations: %w", err)
	}
	defer rows.Close()

	var citations []Citation
	for rows.Next() {
		var c Citation
		var snippet, title, url sql.NullString
		if err := rows.Scan(&c.ID, &c.MessageID, &c.ChunkID, &c.Rank, &c.Score, &snippet, &c.Weight, &title, &url); err != nil {
			return nil, fmt.Errorf("failed to scan citation row: %w", err)
		}
		c.Snippet = snippet.String
		c.Title = title.String
		c.URL = url.String
		citations = append(citations, c)
	}
	return citations, rows.Err()
}

// Balance and ledger methods

func (s *SQLiteStore) GetBalance(userID int64) (*Balance, error) {
	var b Balance
	err := s.db.QueryRow(
		"SELECT user_id, balance_cents, granted_cents, spent_cents, updated_at FROM balances WHERE user_id = ?",
		userID).Scan(&b.UserID, &b.BalanceCents, &b.GrantedCents, &b.SpentCents, &b.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No balance row yet
		}
		return nil, fmt.Errorf("failed to query balance: %w", err)
	}
	return &b, nil
}

func insertLedgerEntry(tx *sql.Tx, entry *LedgerEntry) error {
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	_, err := tx.Exec(`INSERT INTO ledger_entries
        (id, user_id, entry_type, amount_cents, request_id, thread_id, message_id, model_id, provider, metadata, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Type, entry.AmountCents, entry.RequestID,
		entry.ThreadID, entry.MessageID, entry.ModelID, entry.Provider, entry.Metadata, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// ReserveFunds atomically decrements the balance when it covers the amount.
// The conditional update is the only overdraft defense; there is no
// read-then-write pair anywhere on this path. Returns ok=false with the
// current balance when funds are insufficient; no entry is written then.
func (s *SQLiteStore) ReserveFunds(entry *LedgerEntry) (remaining int64, ok bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin reserve transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"UPDATE balances SET balance_cents = balance_cents - ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ? AND balance_cents >= ?",
		entry.AmountCents, entry.UserID, entry.AmountCents)
	if err != nil {
		return 0, false, fmt.Errorf("failed to execute reserve update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		var current int64
		if err := tx.QueryRow("SELECT balance_cents FROM balances WHERE user_id = ?", entry.UserID).Scan(&current); err != nil && err != sql.ErrNoRows {
			return 0, false, fmt.Errorf("failed to read balance after reserve miss: %w", err)
		}
		return current, false, nil
	}

	if err := insertLedgerEntry(tx, entry); err != nil {
		return 0, false, err
	}
	if err := tx.QueryRow("SELECT balance_cents FROM balances WHERE user_id = ?", entry.UserID).Scan(&remaining); err != nil {
		return 0, false, fmt.Errorf("failed to read balance after reserve: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit reserve: %w", err)
	}
	return remaining, true, nil
}

// SettleFunds credits the unused part of a reservation back, adds the actual
// cost to lifetime spend, and writes the debit and release entries, all in
// one transaction.
func (s *SQLiteStore) SettleFunds(userID, releaseCents, actualCents int64, debit, release *LedgerEntry) (remaining int64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin settle transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"UPDATE balances SET balance_cents = balance_cents + ?, spent_cents = spent_cents + ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?",
		releaseCents, actualCents, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to execute settle update: %w", err)
	}
	if err := insertLedgerEntry(tx, debit); err != nil {
		return 0, err
	}
	if release.AmountCents > 0 {
		if err := insertLedgerEntry(tx, release); err != nil {
			return 0, err
		}
	}
	if err := tx.QueryRow("SELECT balance_cents FROM balances WHERE user_id = ?", userID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("failed to read balance after settle: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit settle: %w", err)
	}
	return remaining, nil
}

// ReleaseFunds refunds a full reservation after a failed provider call.
func (s *SQLiteStore) ReleaseFunds(entry *LedgerEntry) (remaining int64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"UPDATE balances SET balance_cents = balance_cents + ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?",
		entry.AmountCents, entry.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to execute release update: %w", err)
	}
	if err := insertLedgerEntry(tx, entry); err != nil {
		return 0, err
	}
	if err := tx.QueryRow("SELECT balance_cents FROM balances WHERE user_id = ?", entry.UserID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("failed to read balance after release: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit release: %w", err)
	}
	return remaining, nil
}

// GrantFunds credits a balance, creating the row on first grant.
func (s *SQLiteStore) GrantFunds(entry *LedgerEntry) (remaining int64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin grant transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO balances (user_id, balance_cents, granted_cents, spent_cents)
        VALUES (?, ?, ?, 0)
        ON CONFLICT(user_id) DO UPDATE SET
            balance_cents = balance_cents + excluded.balance_cents,
            granted_cents = granted_cents + excluded.granted_cents,
            updated_at = CURRENT_TIMESTAMP`,
		entry.UserID, entry.AmountCents, entry.AmountCents)
	if err != nil {
		return 0, fmt.Errorf("failed to execute grant upsert: %w", err)
	}
	if err := insertLedgerEntry(tx, entry); err != nil {
		return 0, err
	}
	if err := tx.QueryRow("SELECT balance_cents FROM balances WHERE user_id = ?", entry.UserID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("failed to read balance after grant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit grant: %w", err)
	}
	return remaining, nil
}

func (s *SQLiteStore) GetLedgerEntries(userID int64, limit int) ([]LedgerEntry, error) {
	rows, err := s.db.Query(`SELECT id, user_id, entry_type, amount_cents, request_id, thread_id, message_id, model_id, provider, metadata, created_at
        FROM ledger_entries WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var reqID, threadID, msgID, modelID, provider, metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.AmountCents, &reqID, &threadID, &msgID, &modelID, &provider, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry row: %w", err)
		}
		e.RequestID = reqID.String
		e.ThreadID = threadID.String
		e.MessageID = msgID.String
		e.ModelID = modelID.String
		e.Provider = provider.String
		e.Metadata = metadata.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Credential methods

func (s *SQLiteStore) CreateCredential(userID int64, provider string, ciphertext []byte, keyVersion int) (*Credential, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		"INSERT INTO user_credentials (id, user_id, provider, ciphertext, key_version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, userID, provider, ciphertext, keyVersion, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert credential: %w", err)
	}
	return &Credential{ID: id, UserID: userID, Provider: provider, Ciphertext: ciphertext, KeyVersion: keyVersion, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) GetCredential(credentialID string, userID int64) (*Credential, error) {
	var c Credential
	err := s.db.QueryRow(
		"SELECT id, user_id, provider, ciphertext, key_version, created_at, updated_at FROM user_credentials WHERE id = ? AND user_id = ?",
		credentialID, userID).Scan(&c.ID, &c.UserID, &c.Provider, &c.Ciphertext, &c.KeyVersion, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}
	return &c, nil
}

// UpdateCredentialSeal replaces the ciphertext after a re-seal under the
// current key version.
func (s *SQLiteStore) UpdateCredentialSeal(credentialID string, ciphertext []byte, keyVersion int) error {
	_, err := s.db.Exec(
		"UPDATE user_credentials SET ciphertext = ?, key_version = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		ciphertext, keyVersion, credentialID)
	if err != nil {
		return fmt.Errorf("failed to update credential seal: %w", err)
	}
	return nil
}

// Audit methods

func (s *SQLiteStore) GetAuditEvents(userID int64, limit int) ([]AuditEvent, error) {
	rows, err := s.db.Query(
		"SELECT id, user_id, credential_id, request_id, event, reason, created_at FROM audit_events WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.CredentialID, &e.RequestID, &e.Event, &reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event row: %w", err)
		}
		e.Reason = reason.String
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) CreateAuditEvent(event *AuditEvent) error {
	event.ID = uuid.NewString()
	event.CreatedAt = time.Now()
	_, err := s.db.Exec(
		"INSERT INTO audit_events (id, user_id, credential_id, request_id, event, reason, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		event.ID, event.UserID, event.CredentialID, event.RequestID, event.Event, event.Reason, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}
