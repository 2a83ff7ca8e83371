package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"supportchat/internal/auth"
	"supportchat/internal/ledger"
	"supportchat/internal/llm"
	"supportchat/internal/search"
	"supportchat/internal/store"
	"supportchat/internal/turn"
)

type contextKey string

const userIDKey contextKey = "userID"

type APIHandler struct {
	store            *store.SQLiteStore
	turnService      *turn.Service
	ledgerService    *ledger.Service
	indexService     *search.Service
	signupGrantCents int64
}

func NewAPIHandler(st *store.SQLiteStore, ts *turn.Service, ls *ledger.Service, is *search.Service, signupGrantCents int64) *APIHandler {
	return &APIHandler{
		store:            st,
		turnService:      ts,
		ledgerService:    ls,
		indexService:     is,
		signupGrantCents: signupGrantCents,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		externalUserID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		user, err := h.store.GetUserByExternalID(externalUserID)
		if err != nil {
			log.Error().Err(err).Str("user", externalUserID).Msg("auth middleware user lookup failed")
			writeError(w, http.StatusInternalServerError, "Failed to process user identity")
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "User not found")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SignupRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "User ID and password are required")
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Error().Err(err).Str("user", req.UserID).Msg("password hashing failed")
		writeError(w, http.StatusInternalServerError, "Failed to process password")
		return
	}

	user, err := h.store.CreateUser(req.UserID, hashedPassword)
	if err != nil {
		log.Error().Err(err).Str("user", req.UserID).Msg("user creation failed")
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	// Account provisioning: the first grant creates the balance row.
	if h.signupGrantCents > 0 {
		if _, err := h.ledgerService.Grant(user.ID, h.signupGrantCents, ledger.Correlation{Provider: "signup"}); err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("signup grant failed")
		}
	}

	writeJSON(w, http.StatusCreated, user)
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "User ID and password are required")
		return
	}

	user, err := h.store.GetUserByExternalID(req.UserID)
	if err != nil {
		log.Error().Err(err).Str("user", req.UserID).Msg("login lookup failed")
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := auth.GenerateJWT(req.UserID)
	if err != nil {
		log.Error().Err(err).Str("user", req.UserID).Msg("token generation failed")
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *APIHandler) CreateThreadHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(int64)

	thread, err := h.store.CreateThread(userID, nil)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("thread creation failed")
		writeError(w, http.StatusInternalServerError, "Failed to create thread")
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

func (h *APIHandler) ListThreadsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(int64)

	threads, err := h.store.GetThreadsByUserID(userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("thread listing failed")
		writeError(w, http.StatusInternalServerError, "Failed to list threads")
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

type ThreadDetailsResponse struct {
	*store.Thread
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetThreadDetailsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(int64)
	threadID := chi.URLParam(r, "threadID")

	thread, err := h.store.GetThread(threadID)
	if err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("thread lookup failed")
		writeError(w, http.StatusInternalServerError, "Failed to get thread")
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "Thread not found")
		return
	}
	if thread.UserID != userID {
		writeError(w, http.StatusForbidden, "Thread does not belong to caller")
		return
	}

	messages, err := h.store.GetMessagesByThreadID(threadID, 100, 0)
	if err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("message listing failed")
		writeError(w, http.StatusInternalServerError, "Failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, ThreadDetailsResponse{Thread: thread, Messages: messages})
}

type TurnRequest struct {
	Content         string             `json:"content"`
	Model           string             `json:"model,omitempty"`
	Sources         []string           `json:"sources,omitempty"`
	TopK            int                `json:"top_k,omitempty"`
	Temperature     *float64           `json:"temperature,omitempty"`
	MaxOutputTokens int                `json:"max_output_tokens,omitempty"`
	CredentialID    string             `json:"credential_id,omitempty"`
	Weights         map[string]float64 `json:"weights,omitempty"`
}

// PostTurnHandler runs one chat turn. Funding failures surface the caller's
// remaining balance under a distinct status.
func (h *APIHandler) PostTurnHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(int64)
	threadID := chi.URLParam(r, "threadID")

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.turnService.Run(r.Context(), turn.Request{
		UserID:          userID,
		ThreadID:        threadID,
		Content:         req.Content,
		Sources:         req.Sources,
		Model:           req.Model,
		TopK:            req.TopK,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
		CredentialID:    req.CredentialID,
		Weights:         req.Weights,
	})
	if err != nil {
		h.writeTurnError(w, threadID, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *APIHandler) writeTurnError(w http.ResponseWriter, threadID string, err error) {
	var funding *ledger.InsufficientBalanceError
	switch {
	case errors.As(err, &funding):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":           "insufficient balance",
			"remaining_cents": funding.RemainingCents,
			"required_cents":  funding.RequiredCents,
		})
	case errors.Is(err, turn.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, "Thread not found")
	case errors.Is(err, turn.ErrForbidden):
		writeError(w, http.StatusForbidden, "Thread does not belong to caller")
	case errors.Is(err, turn.ErrEmptyContent),
		errors.Is(err, llm.ErrUnknownModel),
		errors.Is(err, turn.ErrCredential),
		errors.Is(err, turn.ErrNoCredential):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, turn.ErrUpstream):
		writeError(w, http.StatusBadGateway, "The model provider failed to answer; you were not charged")
	default:
		log.Error().Err(err).Str("thread_id", threadID).Msg("turn failed")
		writeError(w, http.StatusInternalServerError, "Failed to process message")
	}
}

type FeedbackRequest struct {
	Negative bool `json:"negative"`
}

func (h *APIHandler) MessageFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.store.UpdateMessageFeedback(messageID, req.Negative); err != nil {
		writeError(w, http.StatusNotFound, "Message not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type BalanceResponse struct {
	Balance *store.Balance      `json:"balance"`
	Entries []store.LedgerEntry `json:"entries"`
}

func (h *APIHandler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(int64)

	balance, err := h.store.GetBalance(userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("balance lookup failed")
		writeError(w, http.StatusInternalServerError, "Failed to get balance")
		return
	}
	if balance == nil {
		balance = &store.Balance{UserID: userID}
	}
	entries, err := h.store.GetLedgerEntries(userID, 50)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("ledger listing failed")
		writeError(w, http.StatusInternalServerError, "Failed to get ledger entries")
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: balance, Entries: entries})
}

// ReindexHandler forces a corpus index rebuild and reports the build stats.
func (h *APIHandler) ReindexHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := h.indexService.Rebuild(r.Context()); err != nil {
		log.Error().Err(err).Msg("index rebuild failed")
		writeError(w, http.StatusInternalServerError, "Failed to rebuild index")
		return
	}
	writeJSON(w, http.StatusOK, h.indexService.Stats())
}

func (h *APIHandler) IndexStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.indexService.Stats())
}
