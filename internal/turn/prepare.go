package turn

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"supportchat/internal/llm"
	"supportchat/internal/store"
)

// preparedTurn is the in-memory record produced by Prepare. Nothing in it
// survives the turn except what Prepare already wrote (the user message).
type preparedTurn struct {
	req       Request
	thread    *store.Thread
	userMsg   *store.Message
	model     llm.ModelInfo
	requestID string

	personal     bool
	credentialID string
	apiKey       string // personal key when personal, empty otherwise

	topK        int
	temperature float32
	maxTokens   int32
}

// prepare validates the request, persists the user message, and resolves
// model, credential, and sampling parameters. All failures here are
// terminal: no reservation exists yet, so nothing needs compensation.
func (s *Service) prepare(req Request) (*preparedTurn, error) {
	thread, err := s.store.GetThread(req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	if thread == nil {
		return nil, ErrThreadNotFound
	}
	if thread.UserID != req.UserID {
		return nil, ErrForbidden
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	req.Content = content

	model, err := s.catalog.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	prep := &preparedTurn{
		req:         req,
		thread:      thread,
		model:       model,
		requestID:   uuid.NewString(),
		topK:        clampInt(req.TopK, defaultTopK, minTopK, maxTopK),
		temperature: clampTemperature(req.Temperature),
		maxTokens:   int32(clampInt(req.MaxOutputTokens, defaultMaxTokens, minMaxTokens, maxMaxTokens)),
	}

	if err := s.resolveCredential(prep); err != nil {
		return nil, err
	}

	userMsg := &store.Message{
		ThreadID: req.ThreadID,
		Role:     "user",
		Content:  content,
	}
	if err := s.store.CreateMessage(userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	prep.userMsg = userMsg

	log.Debug().
		Str("request_id", prep.requestID).
		Str("thread_id", req.ThreadID).
		Str("model", model.ID).
		Bool("personal", prep.personal).
		Msg("turn prepared")
	return prep, nil
}

// resolveCredential picks the personal sealed credential when one is named,
// else the house key for the model's provider. A credential sealed under a
// retired key version is transparently re-sealed under the current one.
func (s *Service) resolveCredential(prep *preparedTurn) error {
	if prep.req.CredentialID == "" {
		if s.houseKey == "" {
			return ErrNoCredential
		}
		return nil
	}

	cred, err := s.store.GetCredential(prep.req.CredentialID, prep.req.UserID)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return fmt.Errorf("%w: credential not found", ErrCredential)
	}
	if cred.Provider != prep.model.Provider {
		return fmt.Errorf("%w: credential is for provider %q, model needs %q",
			ErrCredential, cred.Provider, prep.model.Provider)
	}

	// Credential rows can outlive the sealing keys in the environment.
	if s.keyring == nil {
		return fmt.Errorf("%w: credential sealing keys are not configured", ErrCredential)
	}

	key, err := s.keyring.Open(cred.Ciphertext, cred.KeyVersion)
	if err != nil {
		// Upstream-class for audit purposes, credential error to the caller.
		s.auditCredential(prep.req.UserID, cred.ID, prep.requestID, store.AuditCredentialFailed, "decrypt_error")
		return fmt.Errorf("%w: credential could not be decrypted", ErrCredential)
	}

	if s.keyring.IsRetired(cred.KeyVersion) {
		resealed, version, sealErr := s.keyring.Seal(key)
		if sealErr == nil {
			sealErr = s.store.UpdateCredentialSeal(cred.ID, resealed, version)
		}
		if sealErr != nil {
			log.Warn().Err(sealErr).Str("credential_id", cred.ID).Msg("credential re-seal failed, keeping old version")
		} else {
			log.Info().Str("credential_id", cred.ID).Int("key_version", version).Msg("credential re-sealed under current key")
		}
	}

	prep.personal = true
	prep.credentialID = cred.ID
	prep.apiKey = key
	return nil
}

func (s *Service) auditCredential(userID int64, credentialID, requestID, event, reason string) {
	err := s.store.CreateAuditEvent(&store.AuditEvent{
		UserID:       userID,
		CredentialID: credentialID,
		RequestID:    requestID,
		Event:        event,
		Reason:       reason,
	})
	if err != nil {
		log.Error().Err(err).Str("credential_id", credentialID).Msg("failed to write credential audit event")
	}
}

func clampInt(v, def, min, max int) int {
	if v == 0 {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampTemperature(t *float64) float32 {
	if t == nil || math.IsNaN(*t) || math.IsInf(*t, 0) {
		return defaultTemperature
	}
	v := *t
	if v < minTemperature {
		v = minTemperature
	}
	if v > maxTemperature {
		v = maxTemperature
	}
	return float32(v)
}
