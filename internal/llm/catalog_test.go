package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	ids     []string
	listErr error
}

func (s *stubClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubClient) ListModelIDs(ctx context.Context) ([]string, error) {
	return s.ids, s.listErr
}

func (s *stubClient) Close() error { return nil }

func TestNewCatalogRejectsUnknownDefault(t *testing.T) {
	_, err := NewCatalog("gpt-17-ultra")
	assert.Error(t, err)
}

func TestResolveDefaultAndUnknown(t *testing.T) {
	c, err := NewCatalog("gemini-1.5-flash-latest")
	require.NoError(t, err)

	m, err := c.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash-latest", m.ID)
	assert.Equal(t, "google", m.Provider)

	m, err = c.Resolve("gemini-2.0-flash")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", m.ID)

	_, err = c.Resolve("no-such-model")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestRefreshNarrowsToDiscoveredModels(t *testing.T) {
	c, err := NewCatalog("gemini-1.5-flash-latest")
	require.NoError(t, err)

	client := &stubClient{ids: []string{"gemini-2.0-flash", "gemini-exp-unpriced"}}
	c.Refresh(context.Background(), client)

	// Priced discovered model resolves; unpriced one is skipped.
	_, err = c.Resolve("gemini-2.0-flash")
	require.NoError(t, err)
	_, err = c.Resolve("gemini-exp-unpriced")
	assert.ErrorIs(t, err, ErrUnknownModel)

	// The default always survives a refresh, discovered or not.
	m, err := c.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash-latest", m.ID)

	// Undiscovered fallback models drop out of the live set.
	_, err = c.Resolve("gemini-1.5-pro-latest")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestRefreshKeepsStaticTableOnFailure(t *testing.T) {
	c, err := NewCatalog("gemini-1.5-flash-latest")
	require.NoError(t, err)

	c.Refresh(context.Background(), &stubClient{listErr: errors.New("upstream down")})
	assert.Len(t, c.Models(), len(fallbackModels))

	c.Refresh(context.Background(), &stubClient{ids: []string{"nothing-priced"}})
	assert.Len(t, c.Models(), len(fallbackModels))

	_, err = c.Resolve("gemini-1.5-pro-latest")
	assert.NoError(t, err)
}
