package oauthflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateGenerateValidateRoundTrip(t *testing.T) {
	sm := newStateManager()
	state := sm.Generate("https://srv.example", "default", "verifier-123")
	assert.NotEmpty(t, state)

	p, err := sm.Validate(state)
	require.NoError(t, err)
	assert.Equal(t, "https://srv.example", p.serverURL)
	assert.Equal(t, "default", p.profileName)
	assert.Equal(t, "verifier-123", p.verifier)
}

func TestStateValidateIsSingleUse(t *testing.T) {
	sm := newStateManager()
	state := sm.Generate("https://srv.example", "default", "verifier-123")

	_, err := sm.Validate(state)
	require.NoError(t, err)

	_, err = sm.Validate(state)
	assert.Error(t, err, "a state token must not validate twice")
}

func TestStateValidateRejectsUnknown(t *testing.T) {
	sm := newStateManager()
	_, err := sm.Validate("never-issued")
	assert.Error(t, err)
}

func TestStateClearDropsWithoutValidating(t *testing.T) {
	sm := newStateManager()
	state := sm.Generate("https://srv.example", "default", "verifier-123")
	sm.Clear(state)

	_, err := sm.Validate(state)
	assert.Error(t, err, "cleared state must not later validate")
}

func TestStateGenerateProducesDistinctTokens(t *testing.T) {
	sm := newStateManager()
	a := sm.Generate("https://srv.example", "default", "v1")
	b := sm.Generate("https://srv.example", "default", "v2")
	assert.NotEqual(t, a, b)
}
