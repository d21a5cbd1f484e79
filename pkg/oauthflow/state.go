package oauthflow

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// stateManager tracks in-flight authorization attempts: each Generate
// call mints a single-use state token bound to the server URL, profile
// name, and PKCE verifier that started the flow. States and verifiers
// live only in memory and never touch disk.
type stateManager struct {
	mu    sync.Mutex
	inFlight map[string]pendingAuth
}

type pendingAuth struct {
	serverURL   string
	profileName string
	verifier    string
}

func newStateManager() *stateManager {
	return &stateManager{inFlight: make(map[string]pendingAuth)}
}

// Generate mints a new state token and records the pending authorization
// it belongs to.
func (s *stateManager) Generate(serverURL, profileName, verifier string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := uuid.New().String()
	s.inFlight[state] = pendingAuth{serverURL: serverURL, profileName: profileName, verifier: verifier}
	return state
}

// Validate consumes a state token (single-use) and returns the pending
// authorization it was bound to.
func (s *stateManager) Validate(state string) (pendingAuth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.inFlight[state]
	if !ok {
		return pendingAuth{}, fmt.Errorf("invalid or already-used state parameter")
	}
	delete(s.inFlight, state)
	return p, nil
}

// Clear drops a pending authorization without validating it. The login
// flow does not call it; a state left by a failed login stays in memory
// until the process exits.
func (s *stateManager) Clear(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, state)
}
