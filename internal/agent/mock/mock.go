// Package mock provides a test double for the agent.Agent interface.
//
// Use Agent in API handler tests to feed controlled replies without wiring a
// full memory and LLM stack.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mnemoxa/internal/agent"
)

// Agent is a mock implementation of [agent.Agent]. Zero values for response
// fields cause ProcessMessage to return an empty reply; set Err to inject a
// failure.
type Agent struct {
	mu sync.Mutex

	// Response is returned by ProcessMessage when non-nil.
	Response *agent.Response

	// Err, if non-nil, is returned by ProcessMessage.
	Err error

	// Calls records every request in order.
	Calls []agent.Request
}

// ProcessMessage records the request and returns the configured response.
func (a *Agent) ProcessMessage(_ context.Context, req agent.Request) (*agent.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls = append(a.Calls, req)
	if a.Err != nil {
		return nil, a.Err
	}
	if a.Response != nil {
		resp := *a.Response
		return &resp, nil
	}
	return &agent.Response{}, nil
}

// Ensure Agent implements agent.Agent at compile time.
var _ agent.Agent = (*Agent)(nil)
