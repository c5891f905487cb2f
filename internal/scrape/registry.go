package scrape

import (
	"fmt"
	"sync"
	"time"
)

// Status is a point-in-time view of a registered scrape.
type Status struct {
	Handle     string    `json:"handle"`
	ProfileID  string    `json:"profile_id"`
	ChatURL    string    `json:"chat_url"`
	UpdateOnly bool      `json:"update_only"`
	State      string    `json:"state"`
	Collected  int       `json:"collected"`
	Registered time.Time `json:"registered_at"`
	Result     *Result   `json:"result,omitempty"`
}

type registration struct {
	req        Request
	state      *SessionState
	registered time.Time
}

// Registry maps session handles to live session state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]registration)}
}

// Register adds a session under handle.
func (r *Registry) Register(handle string, req Request, state *SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[handle]; exists {
		return fmt.Errorf("session %s already registered", handle)
	}
	r.sessions[handle] = registration{req: req, state: state, registered: time.Now().UTC()}
	return nil
}

// RequestCancel sets the cancel flag of a running session. It reports false
// for unknown handles.
func (r *Registry) RequestCancel(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.sessions[handle]
	if !ok {
		return false
	}
	reg.state.RequestCancel()
	return true
}

// LookupStatus returns the status of a registered session.
func (r *Registry) LookupStatus(handle string) (Status, bool) {
	r.mu.Lock()
	reg, ok := r.sessions[handle]
	r.mu.Unlock()
	if !ok {
		return Status{}, false
	}

	st := Status{
		Handle:     handle,
		ProfileID:  reg.req.ProfileID,
		ChatURL:    reg.req.ChatURL,
		UpdateOnly: reg.req.UpdateOnly,
		State:      "running",
		Collected:  reg.state.Len(),
		Registered: reg.registered,
	}
	if res, done := reg.state.Result(); done {
		st.State = string(res.Outcome)
		st.Result = &res
	} else if reg.state.CancelRequested() {
		st.State = "cancelling"
	}
	return st, true
}

// Unregister forgets a session.
func (r *Registry) Unregister(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, handle)
}
