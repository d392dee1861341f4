// Package confirm tracks pending close-confirmation prompts.
package confirm

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticketbot/internal/domain"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

// State is the lifecycle position of a prompt.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateDenied    State = "denied"
	StateExpired   State = "expired"
)

// Decision is the answer given to a prompt.
type Decision int

const (
	DecisionConfirm Decision = iota
	DecisionDeny
)

// Prompt is a request to close a ticket awaiting an answer.
type Prompt struct {
	ID          string
	GuildID     string
	TicketID    string
	ChannelID   string
	RequesterID string
	RequestedBy string
	Reason      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	State       State
}

// OpenParams describes a new prompt.
type OpenParams struct {
	GuildID     string
	TicketID    string
	ChannelID   string
	RequesterID string
	RequestedBy string
	Reason      string
}

// ExpireFunc is called once for each prompt that timed out.
type ExpireFunc func(Prompt)

type entry struct {
	prompt Prompt
	timer  *time.Timer
}

// Registry holds prompts in memory. Prompts do not survive a restart.
type Registry struct {
	mu       sync.Mutex
	timeout  time.Duration
	now      func() time.Time
	onExpire ExpireFunc
	prompts  map[string]*entry
	byTicket map[string]string
	stopped  bool
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithExpireHook registers a callback for timed-out prompts.
func WithExpireHook(fn ExpireFunc) Option {
	return func(r *Registry) { r.onExpire = fn }
}

// NewRegistry builds a registry whose prompts expire after timeout.
func NewRegistry(timeout time.Duration, opts ...Option) *Registry {
	if timeout <= 0 {
		timeout = time.Hour
	}
	r := &Registry{
		timeout:  timeout,
		now:      time.Now,
		prompts:  make(map[string]*entry),
		byTicket: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func ticketKey(guildID, ticketID string) string {
	return guildID + "/" + ticketID
}

// Open registers a pending prompt. A ticket has at most one pending prompt.
func (r *Registry) Open(params OpenParams) (Prompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return Prompt{}, apperrors.NewConflict("close confirmations are shutting down", nil)
	}
	key := ticketKey(params.GuildID, params.TicketID)
	if existing, ok := r.byTicket[key]; ok {
		return Prompt{}, apperrors.NewConflict("a close request is already pending", map[string]any{
			"ticket_id": params.TicketID,
			"prompt_id": existing,
		})
	}

	now := r.now().UTC()
	p := Prompt{
		ID:          uuid.NewString(),
		GuildID:     params.GuildID,
		TicketID:    params.TicketID,
		ChannelID:   params.ChannelID,
		RequesterID: params.RequesterID,
		RequestedBy: params.RequestedBy,
		Reason:      params.Reason,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.timeout),
		State:       StatePending,
	}
	e := &entry{prompt: p}
	id := p.ID
	e.timer = time.AfterFunc(r.timeout, func() { r.expire(id) })
	r.prompts[p.ID] = e
	r.byTicket[key] = p.ID
	return p, nil
}

// Get returns a pending prompt by id.
func (r *Registry) Get(promptID string) (Prompt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.prompts[promptID]
	if !ok {
		return Prompt{}, false
	}
	return e.prompt, true
}

// Pending returns the pending prompt of a ticket, if any.
func (r *Registry) Pending(guildID, ticketID string) (Prompt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byTicket[ticketKey(guildID, ticketID)]
	if !ok {
		return Prompt{}, false
	}
	return r.prompts[id].prompt, true
}

// CanResolve reports whether actor may answer the prompt.
func CanResolve(p Prompt, actorID string, isStaff bool) bool {
	return isStaff || actorID == p.RequesterID || actorID == p.RequestedBy
}

// Resolve answers a prompt. Exactly one resolution succeeds; later ones get CONFLICT.
func (r *Registry) Resolve(promptID string, actor domain.Actor, decision Decision, isStaff bool) (Prompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.prompts[promptID]
	if !ok {
		return Prompt{}, apperrors.NewConflict("close request is no longer valid", map[string]any{"prompt_id": promptID})
	}
	if !CanResolve(e.prompt, actor.ID, isStaff) {
		return Prompt{}, apperrors.NewForbidden("only staff, the ticket owner or the close requester can answer this prompt")
	}
	if !r.now().UTC().Before(e.prompt.ExpiresAt) {
		e.timer.Stop()
		e.prompt.State = StateExpired
		r.dropLocked(e)
		return Prompt{}, apperrors.NewConflict("close request expired", map[string]any{"prompt_id": promptID})
	}

	e.timer.Stop()
	if decision == DecisionConfirm {
		e.prompt.State = StateConfirmed
	} else {
		e.prompt.State = StateDenied
	}
	r.dropLocked(e)
	return e.prompt, nil
}

// Discard drops every prompt of a ticket, e.g. after it was closed by another path.
func (r *Registry) Discard(guildID, ticketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ticketKey(guildID, ticketID)
	id, ok := r.byTicket[key]
	if !ok {
		return
	}
	if e := r.prompts[id]; e != nil {
		e.timer.Stop()
		delete(r.prompts, id)
	}
	delete(r.byTicket, key)
}

// Stop cancels every timer. Pending prompts become unanswerable.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for id, e := range r.prompts {
		e.timer.Stop()
		delete(r.prompts, id)
	}
	r.byTicket = make(map[string]string)
}

// Len returns the number of pending prompts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prompts)
}

func (r *Registry) expire(promptID string) {
	r.mu.Lock()
	e, ok := r.prompts[promptID]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.prompt.State = StateExpired
	r.dropLocked(e)
	prompt := e.prompt
	hook := r.onExpire
	r.mu.Unlock()

	if hook != nil {
		hook(prompt)
	}
}

// dropLocked forgets a prompt once it left the pending state, so any later answer is a CONFLICT.
func (r *Registry) dropLocked(e *entry) {
	delete(r.prompts, e.prompt.ID)
	delete(r.byTicket, ticketKey(e.prompt.GuildID, e.prompt.TicketID))
}
