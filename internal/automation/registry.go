package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Invocation is what an action receives for one attempt.
type Invocation struct {
	AutomationID string
	InstanceID   string
	StepKey      string
	Action       string
	DedupKey     string
	// Attempt counts from 1.
	Attempt int
	Params  map[string]any
}

// Action performs the side effect of a service task. A returned map is
// stored as the automation result and merged into the instance data; an
// "outcome" entry selects the branch taken next. Errors wrapped with
// Permanent are not retried.
type Action interface {
	Execute(ctx context.Context, inv Invocation) (map[string]any, error)
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, inv Invocation) (map[string]any, error)

// Execute calls f.
func (f ActionFunc) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	return f(ctx, inv)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

type registration struct {
	action  Action
	policy  RetryPolicy
	timeout time.Duration
}

// RegisterOption customizes one registered action.
type RegisterOption func(*registration)

// WithPolicy overrides the retry policy of an action. Unset fields keep the
// registry defaults.
func WithPolicy(p RetryPolicy) RegisterOption {
	return func(r *registration) { r.policy = p }
}

// WithTimeout overrides the attempt timeout of an action.
func WithTimeout(d time.Duration) RegisterOption {
	return func(r *registration) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Registry maps action names to implementations and their retry policies.
type Registry struct {
	mu       sync.RWMutex
	actions  map[string]registration
	policy   RetryPolicy
	timeout  time.Duration
	fallback Action
}

// DefaultTimeout bounds one attempt when nothing else is configured.
const DefaultTimeout = 30 * time.Second

// NewRegistry creates a Registry whose actions default to policy and
// timeout.
func NewRegistry(policy RetryPolicy, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		actions: make(map[string]registration),
		policy:  policy.merge(DefaultRetryPolicy()),
		timeout: timeout,
	}
}

// Register binds name to a. Registering a name again replaces it.
func (r *Registry) Register(name string, a Action, opts ...RegisterOption) {
	reg := registration{action: a, timeout: r.timeout}
	for _, opt := range opts {
		opt(&reg)
	}
	reg.policy = reg.policy.merge(r.policy)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = reg
}

// SetFallback sets the action used for names without a registration.
func (r *Registry) SetFallback(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = a
}

// Lookup returns the action registered under name with its policy and
// timeout.
func (r *Registry) Lookup(name string) (Action, RetryPolicy, time.Duration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.actions[name]; ok {
		return reg.action, reg.policy, reg.timeout, nil
	}
	if r.fallback != nil {
		return r.fallback, r.policy, r.timeout, nil
	}
	return nil, r.policy, r.timeout, fmt.Errorf("%w: %s", ErrUnknownAction, name)
}

// Policy returns the retry policy of name.
func (r *Registry) Policy(name string) RetryPolicy {
	_, p, _, _ := r.Lookup(name)
	return p
}

// MaxRetries returns the retry ceiling of name.
func (r *Registry) MaxRetries(name string) int {
	return r.Policy(name).MaxRetries
}

// Names returns the registered action names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
