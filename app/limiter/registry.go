package limiter

import (
	"fmt"
	"sync"
	"time"
)

type Kind string

const (
	KindEnrichment Kind = "enrichment"
	KindJobTrigger Kind = "job_trigger"
	KindPocTrigger Kind = "poc_trigger"
)

// maxKeysPerKind is the number of per-key limiters kept before idle ones are dropped.
const maxKeysPerKind = 1024

type budget struct {
	maxCalls int
	period   time.Duration
}

// Registry owns one limiter per kind and, for keyed kinds, one limiter per caller key.
// It is built once at startup and handed to whoever needs admission control.
type Registry struct {
	mu      sync.Mutex
	budgets map[Kind]budget
	shared  map[Kind]*Limiter
	keyed   map[Kind]map[string]*Limiter
}

func NewRegistry() *Registry {
	return &Registry{
		budgets: make(map[Kind]budget),
		shared:  make(map[Kind]*Limiter),
		keyed:   make(map[Kind]map[string]*Limiter),
	}
}

// Register sets the budget for kind. Re-registering replaces existing limiters.
func (r *Registry) Register(kind Kind, maxCalls int, period time.Duration) error {
	l, err := New(maxCalls, period)
	if err != nil {
		return fmt.Errorf("invalid budget for limiter kind '%s': %w", kind, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.budgets[kind] = budget{maxCalls: maxCalls, period: period}
	r.shared[kind] = l
	delete(r.keyed, kind)
	return nil
}

// Get returns the process-wide limiter for kind.
func (r *Registry) Get(kind Kind) (*Limiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.shared[kind]
	if !ok {
		return nil, fmt.Errorf("limiter kind '%s' is not registered", kind)
	}
	return l, nil
}

// ForKey returns the limiter for kind scoped to key, creating it with the kind's budget
// on first use. Keys are caller supplied, so once a kind holds maxKeysPerKind
// limiters the idle ones are dropped before a new one is added.
func (r *Registry) ForKey(kind Kind, key string) (*Limiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.budgets[kind]
	if !ok {
		return nil, fmt.Errorf("limiter kind '%s' is not registered", kind)
	}

	perKey, ok := r.keyed[kind]
	if !ok {
		perKey = make(map[string]*Limiter)
		r.keyed[kind] = perKey
	}

	l, ok := perKey[key]
	if ok {
		return l, nil
	}

	if len(perKey) >= maxKeysPerKind {
		for k, existing := range perKey {
			if existing.idle() {
				delete(perKey, k)
			}
		}
	}

	l, err := New(b.maxCalls, b.period)
	if err != nil {
		return nil, err
	}
	perKey[key] = l
	return l, nil
}
