package resilience

import (
	"sort"
	"sync"
)

// Info is a point-in-time view of one breaker
type Info struct {
	Name   string `json:"name"`
	State  State  `json:"-"`
	Label  string `json:"state"`
	Counts Counts `json:"counts"`
}

// Registry manages one circuit breaker per remote target.
//
// Each breaker carries its own lock and the registry itself is a sync.Map,
// so operations against different targets never contend.
type Registry struct {
	settings Settings
	breakers sync.Map // target key -> *Breaker
}

// NewRegistry creates a registry applying the same settings to every target
func NewRegistry(settings Settings) *Registry {
	return &Registry{settings: settings}
}

// Get returns the breaker for a target, creating it on first use
func (r *Registry) Get(name string) *Breaker {
	if b, ok := r.breakers.Load(name); ok {
		return b.(*Breaker)
	}
	created := New(name, r.settings)
	actual, _ := r.breakers.LoadOrStore(name, created)
	return actual.(*Breaker)
}

// Do executes fn through the target's breaker
func (r *Registry) Do(name string, fn func() (interface{}, error)) (interface{}, error) {
	return r.Get(name).Execute(fn)
}

// State reports the current state for a target.
// A target never seen reports StateClosed: a fresh breaker starts closed.
func (r *Registry) State(name string) State {
	if b, ok := r.breakers.Load(name); ok {
		return b.(*Breaker).State()
	}
	return StateClosed
}

// Snapshot returns a stable view of every tracked breaker, sorted by name
func (r *Registry) Snapshot() []Info {
	var infos []Info
	r.breakers.Range(func(_, v interface{}) bool {
		b := v.(*Breaker)
		state := b.State()
		infos = append(infos, Info{
			Name:   b.Name(),
			State:  state,
			Label:  state.String(),
			Counts: b.Counts(),
		})
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
