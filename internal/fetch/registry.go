package fetch

import (
	"reflect"
	"sync"
)

// Registration reports how a RequestFetch call was handled.
type Registration int

const (
	// Ignored means the key was empty and nothing happened.
	Ignored Registration = iota
	// First means a new pending set was created and a worker must start.
	First
	// Joined means the subscriber was appended to an in-flight fetch.
	Joined
)

func (r Registration) String() string {
	switch r {
	case First:
		return "first"
	case Joined:
		return "joined"
	default:
		return "ignored"
	}
}

// pendingSet is the ordered list of subscribers waiting on one fetch cycle.
type pendingSet struct {
	gen  uint64
	subs []Subscriber
}

// Registry maps keys to their pending subscriber sets. A key has at most one
// set; the generation number identifies the fetch cycle that owns it.
type Registry struct {
	mu   sync.Mutex
	sets map[string]*pendingSet
	gen  uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sets: make(map[string]*pendingSet)}
}

// Register adds sub to the pending set for key, creating the set when none
// exists. Creation and joining happen under one lock, so concurrent callers
// for the same key observe exactly one First. A nil sub registers interest
// without a listener.
func (r *Registry) Register(key string, sub Subscriber) (Registration, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ps, ok := r.sets[key]; ok {
		if sub != nil {
			ps.subs = append(ps.subs, sub)
		}
		return Joined, ps.gen
	}
	r.gen++
	ps := &pendingSet{gen: r.gen}
	if sub != nil {
		ps.subs = append(ps.subs, sub)
	}
	r.sets[key] = ps
	return First, ps.gen
}

// Snapshot returns a copy of the subscribers currently waiting on key.
func (r *Registry) Snapshot(key string) []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.sets[key]; ok {
		return cloneSubs(ps.subs)
	}
	return nil
}

// snapshotLive is Snapshot restricted to the cycle gen. live is false when
// the set was removed or replaced by a newer cycle.
func (r *Registry) snapshotLive(key string, gen uint64) (subs []Subscriber, live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.sets[key]
	if !ok || ps.gen != gen {
		return nil, false
	}
	return cloneSubs(ps.subs), true
}

// removeLive detaches the set for key only if it still belongs to gen.
func (r *Registry) removeLive(key string, gen uint64) ([]Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.sets[key]
	if !ok || ps.gen != gen {
		return nil, false
	}
	delete(r.sets, key)
	return ps.subs, true
}

// Live reports whether gen is still the current cycle for key.
func (r *Registry) Live(key string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.sets[key]
	return ok && ps.gen == gen
}

// Remove atomically detaches and returns the subscribers for key. The bool is
// false when no set existed. The next Register for key starts a new cycle.
func (r *Registry) Remove(key string) ([]Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.sets[key]
	if !ok {
		return nil, false
	}
	delete(r.sets, key)
	return ps.subs, true
}

// Detach removes the first occurrence of sub from the set for key. The set
// stays in place even if it becomes empty. Subscribers of a type that cannot
// be compared, such as Funcs, are never matched.
func (r *Registry) Detach(key string, sub Subscriber) bool {
	t := reflect.TypeOf(sub)
	if t == nil || !t.Comparable() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.sets[key]
	if !ok {
		return false
	}
	for i, s := range ps.subs {
		if reflect.TypeOf(s) == t && s == sub {
			ps.subs = append(ps.subs[:i:i], ps.subs[i+1:]...)
			return true
		}
	}
	return false
}

// ClearAll drops every pending set without notifying anyone.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = make(map[string]*pendingSet)
}

// Len returns the number of keys with a pending set.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}

func cloneSubs(in []Subscriber) []Subscriber {
	if len(in) == 0 {
		return nil
	}
	out := make([]Subscriber, len(in))
	copy(out, in)
	return out
}
