// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"sort"
	"sync"
)

// Registry is the in-memory job table of one engine. Ids are reserved
// before any resource is created so that concurrent starts of the same id
// cannot both proceed. An id that was registered is retired when its job
// leaves the table and is refused for the rest of the engine's life; a
// start that failed before registration frees its id.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]*job
	pending map[string]struct{}
	retired map[string]struct{}
}

func newRegistry() *Registry {
	return &Registry{
		jobs:    make(map[string]*job),
		pending: make(map[string]struct{}),
		retired: make(map[string]struct{}),
	}
}

func (r *Registry) reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; ok {
		return ErrAlreadyExists
	}
	if _, ok := r.pending[id]; ok {
		return ErrAlreadyExists
	}
	if _, ok := r.retired[id]; ok {
		return ErrAlreadyExists
	}
	r.pending[id] = struct{}{}
	return nil
}

func (r *Registry) cancel(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func (r *Registry) commit(j *job) {
	r.mu.Lock()
	delete(r.pending, j.id)
	r.jobs[j.id] = j
	r.mu.Unlock()
}

func (r *Registry) get(id string) *job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id]
}

// remove deletes id and returns the removed job, or nil.
func (r *Registry) remove(id string) *job {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
		r.retired[id] = struct{}{}
	}
	return j
}

// removeIf deletes id only while it still maps to j.
func (r *Registry) removeIf(id string, j *job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs[id] != j {
		return false
	}
	delete(r.jobs, id)
	r.retired[id] = struct{}{}
	return true
}

func (r *Registry) list() []*job {
	r.mu.RLock()
	out := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].startedAt.Equal(out[b].startedAt) {
			return out[a].id < out[b].id
		}
		return out[a].startedAt.Before(out[b].startedAt)
	})
	return out
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
