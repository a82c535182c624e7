package engine

import "sync"

// FlagStore holds live flags and the opaque payload each maps to. It
// carries no lifecycle data of its own — threshold/expiry bookkeeping
// lives in plugin sidecars (§4.3) — so it stays a plain guarded map, the
// same shape as the teacher's package-level regexCache.
type FlagStore struct {
	mu    sync.Mutex
	flags map[string]any
}

// NewFlagStore returns an empty store.
func NewFlagStore() *FlagStore {
	return &FlagStore{flags: make(map[string]any)}
}

// Install sets flag to payload unless flag is already present, in which
// case it is a no-op and the existing payload wins (§3 invariant).
func (s *FlagStore) Install(flag string, payload any) {
	if flag == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.flags[flag]; exists {
		return
	}
	s.flags[flag] = payload
}

// Remove deletes flag if present; idempotent otherwise.
func (s *FlagStore) Remove(flag string) {
	if flag == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, flag)
}

// Get looks up flag without mutating the store. ok is false when the
// flag has never been installed or has since been removed/expired.
func (s *FlagStore) Get(flag string) (payload any, ok bool) {
	if flag == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok = s.flags[flag]
	return payload, ok
}

// Has reports whether flag is currently installed.
func (s *FlagStore) Has(flag string) bool {
	_, ok := s.Get(flag)
	return ok
}

// Clear resets the store to empty.
func (s *FlagStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = make(map[string]any)
}
