package session

import (
	"sync"

	"github.com/google/uuid"
)

// Directory maps session ids to live sessions for the process lifetime.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{sessions: make(map[string]*Session)}
}

func (d *Directory) Put(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[s.ID()] = s
}

func (d *Directory) Get(id string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	return s, ok
}

// Delete removes id only while it still maps to s.
func (d *Directory) Delete(id string, s *Session) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.sessions[id]; ok && cur == s {
		delete(d.sessions, id)
		return true
	}
	return false
}

// Rekey moves the session stored under from to to. It fails when from is
// missing or to already holds a different session.
func (d *Directory) Rekey(from, to string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[from]
	if !ok {
		return false
	}
	if from == to {
		return true
	}
	if cur, taken := d.sessions[to]; taken && cur != s {
		return false
	}
	delete(d.sessions, from)
	s.setID(to)
	d.sessions[to] = s
	return true
}

// FindActive returns the Active session for the user and profile, if any.
func (d *Directory) FindActive(userID uuid.UUID, profile string) *Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.sessions {
		if s.UserID() == userID && s.params.Profile == profile && s.State() == StateActive {
			return s
		}
	}
	return nil
}

// FindLive is FindActive that also matches a session in the middle of
// reconnecting, which still owns its user and profile.
func (d *Directory) FindLive(userID uuid.UUID, profile string) *Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.sessions {
		if s.UserID() != userID || s.params.Profile != profile {
			continue
		}
		if st := s.State(); st == StateActive || st == StateReconnecting {
			return s
		}
	}
	return nil
}

func (d *Directory) ByUser(userID uuid.UUID) []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Session
	for _, s := range d.sessions {
		if s.UserID() == userID {
			out = append(out, s)
		}
	}
	return out
}

func (d *Directory) All() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}
