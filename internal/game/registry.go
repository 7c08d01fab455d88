package game

import "encoding/json"

// Registry is the table of connected sessions keyed by username. It keeps
// connection order so listings and ranking ties are stable. A Registry is
// owned by the coordinator loop and is not safe for concurrent use.
type Registry struct {
	sessions map[string]*Session
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Join stores a fresh default session for username. An existing session under
// the same name is replaced in place, keeping its connection-order slot.
func (r *Registry) Join(username, connID string) Session {
	s := newSession(username, connID)
	if _, ok := r.sessions[username]; !ok {
		r.order = append(r.order, username)
	}
	r.sessions[username] = s
	return s.clone()
}

func (r *Registry) Get(username string) (Session, bool) {
	s := r.sessions[username]
	if s == nil {
		return Session{}, false
	}
	return s.clone(), true
}

func (r *Registry) Has(username string) bool {
	_, ok := r.sessions[username]
	return ok
}

// ApplyUpload overwrites the gameplay fields carried by up. Values are taken
// as the client reports them.
func (r *Registry) ApplyUpload(username string, up Upload) (readyChanged bool, ok bool) {
	s := r.sessions[username]
	if s == nil {
		return false, false
	}
	wasReady, wasInGame := s.Ready, s.InGame

	if up.Position != nil {
		s.Position = *up.Position
	}
	if len(up.Sequence) > 0 {
		s.Sequence = append(json.RawMessage(nil), up.Sequence...)
	}
	if up.Direction != nil {
		s.Direction = *up.Direction
	}
	if up.Facing != nil {
		s.Facing = *up.Facing
	}
	if up.HasGun != nil {
		s.HasGun = *up.HasGun
	}
	if up.Health != nil {
		s.Health = *up.Health
	}
	if at, present := up.deathMark(); present {
		s.IsDead = at
	}
	if up.Ready != nil {
		s.Ready = *up.Ready
	}
	if up.Freeze != nil {
		s.Freeze = *up.Freeze
	}
	if up.InGame != nil {
		s.InGame = *up.InGame
	}
	s.normalize()

	return s.Ready != wasReady || s.InGame != wasInGame, true
}

func (r *Registry) Remove(username string) bool {
	if _, ok := r.sessions[username]; !ok {
		return false
	}
	delete(r.sessions, username)
	for i, u := range r.order {
		if u == username {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns a snapshot of the table keyed by username, the shape clients
// receive in updateUser.
func (r *Registry) All() map[string]Session {
	out := make(map[string]Session, len(r.sessions))
	for u, s := range r.sessions {
		out[u] = s.clone()
	}
	return out
}

// List returns snapshots in connection order.
func (r *Registry) List() []Session {
	out := make([]Session, 0, len(r.order))
	for _, u := range r.order {
		out = append(out, r.sessions[u].clone())
	}
	return out
}

func (r *Registry) Len() int { return len(r.sessions) }

// Freeze marks every session except the requester as frozen under gen and
// returns how many were marked.
func (r *Registry) Freeze(except string, gen uint64) int {
	n := 0
	r.each(func(s *Session) {
		if s.Username == except {
			return
		}
		s.Freeze = true
		s.freezeGen = gen
		n++
	})
	return n
}

// Unfreeze clears sessions still frozen under gen. Sessions frozen again by a
// later request keep their flag until that request's own clear.
func (r *Registry) Unfreeze(gen uint64) int {
	n := 0
	r.each(func(s *Session) {
		if s.freezeGen != gen || !s.Freeze {
			return
		}
		s.Freeze = false
		n++
	})
	return n
}

// StartMatch puts every connected session in game with a clean combat state.
func (r *Registry) StartMatch() {
	r.each(func(s *Session) {
		s.InGame = true
		s.Health = StartingHealth
		s.IsDead = nil
		s.HitAnimation = false
		s.Freeze = false
	})
}

// ResetForLobby returns a session to its pre-match state for another round.
func (r *Registry) ResetForLobby(username string) bool {
	return r.update(username, func(s *Session) {
		s.Ready = false
		s.InGame = false
		s.Health = StartingHealth
		s.IsDead = nil
		s.HasGun = false
		s.HitAnimation = false
		s.Freeze = false
	})
}

func (r *Registry) connID(username string) (string, bool) {
	s := r.sessions[username]
	if s == nil {
		return "", false
	}
	return s.connID, true
}

func (r *Registry) update(username string, fn func(*Session)) bool {
	s := r.sessions[username]
	if s == nil {
		return false
	}
	fn(s)
	s.normalize()
	return true
}

func (r *Registry) each(fn func(*Session)) {
	for _, u := range r.order {
		fn(r.sessions[u])
	}
}

func (r *Registry) count(pred func(*Session) bool) int {
	n := 0
	for _, s := range r.sessions {
		if pred(s) {
			n++
		}
	}
	return n
}
