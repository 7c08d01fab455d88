package game

type BarrierState string

const (
	BarrierOpen   BarrierState = "open"
	BarrierLocked BarrierState = "locked"
)

// ReadyBarrier is the two-phase gate in front of a match: everyone connected
// enters the waiting room, then everyone marks ready.
type ReadyBarrier struct {
	sessions *Registry
	waiting  map[string]struct{}
	state    BarrierState
}

func NewReadyBarrier(sessions *Registry) *ReadyBarrier {
	return &ReadyBarrier{
		sessions: sessions,
		waiting:  make(map[string]struct{}),
		state:    BarrierOpen,
	}
}

func (b *ReadyBarrier) State() BarrierState { return b.state }

// Enter puts a connected username in the waiting room. Unknown names are ignored.
func (b *ReadyBarrier) Enter(username string) WaitingRoomStatus {
	if b.sessions.Has(username) {
		b.waiting[username] = struct{}{}
	}
	return b.Status()
}

func (b *ReadyBarrier) Leave(username string) WaitingRoomStatus {
	delete(b.waiting, username)
	return b.Status()
}

func (b *ReadyBarrier) InWaitingRoom(username string) bool {
	_, ok := b.waiting[username]
	return ok
}

// Status compares the waiting room against the connected population.
func (b *ReadyBarrier) Status() WaitingRoomStatus {
	total := b.sessions.Len()
	all := total > 0 && len(b.waiting) == total
	if all {
		for u := range b.waiting {
			if !b.sessions.Has(u) {
				all = false
				break
			}
		}
	}
	return WaitingRoomStatus{InWaitingRoom: len(b.waiting), Total: total, AllInWaitingRoom: all}
}

// SetReady marks username ready, but only once the whole connected population
// is in the waiting room. It reports whether the flag was applied.
func (b *ReadyBarrier) SetReady(username string) bool {
	if !b.Status().AllInWaitingRoom || !b.InWaitingRoom(username) {
		return false
	}
	return b.sessions.update(username, func(s *Session) { s.Ready = true })
}

// CheckAllReady counts ready and in-game sessions. On an open barrier with
// every session ready and none in game it locks, empties the waiting room and
// reports true; the caller then starts the match.
func (b *ReadyBarrier) CheckAllReady() (ReadyStatus, bool) {
	st := ReadyStatus{
		Ready:  b.sessions.count(func(s *Session) bool { return s.Ready }),
		Total:  b.sessions.Len(),
		InGame: b.sessions.count(func(s *Session) bool { return s.InGame }),
	}
	if b.state == BarrierOpen && st.Total > 0 && st.Ready == st.Total && st.InGame == 0 {
		b.state = BarrierLocked
		b.waiting = make(map[string]struct{})
		return st, true
	}
	return st, false
}

// Reopen unlocks the barrier once every connected session is back in the
// lobby: none in a match and none still carrying the last match's ready flag.
func (b *ReadyBarrier) Reopen() bool {
	if b.state != BarrierLocked {
		return false
	}
	if b.sessions.count(func(s *Session) bool { return s.InGame || s.Ready }) > 0 {
		return false
	}
	b.state = BarrierOpen
	return true
}
