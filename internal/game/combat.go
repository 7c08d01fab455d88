package game

import "sort"

// CombatResolver turns hit and death reports into session changes and rankings.
type CombatResolver struct {
	sessions *Registry
	gen      uint64
}

func NewCombatResolver(sessions *Registry) *CombatResolver {
	return &CombatResolver{sessions: sessions}
}

// DeathReport is what a death leaves behind: the current ranking, how many
// participants are still standing, and who reported.
type DeathReport struct {
	Ranking    []Session
	AliveCount int
	Reporter   string
}

func (d DeathReport) MatchOver() bool { return d.AliveCount <= 1 }

// ApplyHit takes one health point from target and starts its hit animation.
// The returned generation identifies this hit for ClearHit.
func (c *CombatResolver) ApplyHit(target string) (uint64, bool) {
	c.gen++
	gen := c.gen
	ok := c.sessions.update(target, func(s *Session) {
		s.HitAnimation = true
		s.Health--
		s.hitGen = gen
	})
	return gen, ok
}

// ClearHit ends the hit animation started by gen. A later hit, or a new
// session under the same name, makes it a no-op.
func (c *CombatResolver) ClearHit(target string, gen uint64) bool {
	cleared := false
	c.sessions.update(target, func(s *Session) {
		if s.hitGen == gen && s.HitAnimation {
			s.HitAnimation = false
			cleared = true
		}
	})
	return cleared
}

// ReportDeath records the first death time reported for username and ranks
// the match participants.
func (c *CombatResolver) ReportDeath(username string, at int64) (DeathReport, bool) {
	ok := c.sessions.update(username, func(s *Session) {
		if s.IsDead == nil {
			t := at
			s.IsDead = &t
		}
	})
	if !ok {
		return DeathReport{}, false
	}
	return DeathReport{
		Ranking:    c.Ranking(),
		AliveCount: c.AliveCount(),
		Reporter:   username,
	}, true
}

// AliveCount is the number of in-game sessions without a recorded death.
func (c *CombatResolver) AliveCount() int {
	return c.sessions.count(func(s *Session) bool { return s.InGame && s.IsDead == nil })
}

// Ranking orders the in-game sessions: survivors first in connection order,
// then the dead from most recent death to first.
func (c *CombatResolver) Ranking() []Session {
	out := make([]Session, 0, c.sessions.Len())
	for _, s := range c.sessions.List() {
		if s.InGame {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return ranksBefore(out[i], out[j]) })
	return out
}

func ranksBefore(a, b Session) bool {
	switch {
	case a.IsDead == nil:
		return b.IsDead != nil
	case b.IsDead == nil:
		return false
	default:
		return *a.IsDead > *b.IsDead
	}
}
