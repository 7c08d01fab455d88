package game

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrCoordinatorStopped = errors.New("coordinator stopped")

const (
	DefaultHitAnimationDelay = 400 * time.Millisecond
	DefaultFreezeDuration    = 400 * time.Millisecond

	inboxSize      = 256
	archiveTimeout = 10 * time.Second
)

// Broadcaster fans an event out to every connected client. Implementations
// must not block the caller.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// ResultSink archives finished matches.
type ResultSink interface {
	SaveMatch(ctx context.Context, r MatchResult) error
}

type Options struct {
	HitAnimationDelay time.Duration
	FreezeDuration    time.Duration
	Catalog           []Location
	Rand              *rand.Rand
	Sinks             []ResultSink
}

// Coordinator owns all arena state and applies inbound events one at a time
// on the goroutine running Run.
type Coordinator struct {
	inbox    chan any
	quit     chan struct{}
	stopOnce sync.Once
	archives sync.WaitGroup

	out   Broadcaster
	opts  Options
	log   zerolog.Logger
	after func(d time.Duration, ev any)

	sessions *Registry
	weapons  *WeaponPool
	barrier  *ReadyBarrier
	combat   *CombatResolver

	nextBullet int
	freezeGen  uint64

	matchActive bool
	matchID     string
	startedAt   time.Time
}

func NewCoordinator(out Broadcaster, opts Options) *Coordinator {
	if opts.HitAnimationDelay <= 0 {
		opts.HitAnimationDelay = DefaultHitAnimationDelay
	}
	if opts.FreezeDuration <= 0 {
		opts.FreezeDuration = DefaultFreezeDuration
	}
	if len(opts.Catalog) == 0 {
		opts.Catalog = DefaultCatalog
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	sessions := NewRegistry()
	c := &Coordinator{
		inbox:    make(chan any, inboxSize),
		quit:     make(chan struct{}),
		out:      out,
		opts:     opts,
		log:      log.With().Str("component", "coordinator").Logger(),
		sessions: sessions,
		weapons:  NewWeaponPool(opts.Catalog, opts.Rand),
		barrier:  NewReadyBarrier(sessions),
		combat:   NewCombatResolver(sessions),
	}
	c.after = func(d time.Duration, ev any) {
		time.AfterFunc(d, func() { c.Submit(ev) })
	}
	return c
}

// Run processes events until Stop is called, then waits for pending archives.
func (c *Coordinator) Run() {
	for {
		select {
		case <-c.quit:
			c.archives.Wait()
			return
		case ev := <-c.inbox:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.quit) })
}

// Submit queues ev for the loop. It reports false once the coordinator is stopped.
func (c *Coordinator) Submit(ev any) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.inbox <- ev:
		return true
	case <-c.quit:
		return false
	}
}

// Status asks the loop for a snapshot of the arena.
func (c *Coordinator) Status(ctx context.Context) (ArenaStatus, error) {
	reply := make(chan ArenaStatus, 1)
	if !c.Submit(StatusQuery{Reply: reply}) {
		return ArenaStatus{}, ErrCoordinatorStopped
	}
	select {
	case st := <-reply:
		return st, nil
	case <-c.quit:
		return ArenaStatus{}, ErrCoordinatorStopped
	case <-ctx.Done():
		return ArenaStatus{}, ctx.Err()
	}
}

func (c *Coordinator) handle(ev any) {
	switch e := ev.(type) {
	case Connect:
		c.connect(e)
	case Disconnect:
		if id, ok := c.sessions.connID(e.Username); !ok || id != e.ConnID {
			c.log.Debug().Str("username", e.Username).Str("sid", e.ConnID).Msg("stale disconnect ignored")
			return
		}
		c.leave(e.Username)
	case Logout:
		c.leave(e.Username)
	case EnterWaitingRoom:
		st := c.barrier.Enter(e.Username)
		c.out.Broadcast(EventWaitingRoomStatus, st)
		if st.AllInWaitingRoom {
			c.out.Broadcast(EventEnableReady, nil)
		}
	case PlayerReady:
		if c.barrier.SetReady(e.Username) {
			c.out.Broadcast(EventUpdateUser, c.sessions.All())
		}
		c.checkReady()
	case UploadUser:
		readyChanged, ok := c.sessions.ApplyUpload(e.Username, e.State)
		if !ok {
			return
		}
		c.out.Broadcast(EventUpdateUser, c.sessions.All())
		if readyChanged {
			c.barrier.Reopen()
			c.checkReady()
		}
	case RequestWeapons:
		c.out.Broadcast(EventUpdateGun, c.weapons.EnsureSpawned())
	case CollectWeapon:
		c.collect(e)
	case FireWeapon:
		if !c.sessions.Has(e.Shooter) {
			return
		}
		b := Bullet{ID: c.nextBullet, ShooterID: e.Shooter, Direction: e.Direction, InitialX: e.InitialX, InitialZ: e.InitialZ}
		c.nextBullet++
		c.out.Broadcast(EventAddBullet, b)
	case ReportHit:
		gen, ok := c.combat.ApplyHit(e.Target)
		if !ok {
			return
		}
		c.out.Broadcast(EventUpdateUser, c.sessions.All())
		c.after(c.opts.HitAnimationDelay, clearHit{Username: e.Target, Gen: gen})
	case clearHit:
		// a superseded generation leaves the flag alone but the table still goes out
		c.combat.ClearHit(e.Username, e.Gen)
		c.out.Broadcast(EventUpdateUser, c.sessions.All())
	case FreezeOthers:
		if !c.sessions.Has(e.Username) {
			return
		}
		c.freezeGen++
		c.sessions.Freeze(e.Username, c.freezeGen)
		c.out.Broadcast(EventUpdateUser, c.sessions.All())
		c.after(c.opts.FreezeDuration, clearFreeze{Gen: c.freezeGen})
	case clearFreeze:
		c.sessions.Unfreeze(e.Gen)
		c.out.Broadcast(EventUpdateUser, c.sessions.All())
	case ReportDeath:
		c.death(e)
	case PlayAgain:
		if !c.sessions.ResetForLobby(e.Username) {
			return
		}
		c.out.Broadcast(EventUpdateUser, c.sessions.All())
		c.checkAbandoned()
		if c.barrier.Reopen() {
			c.log.Info().Msg("ready barrier reopened")
		}
		c.checkReady()
	case StatusQuery:
		select {
		case e.Reply <- c.status():
		default:
		}
	default:
		c.log.Warn().Msgf("unknown event %T", ev)
	}
}

func (c *Coordinator) connect(e Connect) {
	// a reconnect replaces the old session, so it has to enter the waiting room again
	c.barrier.Leave(e.Username)
	c.sessions.Join(e.Username, e.ConnID)
	c.log.Info().Str("username", e.Username).Str("sid", e.ConnID).Int("online", c.sessions.Len()).Msg("player joined")

	c.checkAbandoned()
	c.out.Broadcast(EventUpdateUser, c.sessions.All())
	c.out.Broadcast(EventWaitingRoomStatus, c.barrier.Status())
}

func (c *Coordinator) leave(username string) {
	c.barrier.Leave(username)
	if !c.sessions.Remove(username) {
		return
	}
	c.log.Info().Str("username", username).Int("online", c.sessions.Len()).Msg("player left")

	c.checkAbandoned()
	c.barrier.Reopen()
	c.out.Broadcast(EventWaitingRoomStatus, c.barrier.Status())
	c.checkReady()
	c.out.Broadcast(EventUpdateUser, c.sessions.All())
}

func (c *Coordinator) collect(e CollectWeapon) {
	gun, found := c.weapons.ByID(e.WeaponID)
	live, ok := c.weapons.Collect(e.WeaponID)
	c.out.Broadcast(EventUpdateGun, live)
	if !found || !ok {
		return
	}
	c.out.Broadcast(EventUpdatePlayerGun, PlayerGun{Gun: gun, Username: e.Username})
}

func (c *Coordinator) death(e ReportDeath) {
	rep, ok := c.combat.ReportDeath(e.Username, e.DeadAt)
	if !ok {
		return
	}
	c.out.Broadcast(EventUpdateUser, c.sessions.All())
	if !c.matchActive {
		// deaths outside a running match never produce standings
		return
	}
	if !rep.MatchOver() {
		c.out.Broadcast(EventSomeoneDead, SomeoneDead{PlayerRank: rep.Ranking, CurrentUsername: rep.Reporter})
		return
	}
	c.out.Broadcast(EventGameOver, rep.Ranking)
	c.finishMatch(rep.Ranking)
}

// checkReady publishes the ready count and starts a match when the barrier fires.
func (c *Coordinator) checkReady() {
	st, fired := c.barrier.CheckAllReady()
	c.out.Broadcast(EventWaitingStatus, st)
	if fired {
		c.startMatch()
	}
}

func (c *Coordinator) startMatch() {
	c.sessions.StartMatch()
	c.matchActive = true
	c.matchID = uuid.NewString()
	c.startedAt = time.Now().UTC()
	c.log.Info().Str("match_id", c.matchID).Int("players", c.sessions.Len()).Msg("match started")

	c.out.Broadcast(EventAllReady, nil)
	c.out.Broadcast(EventUpdateUser, c.sessions.All())
}

// checkAbandoned ends the running match when departures leave at most one
// participant standing.
func (c *Coordinator) checkAbandoned() {
	if !c.matchActive {
		return
	}
	if c.sessions.count(func(s *Session) bool { return s.InGame }) == 0 {
		c.log.Info().Str("match_id", c.matchID).Msg("match abandoned")
		c.matchActive = false
		return
	}
	if c.combat.AliveCount() > 1 {
		return
	}
	ranking := c.combat.Ranking()
	c.out.Broadcast(EventGameOver, ranking)
	c.finishMatch(ranking)
}

func (c *Coordinator) finishMatch(ranking []Session) {
	if !c.matchActive {
		return
	}
	c.matchActive = false
	res := MatchResult{
		ID:        c.matchID,
		StartedAt: c.startedAt,
		EndedAt:   time.Now().UTC(),
		Ranking:   ranking,
	}
	c.log.Info().Str("match_id", res.ID).Str("winner", res.Winner()).Dur("duration", res.EndedAt.Sub(res.StartedAt)).Msg("match over")

	for _, sink := range c.opts.Sinks {
		c.archives.Add(1)
		go func(sink ResultSink) {
			defer c.archives.Done()
			ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
			defer cancel()
			if err := sink.SaveMatch(ctx, res); err != nil {
				c.log.Error().Err(err).Str("match_id", res.ID).Msgf("archive to %T failed", sink)
			}
		}(sink)
	}
}

func (c *Coordinator) status() ArenaStatus {
	st := ArenaStatus{
		Players:       c.sessions.Len(),
		InWaitingRoom: c.barrier.Status().InWaitingRoom,
		Ready:         c.sessions.count(func(s *Session) bool { return s.Ready }),
		InGame:        c.sessions.count(func(s *Session) bool { return s.InGame }),
		Alive:         c.combat.AliveCount(),
		Barrier:       c.barrier.State(),
		Weapons:       c.weapons.Len(),
	}
	if c.matchActive {
		st.MatchID = c.matchID
	}
	return st
}
