package game

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

type sent struct {
	Event   string
	Payload any
}

type recorder struct {
	mu     sync.Mutex
	events []sent
}

func (r *recorder) Broadcast(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sent{event, payload})
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recorder) named(event string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) last(event string) (sent, bool) {
	all := r.named(event)
	if len(all) == 0 {
		return sent{}, false
	}
	return all[len(all)-1], true
}

type scheduled struct {
	delay time.Duration
	ev    any
}

type sinkFunc func(ctx context.Context, r MatchResult) error

func (f sinkFunc) SaveMatch(ctx context.Context, r MatchResult) error { return f(ctx, r) }

// newTestCoordinator returns a coordinator whose timers are captured instead of run.
func newTestCoordinator(sinks ...ResultSink) (*Coordinator, *recorder, *[]scheduled) {
	rec := &recorder{}
	c := NewCoordinator(rec, Options{Rand: rand.New(rand.NewSource(1)), Sinks: sinks})
	timers := &[]scheduled{}
	c.after = func(d time.Duration, ev any) { *timers = append(*timers, scheduled{d, ev}) }
	return c, rec, timers
}

func beginMatch(t *testing.T, c *Coordinator, names ...string) {
	t.Helper()
	for i, n := range names {
		c.handle(Connect{Username: n, ConnID: "sid-" + string(rune('a'+i))})
	}
	for _, n := range names {
		c.handle(EnterWaitingRoom{Username: n})
	}
	for _, n := range names {
		c.handle(PlayerReady{Username: n})
	}
	if !c.matchActive {
		t.Fatal("expected match to start")
	}
}

func TestConnectBroadcastsTable(t *testing.T) {
	c, rec, _ := newTestCoordinator()
	c.handle(Connect{Username: "alice", ConnID: "sid-1"})
	c.handle(Connect{Username: "bob", ConnID: "sid-2"})

	ev, ok := rec.last(EventUpdateUser)
	if !ok {
		t.Fatal("expected updateUser broadcast")
	}
	table := ev.Payload.(map[string]Session)
	if len(table) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(table))
	}
	for name, s := range table {
		if s.Ready || s.InGame {
			t.Fatalf("expected %s idle", name)
		}
	}
}

func TestReadyFlow(t *testing.T) {
	c, rec, _ := newTestCoordinator()
	c.handle(Connect{Username: "alice", ConnID: "sid-1"})
	c.handle(Connect{Username: "bob", ConnID: "sid-2"})

	c.handle(EnterWaitingRoom{Username: "alice"})
	if len(rec.named(EventEnableReady)) != 0 {
		t.Fatal("ready must not be enabled before bob enters")
	}
	c.handle(PlayerReady{Username: "alice"})
	if s, _ := c.sessions.Get("alice"); s.Ready {
		t.Fatal("expected alice's ready to be ignored")
	}

	c.handle(EnterWaitingRoom{Username: "bob"})
	ev, _ := rec.last(EventWaitingRoomStatus)
	if st := ev.Payload.(WaitingRoomStatus); !st.AllInWaitingRoom || st.Total != 2 {
		t.Fatalf("unexpected waiting room status %+v", st)
	}
	if len(rec.named(EventEnableReady)) != 1 {
		t.Fatal("expected enableReady once everyone entered")
	}

	c.handle(PlayerReady{Username: "alice"})
	if len(rec.named(EventAllReady)) != 0 {
		t.Fatal("match started with only alice ready")
	}
	c.handle(PlayerReady{Username: "bob"})

	ev, _ = rec.last(EventWaitingStatus)
	if st := ev.Payload.(ReadyStatus); st.Ready != 2 || st.Total != 2 || st.InGame != 0 {
		t.Fatalf("unexpected ready status %+v", st)
	}
	if len(rec.named(EventAllReady)) != 1 {
		t.Fatal("expected a single allReady")
	}
	for _, s := range c.sessions.List() {
		if !s.InGame {
			t.Fatalf("expected %s in game", s.Username)
		}
	}
	if c.barrier.State() != BarrierLocked {
		t.Fatal("expected barrier locked during the match")
	}
}

func TestDisconnectInWaitingRoom(t *testing.T) {
	c, rec, _ := newTestCoordinator()
	c.handle(Connect{Username: "alice", ConnID: "sid-1"})
	c.handle(Connect{Username: "bob", ConnID: "sid-2"})
	c.handle(EnterWaitingRoom{Username: "alice"})
	c.handle(EnterWaitingRoom{Username: "bob"})
	rec.reset()

	c.handle(Disconnect{Username: "bob", ConnID: "sid-2"})
	if c.sessions.Has("bob") || c.barrier.InWaitingRoom("bob") {
		t.Fatal("expected bob removed from registry and waiting room")
	}
	ev, ok := rec.last(EventWaitingRoomStatus)
	if !ok {
		t.Fatal("expected waitingRoomStatus broadcast")
	}
	if st := ev.Payload.(WaitingRoomStatus); st.Total != 1 || st.InWaitingRoom != 1 {
		t.Fatalf("expected reduced totals, got %+v", st)
	}
	if _, ok := rec.last(EventWaitingStatus); !ok {
		t.Fatal("expected ready status recomputed on disconnect")
	}
}

func TestStaleDisconnectIgnored(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.handle(Connect{Username: "alice", ConnID: "sid-old"})
	c.handle(Connect{Username: "alice", ConnID: "sid-new"})

	c.handle(Disconnect{Username: "alice", ConnID: "sid-old"})
	if !c.sessions.Has("alice") {
		t.Fatal("stale disconnect removed the live session")
	}
	c.handle(Disconnect{Username: "alice", ConnID: "sid-new"})
	if c.sessions.Has("alice") {
		t.Fatal("expected live disconnect to remove the session")
	}
}

func TestLogout(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.handle(Connect{Username: "alice", ConnID: "sid-1"})
	c.handle(Logout{Username: "alice"})
	if c.sessions.Len() != 0 {
		t.Fatal("expected logout to remove the session")
	}
}

func TestWeapons(t *testing.T) {
	c, rec, _ := newTestCoordinator()
	c.handle(Connect{Username: "alice", ConnID: "sid-1"})
	c.handle(RequestWeapons{})

	ev, _ := rec.last(EventUpdateGun)
	live := ev.Payload.([]WeaponSpawn)
	if len(live) != TargetWeapons {
		t.Fatalf("expected %d weapons, got %d", TargetWeapons, len(live))
	}

	c.handle(CollectWeapon{Username: "alice", WeaponID: live[0].ID})
	armed, ok := rec.last(EventUpdatePlayerGun)
	if !ok {
		t.Fatal("expected updatePlayerGun")
	}
	pg := armed.Payload.(PlayerGun)
	if pg.Username != "alice" || pg.Gun.ID != live[0].ID {
		t.Fatalf("unexpected player gun %+v", pg)
	}

	rec.reset()
	c.handle(CollectWeapon{Username: "alice", WeaponID: 12345})
	if len(rec.named(EventUpdatePlayerGun)) != 0 {
		t.Fatal("unknown weapon must not arm anyone")
	}
	if len(rec.named(EventUpdateGun)) != 1 {
		t.Fatal("expected unchanged list re-broadcast")
	}
}

func TestFireWeapon(t *testing.T) {
	c, rec, _ := newTestCoordinator()
	c.handle(Connect{Username: "alice", ConnID: "sid-1"})

	c.handle(FireWeapon{Shooter: "alice", Direction: "left", InitialX: 1, InitialZ: 2})
	c.handle(FireWeapon{Shooter: "alice", Direction: "up"})
	c.handle(FireWeapon{Shooter: "ghost", Direction: "up"})

	bullets := rec.named(EventAddBullet)
	if len(bullets) != 2 {
		t.Fatalf("expected 2 bullets, got %d", len(bullets))
	}
	first, second := bullets[0].Payload.(Bullet), bullets[1].Payload.(Bullet)
	if first.ShooterID != "alice" || first.InitialX != 1 || first.InitialZ != 2 {
		t.Fatalf("unexpected bullet %+v", first)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected increasing bullet ids, got %d then %d", first.ID, second.ID)
	}
}

func TestHitSchedulesClear(t *testing.T) {
	c, rec, timers := newTestCoordinator()
	c.handle(Connect{Username: "alice", ConnID: "sid-1"})
	rec.reset()

	c.handle(ReportHit{Target: "alice"})
	if len(rec.named(EventUpdateUser)) != 1 {
		t.Fatal("expected immediate updateUser")
	}
	if len(*timers) != 1 || (*timers)[0].delay != DefaultHitAnimationDelay {
		t.Fatalf("expected one clear scheduled after %s, got %+v", DefaultHitAnimationDelay, *timers)
	}

	c.handle((*timers)[0].ev)
	s, _ := c.sessions.Get("alice")
	if s.HitAnimation {
		t.Fatal("expected hit animation cleared")
	}
	if s.Health != StartingHealth-1 {
		t.Fatalf("expected health %d, got %d", StartingHealth-1, s.Health)
	}
	if len(rec.named(EventUpdateUser)) != 2 {
		t.Fatal("expected second updateUser after the clear")
	}
}

func TestHitClearAfterReconnectDropped(t *testing.T) {
	c, rec, timers := newTestCoordinator()
	c.handle(Connect{Username: "alice", ConnID: "sid-1"})
	c.handle(ReportHit{Target: "alice"})
	c.handle(Disconnect{Username: "alice", ConnID: "sid-1"})
	c.handle(Connect{Username: "alice", ConnID: "sid-2"})
	c.handle(ReportHit{Target: "alice"})
	rec.reset()

	c.handle((*timers)[0].ev)
	if len(rec.named(EventUpdateUser)) != 1 {
		t.Fatal("expected the delayed updateUser even for a stale clear")
	}
	if s, _ := c.sessions.Get("alice"); !s.HitAnimation {
		t.Fatal("stale clear touched the new session")
	}
	c.handle((*timers)[1].ev)
	if s, _ := c.sessions.Get("alice"); s.HitAnimation {
		t.Fatal("expected the new session's own clear to apply")
	}
}

func TestHitUnknownIgnored(t *testing.T) {
	c, rec, timers := newTestCoordinator()
	c.handle(ReportHit{Target: "ghost"})
	if len(rec.named(EventUpdateUser)) != 0 || len(*timers) != 0 {
		t.Fatal("hit on unknown target must be a no-op")
	}
}

func TestFreezeOthers(t *testing.T) {
	c, _, timers := newTestCoordinator()
	c.handle(Connect{Username: "alice", ConnID: "sid-1"})
	c.handle(Connect{Username: "bob", ConnID: "sid-2"})

	c.handle(FreezeOthers{Username: "alice"})
	if s, _ := c.sessions.Get("bob"); !s.Freeze {
		t.Fatal("expected bob frozen")
	}
	if s, _ := c.sessions.Get("alice"); s.Freeze {
		t.Fatal("requester must not freeze")
	}
	if len(*timers) != 1 || (*timers)[0].delay != DefaultFreezeDuration {
		t.Fatalf("expected one freeze clear, got %+v", *timers)
	}
	c.handle((*timers)[0].ev)
	if s, _ := c.sessions.Get("bob"); s.Freeze {
		t.Fatal("expected bob unfrozen")
	}
}

func TestFreezeClearAlwaysBroadcasts(t *testing.T) {
	c, rec, timers := newTestCoordinator()
	c.handle(Connect{Username: "alice", ConnID: "sid-1"})
	c.handle(Connect{Username: "bob", ConnID: "sid-2"})
	c.handle(FreezeOthers{Username: "alice"})

	unfrozen := false
	c.handle(UploadUser{Username: "bob", State: Upload{Freeze: &unfrozen}})
	rec.reset()

	c.handle((*timers)[0].ev)
	if len(rec.named(EventUpdateUser)) != 1 {
		t.Fatalf("expected updateUser after the freeze delay, got %d", len(rec.named(EventUpdateUser)))
	}
}

func TestDeathInLobbyDoesNotEndAnything(t *testing.T) {
	var saved int
	sink := sinkFunc(func(context.Context, MatchResult) error { saved++; return nil })
	c, rec, _ := newTestCoordinator(sink)
	c.handle(Connect{Username: "alice", ConnID: "sid-1"})
	c.handle(Connect{Username: "bob", ConnID: "sid-2"})
	rec.reset()

	c.handle(ReportDeath{Username: "alice", DeadAt: 5})
	if len(rec.named(EventUpdateUser)) != 1 {
		t.Fatal("expected the death stamp broadcast")
	}
	if n := len(rec.named(EventGameOver)) + len(rec.named(EventSomeoneDead)); n != 0 {
		t.Fatalf("expected no match events outside a match, got %d", n)
	}
	c.archives.Wait()
	if saved != 0 {
		t.Fatalf("expected nothing archived, got %d", saved)
	}
}

func TestLobbyReturnByUploadNeedsReadyAgain(t *testing.T) {
	c, rec, _ := newTestCoordinator()
	beginMatch(t, c, "alice", "bob")
	c.handle(ReportDeath{Username: "alice", DeadAt: 1})
	if c.matchActive {
		t.Fatal("expected match finished")
	}

	out := false
	c.handle(UploadUser{Username: "alice", State: Upload{InGame: &out}})
	c.handle(UploadUser{Username: "bob", State: Upload{InGame: &out}})
	if n := len(rec.named(EventAllReady)); n != 1 {
		t.Fatalf("expected only the first match to start, got %d allReady", n)
	}
	if c.matchActive || c.barrier.State() != BarrierLocked {
		t.Fatalf("expected locked barrier while ready flags remain, got %s", c.barrier.State())
	}

	c.handle(UploadUser{Username: "alice", State: Upload{Ready: &out}})
	c.handle(UploadUser{Username: "bob", State: Upload{Ready: &out}})
	if c.barrier.State() != BarrierOpen {
		t.Fatal("expected barrier reopened once nobody is ready or in game")
	}
	if n := len(rec.named(EventAllReady)); n != 1 {
		t.Fatalf("reopening must not start a match, got %d allReady", n)
	}

	c.handle(EnterWaitingRoom{Username: "alice"})
	c.handle(EnterWaitingRoom{Username: "bob"})
	c.handle(PlayerReady{Username: "alice"})
	c.handle(PlayerReady{Username: "bob"})
	if !c.matchActive || len(rec.named(EventAllReady)) != 2 {
		t.Fatal("expected the next match after both pressed ready")
	}
}

func TestDeathContinuesThenEnds(t *testing.T) {
	var mu sync.Mutex
	var saved []MatchResult
	sink := sinkFunc(func(_ context.Context, r MatchResult) error {
		mu.Lock()
		defer mu.Unlock()
		saved = append(saved, r)
		return nil
	})
	c, rec, _ := newTestCoordinator(sink)
	beginMatch(t, c, "alice", "bob", "carol")
	matchID := c.matchID

	c.handle(ReportDeath{Username: "alice", DeadAt: 100})
	ev, ok := rec.last(EventSomeoneDead)
	if !ok {
		t.Fatal("expected someoneDead while two remain")
	}
	sd := ev.Payload.(SomeoneDead)
	if sd.CurrentUsername != "alice" || len(sd.PlayerRank) != 3 {
		t.Fatalf("unexpected interim ranking %+v", sd)
	}
	if len(rec.named(EventGameOver)) != 0 {
		t.Fatal("match ended too early")
	}

	c.handle(ReportDeath{Username: "bob", DeadAt: 200})
	ev, ok = rec.last(EventGameOver)
	if !ok {
		t.Fatal("expected gameOver")
	}
	ranking := ev.Payload.([]Session)
	if ranking[0].Username != "carol" || ranking[1].Username != "bob" || ranking[2].Username != "alice" {
		t.Fatalf("unexpected final ranking %+v", ranking)
	}

	// a late report repeats gameOver but must not archive twice
	c.handle(ReportDeath{Username: "bob", DeadAt: 300})
	c.archives.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(saved) != 1 {
		t.Fatalf("expected one archived match, got %d", len(saved))
	}
	if saved[0].ID != matchID || saved[0].Winner() != "carol" {
		t.Fatalf("unexpected archive %+v", saved[0])
	}
}

func TestScenarioHitsThenDeath(t *testing.T) {
	c, rec, _ := newTestCoordinator()
	beginMatch(t, c, "alice", "bob")

	for i := 0; i < 3; i++ {
		c.handle(ReportHit{Target: "alice"})
	}
	if s, _ := c.sessions.Get("alice"); s.Health != 0 {
		t.Fatalf("expected health 0, got %d", s.Health)
	}
	c.handle(ReportDeath{Username: "alice", DeadAt: time.Now().UnixMilli()})

	ev, ok := rec.last(EventGameOver)
	if !ok {
		t.Fatal("expected gameOver")
	}
	ranking := ev.Payload.([]Session)
	if len(ranking) != 2 || ranking[0].Username != "bob" || ranking[1].Username != "alice" {
		t.Fatalf("expected bob above alice, got %+v", ranking)
	}
	if c.matchActive {
		t.Fatal("expected match finished")
	}
}

func TestDisconnectEndsMatch(t *testing.T) {
	failing := sinkFunc(func(context.Context, MatchResult) error { return errors.New("offline") })
	c, rec, _ := newTestCoordinator(failing)
	beginMatch(t, c, "alice", "bob")

	c.handle(Disconnect{Username: "bob", ConnID: "sid-b"})
	ev, ok := rec.last(EventGameOver)
	if !ok {
		t.Fatal("expected gameOver when the opponent leaves")
	}
	if ranking := ev.Payload.([]Session); len(ranking) != 1 || ranking[0].Username != "alice" {
		t.Fatalf("unexpected ranking %+v", ranking)
	}
	c.archives.Wait()
	if c.matchActive {
		t.Fatal("expected match finished")
	}
}

func TestPlayAgainReopensBarrier(t *testing.T) {
	c, rec, _ := newTestCoordinator()
	beginMatch(t, c, "alice", "bob")
	c.handle(ReportDeath{Username: "alice", DeadAt: 1})

	c.handle(PlayAgain{Username: "alice"})
	if c.barrier.State() != BarrierLocked {
		t.Fatal("barrier must stay locked while bob is in game")
	}
	c.handle(PlayAgain{Username: "bob"})
	if c.barrier.State() != BarrierOpen {
		t.Fatal("expected barrier reopened")
	}
	s, _ := c.sessions.Get("alice")
	if s.InGame || s.Ready || s.IsDead != nil || s.Health != StartingHealth {
		t.Fatalf("expected lobby state, got %+v", s)
	}

	rec.reset()
	c.handle(EnterWaitingRoom{Username: "alice"})
	c.handle(EnterWaitingRoom{Username: "bob"})
	c.handle(PlayerReady{Username: "alice"})
	c.handle(PlayerReady{Username: "bob"})
	if len(rec.named(EventAllReady)) != 1 {
		t.Fatal("expected a second match to start")
	}
}

func TestStatusQuery(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.handle(Connect{Username: "alice", ConnID: "sid-1"})
	c.handle(RequestWeapons{})

	reply := make(chan ArenaStatus, 1)
	c.handle(StatusQuery{Reply: reply})
	st := <-reply
	if st.Players != 1 || st.Weapons != TargetWeapons || st.Barrier != BarrierOpen || st.MatchID != "" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestRunLoopClearsHit(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, Options{HitAnimationDelay: 10 * time.Millisecond})
	go c.Run()
	defer c.Stop()

	c.Submit(Connect{Username: "alice", ConnID: "sid-1"})
	c.Submit(ReportHit{Target: "alice"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.named(EventUpdateUser)) >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	ev, ok := rec.last(EventUpdateUser)
	if !ok {
		t.Fatal("expected updateUser")
	}
	if s := ev.Payload.(map[string]Session)["alice"]; s.HitAnimation {
		t.Fatal("expected hit animation cleared by the timer")
	}

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Players != 1 {
		t.Fatalf("expected 1 player, got %d", st.Players)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	c := NewCoordinator(&recorder{}, Options{})
	c.Stop()
	c.Stop()
	if c.Submit(RequestWeapons{}) {
		t.Fatal("expected submit to fail after stop")
	}
	if _, err := c.Status(context.Background()); !errors.Is(err, ErrCoordinatorStopped) {
		t.Fatalf("expected ErrCoordinatorStopped, got %v", err)
	}
}
