package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/Hardy0611/shooting-arena/internal/auth"
	"github.com/Hardy0611/shooting-arena/internal/game"
	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Room is the socket.io room every authenticated connection joins.
const Room = "arena"

const outboxSize = 1024

type ConnCtx struct {
	Username string
}

// Dispatcher accepts inbound game events.
type Dispatcher interface {
	Submit(ev any) bool
}

type outbound struct {
	event   string
	payload any
}

// Server bridges socket.io connections and the coordinator. It implements
// game.Broadcaster through a buffered outbox drained by one pump goroutine.
type Server struct {
	tokens *auth.Tokens
	coord  Dispatcher
	log    zerolog.Logger

	outbox    chan outbound
	quit      chan struct{}
	closeOnce sync.Once
}

func New(tokens *auth.Tokens) *Server {
	return &Server{
		tokens: tokens,
		log:    log.With().Str("component", "ws").Logger(),
		outbox: make(chan outbound, outboxSize),
		quit:   make(chan struct{}),
	}
}

func (srv *Server) SetCoordinator(d Dispatcher) { srv.coord = d }

// Broadcast queues an event for every connection in the arena room. A full
// outbox drops the event.
func (srv *Server) Broadcast(event string, payload any) {
	select {
	case srv.outbox <- outbound{event: event, payload: payload}:
	default:
		srv.log.Warn().Str("event", event).Msg("outbox full, dropping broadcast")
	}
}

// Close stops the pump.
func (srv *Server) Close() {
	srv.closeOnce.Do(func() { close(srv.quit) })
}

// pump encodes queued events as JSON text and hands them to emit.
func (srv *Server) pump(emit func(event string, args ...any)) {
	for {
		select {
		case <-srv.quit:
			return
		case m := <-srv.outbox:
			if m.payload == nil {
				emit(m.event)
				continue
			}
			data, err := json.Marshal(m.payload)
			if err != nil {
				srv.log.Error().Err(err).Str("event", m.event).Msg("encode broadcast")
				continue
			}
			emit(m.event, string(data))
		}
	}
}

// Mount attaches the Socket.IO server with arena handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		u := s.URL()
		req := &http.Request{Header: s.RemoteHeader(), URL: &u}
		username, err := srv.tokens.Parse(auth.TokenFromRequest(req))
		if err != nil {
			// unauthenticated sockets stay connected but never get a session
			srv.log.Info().Str("sid", s.ID()).Msg("socket connected without session")
			return nil
		}
		s.SetContext(&ConnCtx{Username: username})
		s.Join(Room)
		srv.log.Info().Str("sid", s.ID()).Str("username", username).Msg("socket connected")
		srv.coord.Submit(game.Connect{Username: username, ConnID: s.ID()})
		return nil
	})

	io.OnEvent("/", "enterWaitingRoom", func(s socketio.Conn, raw any) {
		if u, ok := srv.actor(s, raw); ok {
			srv.coord.Submit(game.EnterWaitingRoom{Username: u})
		}
	})

	io.OnEvent("/", "playerReady", func(s socketio.Conn, raw any) {
		if u, ok := srv.actor(s, raw); ok {
			srv.coord.Submit(game.PlayerReady{Username: u})
		}
	})

	upload := func(s socketio.Conn, raw any) {
		u := username(s)
		if u == "" {
			return
		}
		var st game.Upload
		if !decodePayload(raw, &st) {
			srv.drop(s, "uploadUser")
			return
		}
		if st.Username != "" && st.Username != u {
			srv.drop(s, "uploadUser")
			return
		}
		srv.coord.Submit(game.UploadUser{Username: u, State: st})
	}
	io.OnEvent("/", "uploadUser", upload)
	// older clients send their snapshot under the broadcast name
	io.OnEvent("/", "updateUser", upload)

	io.OnEvent("/", "getGun", func(s socketio.Conn) {
		if username(s) != "" {
			srv.coord.Submit(game.RequestWeapons{})
		}
	})

	io.OnEvent("/", "playerCollectGun", func(s socketio.Conn, raw any) {
		var p struct {
			ID       *int   `json:"id"`
			Username string `json:"username"`
		}
		u := username(s)
		if u == "" || !decodePayload(raw, &p) || p.ID == nil || (p.Username != "" && p.Username != u) {
			srv.drop(s, "playerCollectGun")
			return
		}
		srv.coord.Submit(game.CollectWeapon{Username: u, WeaponID: *p.ID})
	})

	io.OnEvent("/", "addBullet", func(s socketio.Conn, raw any) {
		var p struct {
			Direction string  `json:"direction"`
			InitialX  float64 `json:"initialX"`
			InitialZ  float64 `json:"initialZ"`
		}
		u := username(s)
		if u == "" || !decodePayload(raw, &p) {
			srv.drop(s, "addBullet")
			return
		}
		srv.coord.Submit(game.FireWeapon{Shooter: u, Direction: p.Direction, InitialX: p.InitialX, InitialZ: p.InitialZ})
	})

	io.OnEvent("/", "playerHit", func(s socketio.Conn, raw any) {
		var p struct {
			HitPlayer string `json:"hitPlayer"`
		}
		if username(s) == "" || !decodePayload(raw, &p) || p.HitPlayer == "" {
			srv.drop(s, "playerHit")
			return
		}
		srv.coord.Submit(game.ReportHit{Target: p.HitPlayer})
	})

	io.OnEvent("/", "freezeOtherUser", func(s socketio.Conn, raw any) {
		if u, ok := srv.actor(s, raw); ok {
			srv.coord.Submit(game.FreezeOthers{Username: u})
		}
	})

	io.OnEvent("/", "playerDead", func(s socketio.Conn, raw any) {
		var p struct {
			Username string  `json:"username"`
			DeadTime float64 `json:"deadtime"`
		}
		u := username(s)
		if u == "" || !decodePayload(raw, &p) || (p.Username != "" && p.Username != u) {
			srv.drop(s, "playerDead")
			return
		}
		srv.coord.Submit(game.ReportDeath{Username: u, DeadAt: int64(p.DeadTime)})
	})

	io.OnEvent("/", "userLogout", func(s socketio.Conn, raw any) {
		if u, ok := srv.actor(s, raw); ok {
			srv.coord.Submit(game.Logout{Username: u})
		}
	})

	io.OnEvent("/", "playAgain", func(s socketio.Conn, raw any) {
		if u, ok := srv.actor(s, raw); ok {
			srv.coord.Submit(game.PlayAgain{Username: u})
		}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		if s == nil {
			srv.log.Error().Err(e).Msg("socket error")
			return
		}
		srv.log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if u := username(s); u != "" {
			srv.coord.Submit(game.Disconnect{Username: u, ConnID: s.ID()})
		}
		srv.log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()
	go srv.pump(func(event string, args ...any) {
		io.BroadcastToRoom("/", Room, event, args...)
	})

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	return io
}

// actor resolves the acting username for events whose payload only names the
// sender. A payload naming someone else is dropped.
func (srv *Server) actor(s socketio.Conn, raw any) (string, bool) {
	u := username(s)
	if u == "" {
		return "", false
	}
	if named, ok := usernameArg(raw); ok && named != u {
		srv.drop(s, "username mismatch")
		return "", false
	}
	return u, true
}

func (srv *Server) drop(s socketio.Conn, what string) {
	srv.log.Debug().Str("sid", s.ID()).Str("username", username(s)).Msgf("dropped %s payload", what)
}

func username(s socketio.Conn) string {
	if ctx, ok := s.Context().(*ConnCtx); ok && ctx != nil {
		return ctx.Username
	}
	return ""
}

// decodePayload accepts a JSON object or JSON text holding one.
func decodePayload(raw any, v any) bool {
	var data []byte
	switch r := raw.(type) {
	case nil:
		return false
	case string:
		data = []byte(r)
	case []byte:
		data = r
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return false
		}
		data = b
	}
	return json.Unmarshal(data, v) == nil
}

// usernameArg extracts a username sent bare, as JSON text, or as {username}.
func usernameArg(raw any) (string, bool) {
	switch r := raw.(type) {
	case string:
		r = strings.TrimSpace(r)
		if r == "" {
			return "", false
		}
		var quoted string
		if json.Unmarshal([]byte(r), &quoted) == nil {
			return quoted, quoted != ""
		}
		var obj struct {
			Username string `json:"username"`
		}
		if json.Unmarshal([]byte(r), &obj) == nil {
			return obj.Username, obj.Username != ""
		}
		return r, true
	case map[string]any:
		if u, ok := r["username"].(string); ok && u != "" {
			return u, true
		}
	}
	return "", false
}
