package game

import (
	"encoding/json"
	"time"
)

const (
	// StartingHealth is the health every session joins and respawns with.
	StartingHealth = 3

	DefaultDirection = "idle"
	DefaultFacing    = "down"
)

// DefaultSpawn is where a freshly joined session stands until its first upload.
var DefaultSpawn = Position{X: 0, Y: 0, Z: 20}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Session is the live gameplay state of one connected username.
type Session struct {
	Username     string          `json:"username"`
	Position     Position        `json:"position"`
	Sequence     json.RawMessage `json:"sequence,omitempty"` // client animation state, opaque to the server
	Direction    string          `json:"direction"`
	Facing       string          `json:"facing"`
	HasGun       bool            `json:"hasGun"`
	Health       int             `json:"health"`
	HitAnimation bool            `json:"hitAnimation"`
	Ready        bool            `json:"ready"`
	Freeze       bool            `json:"freeze"`
	InGame       bool            `json:"inGame"`
	IsDead       *int64          `json:"isDead"` // unix millis of death, nil while alive

	connID    string
	hitGen    uint64
	freezeGen uint64
}

func newSession(username, connID string) *Session {
	return &Session{
		Username:  username,
		Position:  DefaultSpawn,
		Direction: DefaultDirection,
		Facing:    DefaultFacing,
		Health:    StartingHealth,
		connID:    connID,
	}
}

// Alive reports whether the session has no recorded death.
func (s Session) Alive() bool { return s.IsDead == nil }

func (s Session) clone() Session {
	out := s
	if s.Sequence != nil {
		out.Sequence = append(json.RawMessage(nil), s.Sequence...)
	}
	if s.IsDead != nil {
		t := *s.IsDead
		out.IsDead = &t
	}
	return out
}

// normalize keeps a dead session at or below zero health.
func (s *Session) normalize() {
	if s.IsDead != nil && s.Health > 0 {
		s.Health = 0
	}
}

// Upload is a client-submitted snapshot of its own session. Fields left out of
// the JSON keep their current server value.
type Upload struct {
	Username  string          `json:"username"`
	Position  *Position       `json:"position"`
	Sequence  json.RawMessage `json:"sequence"`
	Direction *string         `json:"direction"`
	Facing    *string         `json:"facing"`
	HasGun    *bool           `json:"hasGun"`
	Health    *int            `json:"health"`
	IsDead    json.RawMessage `json:"isDead"`
	Ready     *bool           `json:"ready"`
	Freeze    *bool           `json:"freeze"`
	InGame    *bool           `json:"inGame"`
}

// deathMark decodes the isDead field: present reports whether the key was sent,
// at is nil for an explicit null.
func (u Upload) deathMark() (at *int64, present bool) {
	if len(u.IsDead) == 0 {
		return nil, false
	}
	if string(u.IsDead) == "null" {
		return nil, true
	}
	var ms float64
	if err := json.Unmarshal(u.IsDead, &ms); err != nil {
		return nil, false
	}
	t := int64(ms)
	return &t, true
}

type Location struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// WeaponSpawn is one pickup weapon lying on a catalog location.
type WeaponSpawn struct {
	ID            int     `json:"id"`
	LocationIndex int     `json:"locationIndex"`
	X             float64 `json:"initialPosX"`
	Z             float64 `json:"initialPosZ"`
	OffsetX       float64 `json:"offsetX"`
	OffsetY       float64 `json:"offsetY"`
}

type Bullet struct {
	ID        int     `json:"id"`
	ShooterID string  `json:"shooterID"`
	Direction string  `json:"direction"`
	InitialX  float64 `json:"initialX"`
	InitialZ  float64 `json:"initialZ"`
}

type WaitingRoomStatus struct {
	InWaitingRoom    int  `json:"inWaitingRoom"`
	Total            int  `json:"total"`
	AllInWaitingRoom bool `json:"allInWaitingRoom"`
}

type ReadyStatus struct {
	Ready  int `json:"ready"`
	Total  int `json:"total"`
	InGame int `json:"inGame"`
}

type PlayerGun struct {
	Gun      WeaponSpawn `json:"gun"`
	Username string      `json:"username"`
}

type SomeoneDead struct {
	PlayerRank      []Session `json:"playerRank"`
	CurrentUsername string    `json:"currentUsername"`
}

// ArenaStatus is a point-in-time summary of the coordinator for status endpoints.
type ArenaStatus struct {
	Players       int          `json:"players"`
	InWaitingRoom int          `json:"inWaitingRoom"`
	Ready         int          `json:"ready"`
	InGame        int          `json:"inGame"`
	Alive         int          `json:"alive"`
	Barrier       BarrierState `json:"barrier"`
	MatchID       string       `json:"matchId,omitempty"`
	Weapons       int          `json:"weapons"`
}

// MatchResult is the archived outcome of one finished match.
type MatchResult struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Ranking   []Session `json:"ranking"`
}

// Winner returns the top-ranked username, or "" for an empty ranking.
func (m MatchResult) Winner() string {
	if len(m.Ranking) == 0 {
		return ""
	}
	return m.Ranking[0].Username
}
