package game

// Outbound event names, as the browser client listens for them.
const (
	EventUpdateUser        = "updateUser"
	EventWaitingRoomStatus = "waitingRoomStatus"
	EventWaitingStatus     = "waitingStatus"
	EventAllReady          = "allReady"
	EventEnableReady       = "enableReady"
	EventUpdateGun         = "updateGun"
	EventUpdatePlayerGun   = "updatePlayerGun"
	EventAddBullet         = "addBullet"
	EventGameOver          = "gameOver"
	EventSomeoneDead       = "someoneDead"
)

// Inbound events. The transport fills in the acting username from the
// authenticated connection, never from the payload.

type Connect struct {
	Username string
	ConnID   string
}

// Disconnect is ignored when ConnID no longer owns the username's session.
type Disconnect struct {
	Username string
	ConnID   string
}

type Logout struct{ Username string }

type EnterWaitingRoom struct{ Username string }

type PlayerReady struct{ Username string }

type UploadUser struct {
	Username string
	State    Upload
}

type RequestWeapons struct{}

type CollectWeapon struct {
	Username string
	WeaponID int
}

type FireWeapon struct {
	Shooter   string
	Direction string
	InitialX  float64
	InitialZ  float64
}

type ReportHit struct{ Target string }

type FreezeOthers struct{ Username string }

type ReportDeath struct {
	Username string
	DeadAt   int64
}

// PlayAgain returns a session to the lobby after a match.
type PlayAgain struct{ Username string }

// StatusQuery asks for an ArenaStatus on Reply, which should be buffered.
type StatusQuery struct {
	Reply chan<- ArenaStatus
}

// timer events, scheduled by the coordinator itself
type clearHit struct {
	Username string
	Gen      uint64
}

type clearFreeze struct{ Gen uint64 }
