package protocol

// Intent represents a player input action as a bitmask
type Intent uint8

const (
	IntentNone   Intent = 0
	IntentLeft   Intent = 1 << iota
	IntentRight
	IntentJump
	IntentAttack
	IntentUse
)

// InputFrame contains player input for a single tick
type InputFrame struct {
	Tick    uint64
	Intents Intent
}

// EntityID uniquely identifies an entity
type EntityID uint64

// EntityState is the serialized state of an entity
type EntityState struct {
	ID         EntityID
	Components []byte // Game-defined encoding (internal/game's marshalEntityState)
}

// StateSnapshot contains game state for a tick
type StateSnapshot struct {
	Tick     uint64
	Full     bool     // True = complete state, False = delta
	Baseline uint64   // If delta, relative to this tick
	Entities []EntityState
	Removed  []EntityID // Entities removed since baseline
}

// Handshake is exchanged on connection
type Handshake struct {
	Version    int
	PlayerName string
}

// Message types for network protocol
type MsgType uint8

const (
	MsgHandshake MsgType = iota
	MsgInput
	MsgState
	MsgInputRelay
	MsgPing
	MsgPong
	MsgDisconnect
	MsgInitialInformation
	MsgServerInput
)

// InitialInformation is sent once by the server immediately after a
// Handshake is accepted: everything a client's manager.Manager needs to
// call InitialInformation and open its simulation window at frame 0.
type InitialInformation struct {
	PlayerIndex       uint32
	PlayerCount       int
	StartTimeUnixNano int64
	FrameDurationNano int64
	InitialState      []byte // EncodeStateSnapshot output, Full=true
}

// ServerInputFrame carries the server-computed per-tick side channel
// (spec's ServerInput) for one frame index.
type ServerInputFrame struct {
	Tick uint64
	Data []byte
}

// RelayedInput is what the server fans out over UDP to every client other
// than the one that sent a given InputFrame, so each client's Manager can
// resimulate peers' ticks without waiting on the next StateSnapshot.
type RelayedInput struct {
	Tick        uint64
	PlayerIndex uint32
	Intents     Intent
}
