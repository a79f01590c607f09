package game

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math"

	"github.com/andersfylling/lockstep-arena/internal/protocol"
	"github.com/mlange-42/ark/ecs"
)

// EntityState captures the full state of an entity for snapshot/restore
type EntityState struct {
	Entity    ecs.Entity
	Position  Position
	Velocity  Velocity
	Grounded  Grounded
	HasPlayer bool
	Player    Player
	HasAttack bool
	Attack    AttackState
}

// WorldState is a complete snapshot of the game world for rollback
type WorldState struct {
	Tick     uint64
	Entities []EntityState
	Checksum uint32
}

// Snapshot creates a complete snapshot of the current world state
// This captures all entity states needed for rollback and replay
func (w *World) Snapshot() WorldState {
	state := WorldState{
		Tick:     w.Tick,
		Entities: make([]EntityState, 0),
	}

	// Capture all physics entities (players and enemies)
	query := w.physicsFilter.Query()
	for query.Next() {
		entity := query.Entity()
		pos, vel, _, grounded := query.Get()

		es := EntityState{
			Entity:   entity,
			Position: *pos,
			Velocity: *vel,
			Grounded: *grounded,
		}

		// Check if this entity has Player component
		playerQuery := w.playerFilter.Query()
		for playerQuery.Next() {
			if playerQuery.Entity() == entity {
				_, player := playerQuery.Get()
				es.HasPlayer = true
				es.Player = *player
				break
			}
		}
		playerQuery.Close()

		// Check if this entity has AttackState component
		attackQuery := w.attackFilter.Query()
		for attackQuery.Next() {
			if attackQuery.Entity() == entity {
				_, _, _, attack, _, _ := attackQuery.Get()
				es.HasAttack = true
				es.Attack = *attack
				break
			}
		}
		attackQuery.Close()

		state.Entities = append(state.Entities, es)
	}

	// Calculate checksum for fast comparison
	state.Checksum = state.computeChecksum()

	return state
}

// Restore applies a saved world state, rolling back to that point in time
func (w *World) Restore(state WorldState) {
	w.Tick = state.Tick

	for _, es := range state.Entities {
		// Find and update the entity
		// We use the physics filter since all relevant entities have physics
		query := w.physicsFilter.Query()
		for query.Next() {
			if query.Entity() == es.Entity {
				pos, vel, _, grounded := query.Get()
				*pos = es.Position
				*vel = es.Velocity
				*grounded = es.Grounded
				break
			}
		}
		query.Close()

		// Restore attack state if present
		if es.HasAttack {
			attackQuery := w.attackFilter.Query()
			for attackQuery.Next() {
				if attackQuery.Entity() == es.Entity {
					_, _, _, attack, _, _ := attackQuery.Get()
					*attack = es.Attack
					break
				}
			}
			attackQuery.Close()
		}
	}
}

// computeChecksum calculates a fast hash for comparing world states
func (state *WorldState) computeChecksum() uint32 {
	h := fnv.New32a()

	// Hash tick
	tickBytes := make([]byte, 8)
	tickBytes[0] = byte(state.Tick)
	tickBytes[1] = byte(state.Tick >> 8)
	tickBytes[2] = byte(state.Tick >> 16)
	tickBytes[3] = byte(state.Tick >> 24)
	tickBytes[4] = byte(state.Tick >> 32)
	tickBytes[5] = byte(state.Tick >> 40)
	tickBytes[6] = byte(state.Tick >> 48)
	tickBytes[7] = byte(state.Tick >> 56)
	h.Write(tickBytes)

	// Hash each entity's position (most important for mismatch detection)
	for _, es := range state.Entities {
		// Convert float64 to bytes for hashing
		// Using a simple representation - position * 1000 to preserve some precision
		posX := int64(es.Position.X * 1000)
		posY := int64(es.Position.Y * 1000)

		posBytes := make([]byte, 16)
		posBytes[0] = byte(posX)
		posBytes[1] = byte(posX >> 8)
		posBytes[2] = byte(posX >> 16)
		posBytes[3] = byte(posX >> 24)
		posBytes[4] = byte(posX >> 32)
		posBytes[5] = byte(posX >> 40)
		posBytes[6] = byte(posX >> 48)
		posBytes[7] = byte(posX >> 56)
		posBytes[8] = byte(posY)
		posBytes[9] = byte(posY >> 8)
		posBytes[10] = byte(posY >> 16)
		posBytes[11] = byte(posY >> 24)
		posBytes[12] = byte(posY >> 32)
		posBytes[13] = byte(posY >> 40)
		posBytes[14] = byte(posY >> 48)
		posBytes[15] = byte(posY >> 56)
		h.Write(posBytes)
	}

	return h.Sum32()
}

// StatesMatch compares two world states for equivalence within tolerance
func StatesMatch(a, b *WorldState, tolerance float64) bool {
	// Quick checksum comparison
	if a.Checksum == b.Checksum {
		return true
	}

	// If checksums differ, do detailed comparison
	if len(a.Entities) != len(b.Entities) {
		return false
	}

	for i := range a.Entities {
		ea := &a.Entities[i]
		eb := &b.Entities[i]

		// Compare positions within tolerance
		dx := ea.Position.X - eb.Position.X
		dy := ea.Position.Y - eb.Position.Y
		if dx < 0 {
			dx = -dx
		}
		if dy < 0 {
			dy = -dy
		}

		if dx > tolerance || dy > tolerance {
			return false
		}

		// Compare grounded state
		if ea.Grounded.OnGround != eb.Grounded.OnGround {
			return false
		}
	}

	return true
}

// ToProtocolSnapshot converts a WorldState to a protocol.StateSnapshot for
// network transmission: every entity's full component set (everything
// Restore needs) is marshaled into its own opaque protocol.EntityState.Components
// blob, so internal/sync's Diff/Apply can compare and merge per-entity
// without knowing anything about the reference game's component shapes.
func (state *WorldState) ToProtocolSnapshot() protocol.StateSnapshot {
	snapshot := protocol.StateSnapshot{
		Tick:     state.Tick,
		Full:     true,
		Entities: make([]protocol.EntityState, 0, len(state.Entities)),
	}

	for _, es := range state.Entities {
		snapshot.Entities = append(snapshot.Entities, protocol.EntityState{
			ID:         protocol.EntityID(es.Entity.ID()),
			Components: marshalEntityState(es),
		})
	}

	return snapshot
}

// entityComponents is the decoded form of one protocol.EntityState's
// Components blob: everything Restore needs, minus the ecs.Entity handle
// itself, since a handle from one World's Restore/Snapshot round trip
// doesn't mean anything in another World (the remote peer that sent it).
// World.ApplyNetworkSnapshot (internal/game/world.go) is what turns these
// back into live local entities, mapping by protocol.EntityID instead of
// ecs.Entity identity.
type entityComponents struct {
	Position  Position
	Velocity  Velocity
	Grounded  Grounded
	HasPlayer bool
	Player    Player
	HasAttack bool
	Attack    AttackState
}

func marshalEntityState(es EntityState) []byte {
	buf := make([]byte, 0, 64)
	buf = appendFloat64(buf, es.Position.X)
	buf = appendFloat64(buf, es.Position.Y)
	buf = appendFloat64(buf, es.Velocity.X)
	buf = appendFloat64(buf, es.Velocity.Y)
	buf = append(buf, boolByte(es.Grounded.OnGround))

	buf = append(buf, boolByte(es.HasPlayer))
	if es.HasPlayer {
		buf = appendInt32(buf, int32(es.Player.ID))
		buf = appendString(buf, es.Player.Name)
	}

	buf = append(buf, boolByte(es.HasAttack))
	if es.HasAttack {
		buf = append(buf, boolByte(es.Attack.Charging))
		buf = appendInt32(buf, int32(es.Attack.ChargeTicks))
		buf = append(buf, boolByte(es.Attack.Attacking))
		buf = appendInt32(buf, int32(es.Attack.TicksLeft))
		buf = append(buf, boolByte(es.Attack.FacingRight))
	}

	return buf
}

var errShortEntityState = errors.New("game: short entity state buffer")

func decodeEntityComponents(buf []byte) (entityComponents, error) {
	var ec entityComponents

	var ok bool
	ec.Position.X, buf, ok = readFloat64(buf)
	if !ok {
		return entityComponents{}, errShortEntityState
	}
	ec.Position.Y, buf, ok = readFloat64(buf)
	if !ok {
		return entityComponents{}, errShortEntityState
	}
	ec.Velocity.X, buf, ok = readFloat64(buf)
	if !ok {
		return entityComponents{}, errShortEntityState
	}
	ec.Velocity.Y, buf, ok = readFloat64(buf)
	if !ok {
		return entityComponents{}, errShortEntityState
	}
	if len(buf) < 1 {
		return entityComponents{}, errShortEntityState
	}
	ec.Grounded.OnGround = buf[0] != 0
	buf = buf[1:]

	if len(buf) < 1 {
		return entityComponents{}, errShortEntityState
	}
	ec.HasPlayer = buf[0] != 0
	buf = buf[1:]
	if ec.HasPlayer {
		if len(buf) < 4 {
			return entityComponents{}, errShortEntityState
		}
		ec.Player.ID = int(int32(binary.LittleEndian.Uint32(buf)))
		buf = buf[4:]
		var name string
		name, buf, ok = readString(buf)
		if !ok {
			return entityComponents{}, errShortEntityState
		}
		ec.Player.Name = name
	}

	if len(buf) < 1 {
		return entityComponents{}, errShortEntityState
	}
	ec.HasAttack = buf[0] != 0
	buf = buf[1:]
	if ec.HasAttack {
		if len(buf) < 1 {
			return entityComponents{}, errShortEntityState
		}
		ec.Attack.Charging = buf[0] != 0
		buf = buf[1:]
		if len(buf) < 4 {
			return entityComponents{}, errShortEntityState
		}
		ec.Attack.ChargeTicks = int(int32(binary.LittleEndian.Uint32(buf)))
		buf = buf[4:]
		if len(buf) < 1 {
			return entityComponents{}, errShortEntityState
		}
		ec.Attack.Attacking = buf[0] != 0
		buf = buf[1:]
		if len(buf) < 4 {
			return entityComponents{}, errShortEntityState
		}
		ec.Attack.TicksLeft = int(int32(binary.LittleEndian.Uint32(buf)))
		buf = buf[4:]
		if len(buf) < 1 {
			return entityComponents{}, errShortEntityState
		}
		ec.Attack.FacingRight = buf[0] != 0
	}

	return ec, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendFloat64(buf []byte, f float64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(f))
	return append(buf, tmp[:]...)
}

func readFloat64(buf []byte) (float64, []byte, bool) {
	if len(buf) < 8 {
		return 0, buf, false
	}
	bits := binary.LittleEndian.Uint64(buf[:8])
	return math.Float64frombits(bits), buf[8:], true
}

func appendInt32(buf []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}

func appendString(buf []byte, s string) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], uint16(len(s)))
	buf = append(buf, tmp[:]...)
	return append(buf, s...)
}

// Interpolate blends two WorldStates weight-of-the-way from a to b, for
// internal/renderreceiver.Receiver.GetLatestFrame. Entities are matched by
// ecs.Entity, which is stable across ticks of this same World (unlike
// across a network hop — see entityComponents above) since an entity is
// never destroyed and recreated under a reused handle mid-game, only
// spawned or removed outright.
func Interpolate(a, b WorldState, weight float64) WorldState {
	out := WorldState{Tick: b.Tick}

	remaining := make(map[ecs.Entity]EntityState, len(b.Entities))
	for _, es := range b.Entities {
		remaining[es.Entity] = es
	}

	for _, ea := range a.Entities {
		eb, ok := remaining[ea.Entity]
		if !ok {
			// Removed between a and b (e.g. a spent fist): hold it at its
			// last known position rather than popping it away early.
			out.Entities = append(out.Entities, ea)
			continue
		}
		out.Entities = append(out.Entities, EntityState{
			Entity:    ea.Entity,
			Position:  lerpPosition(ea.Position, eb.Position, weight),
			Velocity:  lerpVelocity(ea.Velocity, eb.Velocity, weight),
			Grounded:  eb.Grounded,
			HasPlayer: eb.HasPlayer,
			Player:    eb.Player,
			HasAttack: eb.HasAttack,
			Attack:    eb.Attack,
		})
		delete(remaining, ea.Entity)
	}

	// Entities new in b (e.g. a freshly fired fist): appear at b's
	// position immediately rather than waiting a full tick.
	for _, eb := range remaining {
		out.Entities = append(out.Entities, eb)
	}

	out.Checksum = out.computeChecksum()
	return out
}

func lerpPosition(a, b Position, w float64) Position {
	return Position{X: a.X + (b.X-a.X)*w, Y: a.Y + (b.Y-a.Y)*w}
}

func lerpVelocity(a, b Velocity, w float64) Velocity {
	return Velocity{X: a.X + (b.X-a.X)*w, Y: a.Y + (b.Y-a.Y)*w}
}

func readString(buf []byte) (string, []byte, bool) {
	if len(buf) < 2 {
		return "", buf, false
	}
	n := int(binary.LittleEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < n {
		return "", buf, false
	}
	return string(buf[:n]), buf[n:], true
}
