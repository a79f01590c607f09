package game

import "github.com/andersfylling/lockstep-arena/internal/protocol"

// ServerInput is the reference game's server-computed per-tick side
// channel. The platformer has nothing authoritative to add beyond player
// input, so it carries no fields; Manager still folds it into every step
// via Simulation.Next, satisfying the spec's server_input_or_default
// contract uniformly across games that do use it.
type ServerInput struct{}

// Simulation adapts *World to manager.Simulation[protocol.Intent,
// ServerInput, WorldState]: Next restores the given state, applies each
// player's intent for this step, advances the world by one tick, and
// snapshots the result. This is pure from Manager's point of view even
// though World itself is a stateful ECS, because every call starts by
// restoring to the caller-supplied state (grounded on World.Restore/
// Snapshot, which already exist for this exact round trip).
type Simulation struct {
	world     *World
	playerIDs []int // slot index -> player ID, stable for the game's lifetime
}

// NewSimulation builds a Simulation over world for the given players, in
// the slot order Manager will index inputs by.
func NewSimulation(world *World, playerIDs []int) *Simulation {
	return &Simulation{world: world, playerIDs: append([]int(nil), playerIDs...)}
}

// Next implements manager.Simulation.
func (s *Simulation) Next(state WorldState, inputs []protocol.Intent, _ ServerInput) WorldState {
	s.world.Restore(state)
	for i, intent := range inputs {
		if i >= len(s.playerIDs) {
			break
		}
		s.world.SetPlayerIntent(s.playerIDs[i], intent)
	}
	s.world.Update()
	return s.world.Snapshot()
}
