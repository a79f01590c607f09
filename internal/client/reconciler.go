package client

import (
	"github.com/andersfylling/lockstep-arena/internal/game"
)

// Reconciler is a diagnostics adapter: it compares this client's own
// predicted state at a tick against the server's authoritative state for
// that same tick and reports whether/why they diverged. It performs no
// correction itself — manager.Manager.StateSnapshot already folds the
// authoritative state into the rollback window and resimulates whatever
// depended on it (internal/client.Client.applyServerSnapshot calls that
// right after Reconcile, so Reconcile still sees the client's own
// prediction) — so this exists purely to surface drift for logging.
type Reconciler struct {
	predictions *PredictionBuffer
	tolerance   float64 // Position difference tolerance for matching
}

// NewReconciler creates a reconciler with the given prediction buffer.
func NewReconciler(predictions *PredictionBuffer) *Reconciler {
	return &Reconciler{
		predictions: predictions,
		tolerance:   0.01, // Small tolerance for floating point comparison
	}
}

// SetTolerance sets the position mismatch tolerance.
func (r *Reconciler) SetTolerance(tolerance float64) {
	r.tolerance = tolerance
}

// ReconcileResult reports the outcome of comparing one tick's prediction
// to the server's authoritative state for it.
type ReconcileResult struct {
	Reconciled     bool   // Whether a comparison was made (false if no prediction existed for this tick)
	Mismatched     bool   // Whether the prediction diverged from the server
	ServerTick     uint64 // The tick that was compared
	MismatchReason string // If Mismatched, why
}

// Reconcile compares predicted (this client's own recorded prediction for
// server.Tick, or nil if none was kept) against the server's authoritative
// state and reports whether they matched. It prunes predictions up to the
// compared tick either way.
func (r *Reconciler) Reconcile(predicted *WorldSnapshot, server *game.WorldState) ReconcileResult {
	result := ReconcileResult{ServerTick: server.Tick}

	if predicted == nil {
		// No prediction to compare - this happens at start or after a long
		// gap (e.g. a reconnect). Nothing to report.
		return result
	}
	result.Reconciled = true

	if r.statesMatch(predicted, server) {
		r.predictions.PruneBefore(server.Tick)
		return result
	}

	result.Mismatched = true
	result.MismatchReason = r.describeMismatch(predicted, server)
	r.predictions.PruneBefore(server.Tick)
	return result
}

// statesMatch compares a predicted WorldSnapshot to the server's WorldState
func (r *Reconciler) statesMatch(predicted *WorldSnapshot, server *game.WorldState) bool {
	// Quick checksum comparison if both have it
	if predicted.Checksum != 0 && server.Checksum != 0 {
		if predicted.Checksum == server.Checksum {
			return true
		}
	}

	// Detailed comparison
	if len(predicted.Entities) != len(server.Entities) {
		return false
	}

	for i := range predicted.Entities {
		pe := &predicted.Entities[i]
		se := &server.Entities[i]

		// Compare positions within tolerance
		dx := pe.PositionX - se.Position.X
		dy := pe.PositionY - se.Position.Y
		if dx < 0 {
			dx = -dx
		}
		if dy < 0 {
			dy = -dy
		}

		if dx > r.tolerance || dy > r.tolerance {
			return false
		}

		// Compare grounded state
		if pe.Grounded != se.Grounded.OnGround {
			return false
		}
	}

	return true
}

// describeMismatch returns a human-readable description of why states don't match
func (r *Reconciler) describeMismatch(predicted *WorldSnapshot, server *game.WorldState) string {
	if len(predicted.Entities) != len(server.Entities) {
		return "entity count mismatch"
	}

	for i := range predicted.Entities {
		pe := &predicted.Entities[i]
		se := &server.Entities[i]

		dx := pe.PositionX - se.Position.X
		dy := pe.PositionY - se.Position.Y
		if dx < 0 {
			dx = -dx
		}
		if dy < 0 {
			dy = -dy
		}

		if dx > r.tolerance || dy > r.tolerance {
			return "position mismatch"
		}

		if pe.Grounded != se.Grounded.OnGround {
			return "grounded state mismatch"
		}
	}

	return "checksum mismatch (detailed comparison passed)"
}

// ConvertToWorldSnapshot converts a game.WorldState to a client WorldSnapshot
// for storing in the prediction buffer
func ConvertToWorldSnapshot(state *game.WorldState) WorldSnapshot {
	ws := WorldSnapshot{
		Tick:     state.Tick,
		Checksum: state.Checksum,
		Entities: make([]EntitySnapshot, 0, len(state.Entities)),
	}

	for _, es := range state.Entities {
		ws.Entities = append(ws.Entities, EntitySnapshot{
			PositionX: es.Position.X,
			PositionY: es.Position.Y,
			VelocityX: es.Velocity.X,
			VelocityY: es.Velocity.Y,
			Grounded:  es.Grounded.OnGround,
		})
	}

	return ws
}
