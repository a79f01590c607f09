package game

import (
	"github.com/andersfylling/lockstep-arena/internal/collision"
	"github.com/andersfylling/lockstep-arena/internal/protocol"
	"github.com/mlange-42/ark/ecs"
)

// Renderable is a flattened, renderer-facing view of one drawable entity.
// SpriteID encodes both the sprite and its current animation state
// ("player_idle", "player_charge", "player_punch", "fist_left", ...) so
// renderers can stay dumb lookups instead of reasoning about components.
type Renderable struct {
	X, Y     float64
	SpriteID string
	Color    uint32
}

// gravityAccel and moveSpeed are the platformer's tuning constants, in
// world units per tick (60 ticks/s).
const (
	gravityAccel  = 0.6
	moveSpeed     = 3.0
	jumpVelocity  = -10.0
	terminalFall  = 14.0
)

// World holds all game state, driven entirely by deterministic Update
// calls (spec: the reference game's Simulation.Next is World.Update).
type World struct {
	ecsWorld ecs.World
	Tick     uint64

	tileMap *collision.TileMap

	playerMap    ecs.Map8[Position, Velocity, Collider, Sprite, Player, Health, Gravity, Grounded]
	attackMap    ecs.Map1[AttackState]
	playerLookup ecs.Map1[Player] // single-component view of playerMap's entities, for per-entity Get
	enemyMap     ecs.Map7[Position, Velocity, Collider, Sprite, Health, Gravity, Grounded]
	fistMap      ecs.Map3[Position, Velocity, Fist]
	networkMap   ecs.Map3[Position, Velocity, Grounded] // anonymous entities materialized from a remote snapshot

	// Single-component views, for writing one entity's component by ID
	// when applying a remote snapshot (ApplyNetworkSnapshot) instead of
	// walking a multi-component filter to find it by equality.
	posLookup      ecs.Map1[Position]
	velLookup      ecs.Map1[Velocity]
	groundedLookup ecs.Map1[Grounded]

	physicsFilter ecs.Filter4[Position, Velocity, Collider, Grounded]
	playerFilter  ecs.Filter2[Position, Player]
	attackFilter  ecs.Filter6[Position, Velocity, Collider, AttackState, Player, Grounded]
	fistFilter    ecs.Filter3[Position, Velocity, Fist]
	spriteFilter  ecs.Filter2[Position, Sprite]

	intents map[int]protocol.Intent

	// netEntities maps a remote peer's protocol.EntityID to the local
	// entity ApplyNetworkSnapshot materialized for it, so later snapshots
	// update the same local entity instead of spawning a duplicate.
	netEntities map[protocol.EntityID]ecs.Entity
}

// NewWorld creates a new, empty game world with a 1x1 placeholder tile map.
// Call SetTileMap before spawning entities that need real collision bounds.
func NewWorld() *World {
	w := &World{
		ecsWorld: ecs.NewWorld(),
		tileMap:  collision.NewTileMap(1, 1),
		intents:  make(map[int]protocol.Intent),
	}

	w.playerMap = ecs.NewMap8[Position, Velocity, Collider, Sprite, Player, Health, Gravity, Grounded](&w.ecsWorld)
	w.attackMap = ecs.NewMap1[AttackState](&w.ecsWorld)
	w.playerLookup = ecs.NewMap1[Player](&w.ecsWorld)
	w.enemyMap = ecs.NewMap7[Position, Velocity, Collider, Sprite, Health, Gravity, Grounded](&w.ecsWorld)
	w.fistMap = ecs.NewMap3[Position, Velocity, Fist](&w.ecsWorld)
	w.networkMap = ecs.NewMap3[Position, Velocity, Grounded](&w.ecsWorld)

	w.posLookup = ecs.NewMap1[Position](&w.ecsWorld)
	w.velLookup = ecs.NewMap1[Velocity](&w.ecsWorld)
	w.groundedLookup = ecs.NewMap1[Grounded](&w.ecsWorld)

	w.netEntities = make(map[protocol.EntityID]ecs.Entity)

	w.physicsFilter = ecs.NewFilter4[Position, Velocity, Collider, Grounded](&w.ecsWorld)
	w.playerFilter = ecs.NewFilter2[Position, Player](&w.ecsWorld)
	w.attackFilter = ecs.NewFilter6[Position, Velocity, Collider, AttackState, Player, Grounded](&w.ecsWorld)
	w.fistFilter = ecs.NewFilter3[Position, Velocity, Fist](&w.ecsWorld)
	w.spriteFilter = ecs.NewFilter2[Position, Sprite](&w.ecsWorld)

	return w
}

// SetTileMap installs the level's collision geometry.
func (w *World) SetTileMap(tm *collision.TileMap) {
	w.tileMap = tm
}

// SetPlayerIntent records playerID's held input for every subsequent tick
// until the next call; it does not auto-clear after one Update (the caller
// drives that, per spec: the transport layer resends the latest intent
// every tick it has one).
func (w *World) SetPlayerIntent(playerID int, intents protocol.Intent) {
	w.intents[playerID] = intents
}

// SpawnPlayer creates a player-controlled entity with physics, an attack
// state, and a sprite.
func (w *World) SpawnPlayer(id int, name string, x, y float64) {
	entity := w.playerMap.NewEntity(
		&Position{X: x, Y: y},
		&Velocity{},
		&Collider{Width: 1, Height: 1.8},
		&Sprite{ID: "player_idle"},
		&Player{ID: id, Name: name},
		&Health{Current: 100, Max: 100},
		&Gravity{Scale: 1},
		&Grounded{},
	)
	w.attackMap.Add(entity, &AttackState{FacingRight: true})
}

// SpawnEnemy creates an enemy entity of the given type.
func (w *World) SpawnEnemy(enemyType string, x, y float64) {
	health := 20
	if enemyType == "bat" {
		health = 10
	}
	w.enemyMap.NewEntity(
		&Position{X: x, Y: y},
		&Velocity{},
		&Collider{Width: 1, Height: 1},
		&Sprite{ID: enemyType},
		&Health{Current: health, Max: health},
		&Gravity{Scale: 1},
		&Grounded{},
	)
}

// Update advances the world by exactly one deterministic tick: input,
// physics, attacks, collision resolution, projectile cleanup.
func (w *World) Update() {
	w.Tick++

	w.runPhysicsSystem()
	w.runAttackSystem()
	w.runFistSystem()
}

// runPhysicsSystem applies held movement/jump intents, gravity, and
// resolves each entity's motion against the tile map.
func (w *World) runPhysicsSystem() {
	physicsQuery := w.physicsFilter.Query()
	for physicsQuery.Next() {
		entity := physicsQuery.Entity()
		pos, vel, collider, grounded := physicsQuery.Get()

		w.applyIntent(entity, vel, grounded)

		vel.Y += gravityAccel
		if vel.Y > terminalFall {
			vel.Y = terminalFall
		}

		w.moveAndCollide(pos, vel, collider, grounded)
	}
	physicsQuery.Close()
}

// applyIntent looks up the held intent for a player entity (no-op for
// non-player entities) and sets horizontal/vertical velocity accordingly.
func (w *World) applyIntent(entity ecs.Entity, vel *Velocity, grounded *Grounded) {
	player, ok := w.playerLookup.Get(entity)
	if !ok {
		return
	}
	intent := w.intents[player.ID]

	vel.X = 0
	if intent&protocol.IntentLeft != 0 {
		vel.X -= moveSpeed
	}
	if intent&protocol.IntentRight != 0 {
		vel.X += moveSpeed
	}
	if intent&protocol.IntentJump != 0 && grounded.OnGround {
		vel.Y = jumpVelocity
	}
}

// moveAndCollide integrates position by velocity and resolves overlap
// against the tile map one axis at a time (spec: tile-based collision per
// internal/collision).
func (w *World) moveAndCollide(pos *Position, vel *Velocity, collider *Collider, grounded *Grounded) {
	grounded.OnGround = false

	pos.X += vel.X
	if w.collidesAt(pos.X, pos.Y, collider) {
		pos.X -= vel.X
		vel.X = 0
	}

	pos.Y += vel.Y
	if w.collidesAt(pos.X, pos.Y, collider) {
		if vel.Y > 0 {
			grounded.OnGround = true
		}
		pos.Y -= vel.Y
		vel.Y = 0
	}
}

// collidesAt reports whether the collider's AABB at (x, y) overlaps a
// solid tile.
func (w *World) collidesAt(x, y float64, collider *Collider) bool {
	box := collision.NewAABB(x+collider.OffsetX, y+collider.OffsetY, collider.Width, collider.Height)

	minX := int(box.X)
	maxX := int(box.X + box.Width)
	minY := int(box.Y)
	maxY := int(box.Y + box.Height)

	for ty := minY; ty <= maxY; ty++ {
		for tx := minX; tx <= maxX; tx++ {
			if w.tileMap.IsSolid(tx, ty) {
				tile := collision.NewAABB(float64(tx), float64(ty), 1, 1)
				if box.Overlaps(tile) {
					return true
				}
			}
		}
	}
	return false
}

// runAttackSystem drives the charge-release punch state machine for every
// attack-capable entity: cooldown countdown, charge accumulation, and
// firing a Fist on release.
func (w *World) runAttackSystem() {
	query := w.attackFilter.Query()
	for query.Next() {
		pos, vel, _, attack, player, _ := query.Get()
		intent := w.intents[player.ID]
		held := intent&protocol.IntentAttack != 0

		if vel.X > 0 {
			attack.FacingRight = true
		} else if vel.X < 0 {
			attack.FacingRight = false
		}

		if attack.Attacking {
			attack.TicksLeft--
			if attack.TicksLeft <= 0 {
				attack.Attacking = false
			}
			continue
		}

		switch {
		case held && !attack.Charging:
			attack.Charging = true
			attack.ChargeTicks = 0
		case held && attack.Charging:
			if attack.ChargeTicks < MaxChargeTicks {
				attack.ChargeTicks++
			}
		case !held && attack.Charging:
			w.fireFist(pos, player.ID, attack)
			attack.Charging = false
			attack.ChargeTicks = 0
			attack.Attacking = true
			attack.TicksLeft = AttackCooldown
		}
	}
	query.Close()
}

// fireFist spawns a Fist projectile at pos, traveling in the direction the
// attacker is facing, with a distance proportional to how long the punch
// was charged.
func (w *World) fireFist(pos *Position, owner int, attack *AttackState) {
	distance := MinFistDistance + float64(attack.ChargeTicks)*ChargeDistancePerTick

	speed := FistSpeed
	if !attack.FacingRight {
		speed = -speed
	}

	w.fistMap.NewEntity(
		&Position{X: pos.X, Y: pos.Y},
		&Velocity{X: speed},
		&Fist{Owner: owner, MaxDistance: distance, FacingRight: attack.FacingRight},
	)
}

// runFistSystem advances every in-flight Fist and despawns it once it has
// traveled its maximum distance.
func (w *World) runFistSystem() {
	var spent []ecs.Entity

	query := w.fistFilter.Query()
	for query.Next() {
		entity := query.Entity()
		pos, vel, fist := query.Get()

		pos.X += vel.X
		fist.Traveled += abs(vel.X)

		if fist.Traveled >= fist.MaxDistance {
			spent = append(spent, entity)
		}
	}
	query.Close()

	for _, e := range spent {
		w.ecsWorld.RemoveEntity(e)
	}
}

// GetPlayerPosition returns the position of the first player entity found,
// for single-player render/debug harnesses.
func (w *World) GetPlayerPosition() (x, y float64, ok bool) {
	query := w.playerFilter.Query()
	defer query.Close()
	for query.Next() {
		pos, _ := query.Get()
		return pos.X, pos.Y, true
	}
	return 0, 0, false
}

// GetRenderables flattens every drawable entity into a renderer-facing
// view, folding attack/charge state into the sprite ID for players and
// giving fists a directional sprite.
func (w *World) GetRenderables() []Renderable {
	var out []Renderable

	spriteQuery := w.spriteFilter.Query()
	for spriteQuery.Next() {
		entity := spriteQuery.Entity()
		pos, sprite := spriteQuery.Get()

		id := sprite.ID
		if attack, ok := w.attackMap.Get(entity); ok {
			switch {
			case attack.Attacking:
				id = "player_punch"
			case attack.Charging:
				id = "player_charge"
			default:
				id = "player_idle"
			}
		}
		out = append(out, Renderable{X: pos.X, Y: pos.Y, SpriteID: id, Color: sprite.Color})
	}
	spriteQuery.Close()

	fistQuery := w.fistFilter.Query()
	for fistQuery.Next() {
		pos, _, fist := fistQuery.Get()
		id := "fist_left"
		if fist.FacingRight {
			id = "fist_right"
		}
		out = append(out, Renderable{X: pos.X, Y: pos.Y, SpriteID: id})
	}
	fistQuery.Close()

	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ApplyNetworkSnapshot folds a protocol.StateSnapshot received from a
// remote peer into this World's live ECS state: the first time a
// protocol.EntityID is seen, a local entity is materialized for it (a full
// player entity if the remote component blob carries Player, otherwise a
// bare physics entity); every later snapshot just overwrites that same
// local entity's components. This is this World's counterpart to
// Restore, which only works within a single World's own Snapshot/Restore
// round trip since ecs.Entity handles aren't meaningful across two
// different World instances (see entityComponents in deterministic.go).
func (w *World) ApplyNetworkSnapshot(snap protocol.StateSnapshot) (WorldState, error) {
	for _, pe := range snap.Entities {
		ec, err := decodeEntityComponents(pe.Components)
		if err != nil {
			return WorldState{}, err
		}

		entity, known := w.netEntities[pe.ID]
		if !known {
			entity = w.spawnNetworkEntity(ec)
			w.netEntities[pe.ID] = entity
		}
		w.writeNetworkComponents(entity, ec)
	}

	for _, id := range snap.Removed {
		if entity, ok := w.netEntities[id]; ok {
			w.ecsWorld.RemoveEntity(entity)
			delete(w.netEntities, id)
		}
	}

	w.Tick = snap.Tick
	return w.Snapshot(), nil
}

func (w *World) spawnNetworkEntity(ec entityComponents) ecs.Entity {
	if ec.HasPlayer {
		entity := w.playerMap.NewEntity(
			&Position{X: ec.Position.X, Y: ec.Position.Y},
			&Velocity{X: ec.Velocity.X, Y: ec.Velocity.Y},
			&Collider{Width: 1, Height: 1.8},
			&Sprite{ID: "player_idle"},
			&Player{ID: ec.Player.ID, Name: ec.Player.Name},
			&Health{Current: 100, Max: 100},
			&Gravity{Scale: 1},
			&Grounded{OnGround: ec.Grounded.OnGround},
		)
		if ec.HasAttack {
			w.attackMap.Add(entity, &AttackState{FacingRight: ec.Attack.FacingRight})
		}
		return entity
	}
	return w.networkMap.NewEntity(
		&Position{X: ec.Position.X, Y: ec.Position.Y},
		&Velocity{X: ec.Velocity.X, Y: ec.Velocity.Y},
		&Grounded{OnGround: ec.Grounded.OnGround},
	)
}

func (w *World) writeNetworkComponents(entity ecs.Entity, ec entityComponents) {
	if pos, ok := w.posLookup.Get(entity); ok {
		*pos = ec.Position
	}
	if vel, ok := w.velLookup.Get(entity); ok {
		*vel = ec.Velocity
	}
	if grounded, ok := w.groundedLookup.Get(entity); ok {
		*grounded = ec.Grounded
	}
	if ec.HasAttack {
		if attack, ok := w.attackMap.Get(entity); ok {
			*attack = ec.Attack
		}
	}
}
