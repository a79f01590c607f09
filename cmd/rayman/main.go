// Command rayman is the terminal game client.
// Embeds a server for local/singleplayer mode, or dials a rayserver for
// multiplayer.
package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andersfylling/lockstep-arena/internal/client"
	"github.com/andersfylling/lockstep-arena/internal/game"
	"github.com/andersfylling/lockstep-arena/internal/protocol"
	"github.com/andersfylling/lockstep-arena/internal/render"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

// Version is set at build time
var Version = "dev"

// frameInterval paces the render/input loop independently of the
// simulation's own tick rate.
const frameInterval = time.Second / 30

// keyHoldTimeout is how long a key keeps counting as held after its last
// observed press. Terminals rarely deliver key-release events, so "held"
// is approximated from the OS's key-repeat cadence instead; this needs to
// clear the typical gap before that repeat kicks in.
const keyHoldTimeout = 400 * time.Millisecond

func main() {
	serverAddr := flag.String("server", "", "remote server address (empty runs an embedded server)")
	name := flag.String("name", "player", "player name")
	renderFlag := flag.String("render", "auto", "render mode: auto, ascii, halfblock, braille")
	tickRate := flag.Int("tick-rate", 60, "embedded server ticks per second (ignored in remote mode)")
	graceFrames := flag.Uint("grace-frames", 2, "ticks the manager waits for a late input before defaulting it")
	mapWidth := flag.Int("map-width", 60, "embedded demo level width in tiles")
	mapHeight := flag.Int("map-height", 24, "embedded demo level height in tiles")
	flag.Parse()

	logrus.WithField("version", Version).Info("rayman: starting")

	renderModeName, renderMode := parseRenderMode(*renderFlag)

	cfg := client.DefaultConfig()
	cfg.ServerAddr = *serverAddr
	cfg.PlayerName = *name
	cfg.RenderMode = renderModeName
	cfg.TickRate = *tickRate
	cfg.GraceFrames = timeval.FrameIndex(*graceFrames)

	c := client.New(cfg)
	if err := c.Connect(); err != nil {
		logrus.WithError(err).Fatal("rayman: connect failed")
	}
	defer c.Disconnect()

	if cfg.ServerAddr == "" {
		if world := c.World(); world != nil {
			tileMap := game.DemoLevelForViewport(*mapWidth, *mapHeight)
			world.SetTileMap(tileMap)
			world.SpawnEnemy("slime", 15, float64(*mapHeight-6))
		}
	}

	renderer := render.SelectRenderer(render.Detect(), renderMode)
	if err := renderer.Init(); err != nil {
		logrus.WithError(err).Fatal("rayman: renderer init failed")
	}
	defer renderer.Close()

	runLoop(c, renderer)
}

func runLoop(c *client.Client, renderer render.GameRenderer) {
	tracker := newHeldTracker()
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for range ticker.C {
		quit := false
		for {
			ev, ok := renderer.PollInput()
			if !ok {
				break
			}
			switch ev.Type {
			case render.InputQuit:
				quit = true
			case render.InputKey:
				tracker.mark(ev.Intent, time.Now())
			}
		}
		if quit {
			return
		}

		c.Input().SetIntent(tracker.resolve(time.Now()))

		renderer.BeginFrame()
		if world := c.World(); world != nil {
			vw, vh := renderer.ViewportSize()
			px, py, _ := world.GetPlayerPosition()
			camera := render.Camera{X: px, Y: py, Width: vw, Height: vh}
			renderer.RenderWorld(world, camera)
		}
		if hud, ok := renderer.(interface{ DrawHUD(string) }); ok {
			hud.DrawHUD(fmt.Sprintf("Tick: %d | WASD: Move | J: Attack | K: Use | Q/Esc: Quit", c.Tick()))
		}
		renderer.EndFrame()
	}
}

func parseRenderMode(s string) (client.RenderMode, render.Mode) {
	switch strings.ToLower(s) {
	case "ascii":
		return client.RenderASCII, render.ModeASCII
	case "halfblock", "half-block":
		return client.RenderHalfBlock, render.ModeHalfBlock
	case "braille":
		return client.RenderBraille, render.ModeBraille
	default:
		return client.RenderAuto, render.ModeAuto
	}
}

// heldTracker approximates "currently held" from terminal key-repeat
// timing, independently per intent bit since different keys repeat on
// independent timers once several are held together.
type heldTracker struct {
	lastSeen map[protocol.Intent]time.Time
}

func newHeldTracker() *heldTracker {
	return &heldTracker{lastSeen: make(map[protocol.Intent]time.Time)}
}

var trackedIntentBits = []protocol.Intent{
	protocol.IntentLeft,
	protocol.IntentRight,
	protocol.IntentJump,
	protocol.IntentAttack,
	protocol.IntentUse,
}

func (t *heldTracker) mark(intent protocol.Intent, now time.Time) {
	for _, bit := range trackedIntentBits {
		if intent&bit != 0 {
			t.lastSeen[bit] = now
		}
	}
}

func (t *heldTracker) resolve(now time.Time) protocol.Intent {
	var held protocol.Intent
	for bit, seen := range t.lastSeen {
		if now.Sub(seen) <= keyHoldTimeout {
			held |= bit
		}
	}
	return held
}
