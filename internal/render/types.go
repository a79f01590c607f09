package render

import (
	"github.com/andersfylling/lockstep-arena/internal/game"
	"github.com/andersfylling/lockstep-arena/internal/protocol"
)

// Color is an RGB color, resolved to the nearest terminal color by each
// backend (TcellRenderer hands it straight to tcell.NewRGBColor).
type Color struct {
	R, G, B uint8
}

var (
	ColorBlack  = Color{0, 0, 0}
	ColorWhite  = Color{255, 255, 255}
	ColorRed    = Color{220, 50, 50}
	ColorGreen  = Color{80, 200, 80}
	ColorYellow = Color{220, 200, 60}
	ColorBlue   = Color{80, 120, 220}
)

// InputType categorizes a PollInput result.
type InputType int

const (
	InputNone InputType = iota
	InputKey
	InputQuit
	InputResize
)

// InputEvent is a renderer-translated terminal event: a bound key maps to
// an Intent bit (spec's player input), independent of whether the backend
// is tcell, ASCII, half-block, or braille.
type InputEvent struct {
	Type   InputType
	Intent protocol.Intent
	Quit   bool
}

// GameRenderer is the backend-independent surface Client.Run's caller
// drives a frame loop against; TcellRenderer implements it today, with
// ASCIIRenderer/HalfBlockRenderer/BrailleRenderer as lower-level cell
// backends TcellRenderer's SpriteAtlas-based path does not currently
// delegate to.
type GameRenderer interface {
	Init() error
	Close()
	BeginFrame()
	EndFrame()
	ViewportSize() (float64, float64)
	RenderWorld(world *game.World, camera Camera)
	RenderText(x, y float64, text string, color Color)
	PollInput() (InputEvent, bool)
}

// TileRenderer is implemented by backends that can render a static tile
// map underneath the entity layer.
type TileRenderer interface {
	RenderTileMap(tiles [][]rune, camera Camera)
}

// Sprite is one glyph+colors pair a SpriteAtlas resolves a SpriteID to.
type Sprite struct {
	Char rune
	FG   Color
	BG   Color
}

// SpriteAtlas maps a game.Renderable's SpriteID to a glyph+colors pair, with
// a fallback for unmapped IDs so a renderer never draws nothing for a new
// animation state.
type SpriteAtlas struct {
	sprites  map[string]Sprite
	fallback Sprite
}

// Get looks up id, falling back to a generic glyph if the atlas has no
// entry for it (a renderer should never refuse to draw an entity just
// because its animation state is new).
func (a *SpriteAtlas) Get(id string) Sprite {
	if sprite, ok := a.sprites[id]; ok {
		return sprite
	}
	return a.fallback
}

// DefaultASCIIAtlas maps the reference game's SpriteIDs to plain ASCII
// glyphs, for terminals without reliable unicode/color support.
func DefaultASCIIAtlas() *SpriteAtlas {
	return &SpriteAtlas{
		sprites: map[string]Sprite{
			"player_idle":   {Char: '@', FG: ColorWhite, BG: ColorBlack},
			"player_charge": {Char: '@', FG: ColorYellow, BG: ColorBlack},
			"player_punch":  {Char: '&', FG: ColorRed, BG: ColorBlack},
			"fist_left":     {Char: '-', FG: ColorRed, BG: ColorBlack},
			"fist_right":    {Char: '-', FG: ColorRed, BG: ColorBlack},
		},
		fallback: Sprite{Char: '?', FG: ColorWhite, BG: ColorBlack},
	}
}

// DefaultHalfBlockAtlas is DefaultASCIIAtlas's truecolor counterpart; the
// glyphs stay the same (TcellRenderer sets cell colors independently of
// the character), only the colors lean on the wider palette half-block
// mode assumes is available.
func DefaultHalfBlockAtlas() *SpriteAtlas {
	return &SpriteAtlas{
		sprites: map[string]Sprite{
			"player_idle":   {Char: '@', FG: Color{240, 240, 240}, BG: ColorBlack},
			"player_charge": {Char: '@', FG: Color{255, 210, 60}, BG: ColorBlack},
			"player_punch":  {Char: '&', FG: Color{230, 60, 60}, BG: ColorBlack},
			"fist_left":     {Char: '-', FG: Color{230, 60, 60}, BG: ColorBlack},
			"fist_right":    {Char: '-', FG: Color{230, 60, 60}, BG: ColorBlack},
		},
		fallback: Sprite{Char: '?', FG: ColorWhite, BG: ColorBlack},
	}
}
