// Package client implements the game client.
// Handles rendering, input capture, and network communication.
package client

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andersfylling/lockstep-arena/internal/fragment"
	"github.com/andersfylling/lockstep-arena/internal/game"
	"github.com/andersfylling/lockstep-arena/internal/gametimer"
	"github.com/andersfylling/lockstep-arena/internal/input"
	"github.com/andersfylling/lockstep-arena/internal/manager"
	"github.com/andersfylling/lockstep-arena/internal/protocol"
	"github.com/andersfylling/lockstep-arena/internal/renderreceiver"
	"github.com/andersfylling/lockstep-arena/internal/server"
	gsync "github.com/andersfylling/lockstep-arena/internal/sync"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
	"github.com/andersfylling/lockstep-arena/internal/transport"
)

const (
	tcpHandshakeTimeout = 5 * time.Second
	pingPeriod          = time.Second // matches gametimer.DefaultConfig's PingPeriod
	maxTCPPayload       = 1 << 20
	maxUDPPayload       = 2048

	// udpFragmentMTU matches internal/server's outgoing chunk size.
	udpFragmentMTU     = 1200
	fragmentStaleAfter = 2 * time.Second
	fragmentPrunePeriod = time.Second
)

var (
	errHandshakeTimeout = errors.New("client: handshake timed out")
	errUnexpectedReply  = errors.New("client: unexpected reply to handshake")
)

// RenderMode specifies the terminal rendering approach
type RenderMode int

const (
	RenderAuto      RenderMode = iota // Auto-detect best mode
	RenderASCII                       // Plain ASCII
	RenderHalfBlock                   // Half-block with color
	RenderBraille                     // Braille patterns
)

// Config holds client configuration
type Config struct {
	ServerAddr string // Empty for local/embedded server
	PlayerName string
	RenderMode RenderMode

	TickRate    int // embedded-mode only; remote mode learns its tick rate from InitialInformation
	GraceFrames timeval.FrameIndex
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PlayerName:  "player",
		RenderMode:  RenderAuto,
		TickRate:    60,
		GraceFrames: 2,
	}
}

func (c Config) frameDuration() timeval.FrameDuration {
	rate := c.TickRate
	if rate <= 0 {
		rate = 60
	}
	return timeval.NewFrameDuration(timeval.FromDuration(time.Second / time.Duration(rate)))
}

// Client is the game client: in embedded mode (Config.ServerAddr == "") it
// runs its own authoritative server.Server against a shared *game.World; in
// remote mode it dials one, owns its own predicting
// manager.Manager/gametimer.GameTimer pair, and reconciles against the
// server's periodic state broadcasts.
type Client struct {
	config Config
	mu     sync.RWMutex
	clock  timeval.Clock

	world *game.World
	sim   *game.Simulation
	mgr   *manager.Manager[protocol.Intent, game.ServerInput, game.WorldState]
	timer *gametimer.GameTimer

	inputHandler *input.Handler
	predictions  *PredictionBuffer
	reconciler   *Reconciler

	// dialTCP/listenUDP/resolveServerUDP default to the real (net-backed)
	// transport adapters; tests override them to dial the simulated
	// transport instead.
	dialTCP          func(addr string) (transport.TCPStream, error)
	listenUDP        func(addr string) (transport.UDPSocket, error)
	resolveServerUDP func(serverAddr string) (net.Addr, error)

	// receiver is fed every published step (both modes) plus, in remote
	// mode, every GameTimer tick; a renderer wanting smoothed motion reads
	// GetLatestFrame from it instead of World() directly. Embedded mode has
	// no network jitter to smooth over, so it never feeds it a TimeMessage
	// and a renderer there is expected to just read World() instead.
	receiver *renderreceiver.Receiver[game.WorldState]

	playerIndex uint32
	playerCount int
	playerID    int

	embedded  *server.Server // non-nil in embedded mode
	sessionID int

	conn           transport.TCPStream // non-nil in remote mode
	udp            transport.UDPSocket
	serverUDPAddr  net.Addr
	remoteEntities map[protocol.EntityID]protocol.EntityState

	fragmenter *fragment.Fragmenter
	assembler  *fragment.Assembler

	connected bool
	quitCh    chan struct{}
	doneCh    chan struct{}

	// onState is called with every locally published step, in both modes,
	// so a renderer/caller has one hook regardless of which mode is live.
	onState func(state game.WorldState)
}

// New creates a new client with the given config.
func New(cfg Config) *Client {
	return &Client{
		config:           cfg,
		clock:            timeval.RealClock{},
		inputHandler:     input.NewHandler(),
		predictions:      NewPredictionBuffer(256),
		receiver:         renderreceiver.New[game.WorldState](game.Interpolate),
		dialTCP:          transport.DialTCP,
		listenUDP:        transport.ListenUDP,
		resolveServerUDP: resolveServerUDPAddr,
		quitCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// resolveServerUDPAddr is the default resolveServerUDP: per
// server.Config.udpPort()'s convention, the server's real-time socket is
// the TCP control port's host with port+1.
func resolveServerUDPAddr(serverAddr string) (net.Addr, error) {
	host, portStr, err := net.SplitHostPort(serverAddr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port+1)))
}

// RenderReceiver returns the interpolated-frame source a renderer should
// prefer in remote mode, for smoothing over network jitter between state
// broadcasts. In embedded mode it only ever holds raw published steps
// (there is no jitter to smooth, so nothing feeds it a TimeMessage);
// read World() directly there instead.
func (c *Client) RenderReceiver() *renderreceiver.Receiver[game.WorldState] {
	return c.receiver
}

// World returns the client's live game world, for a renderer to read
// GetRenderables/GetPlayerPosition from directly.
func (c *Client) World() *game.World {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.world
}

// Input returns the key-to-intent handler a terminal frontend feeds key
// events into.
func (c *Client) Input() *input.Handler {
	return c.inputHandler
}

// SetStateUpdateCallback installs a hook called with every locally
// published step.
func (c *Client) SetStateUpdateCallback(cb func(state game.WorldState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = cb
}

// PlayerID returns this client's reference-game player ID.
func (c *Client) PlayerID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID
}

// IsConnected reports whether Connect has completed successfully and
// Disconnect has not yet been called.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Tick returns the most recently resolved frame index.
func (c *Client) Tick() uint64 {
	c.mu.RLock()
	mgr := c.mgr
	embedded := c.embedded
	c.mu.RUnlock()
	if mgr != nil {
		return uint64(mgr.NewestIndex())
	}
	if embedded != nil {
		return embedded.Tick()
	}
	return 0
}

// Connect starts the embedded server (ServerAddr == "") or dials a remote
// one, completing the handshake before returning.
func (c *Client) Connect() error {
	if c.config.ServerAddr == "" {
		return c.connectEmbedded()
	}
	return c.connectRemote()
}

// Run connects if needed and blocks until Disconnect is called or the
// connection drops; rendering and input capture are driven by the caller
// (internal/render) reading World()/Input() concurrently.
func (c *Client) Run() error {
	if !c.IsConnected() {
		if err := c.Connect(); err != nil {
			return err
		}
	}
	<-c.doneCh
	return nil
}

// Disconnect closes the connection (remote mode) or stops the embedded
// server (embedded mode).
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	conn := c.conn
	udp := c.udp
	embedded := c.embedded
	c.mu.Unlock()

	close(c.quitCh)
	<-c.doneCh

	if conn != nil {
		out := protocol.EncodeEnvelope(protocol.MsgDisconnect, nil)
		_ = conn.WriteRecord(out)
		_ = conn.Close()
	}
	if udp != nil {
		_ = udp.Close()
	}
	if embedded != nil {
		embedded.Stop()
	}
}

// connectEmbedded spins up a local authoritative server.Server sharing
// this client's *game.World, so single-player/local-host play runs through
// the exact same Manager/Simulation pipeline as a networked game.
func (c *Client) connectEmbedded() error {
	world := game.NewWorld()
	playerID := 1

	cfg := server.DefaultConfig()
	cfg.TickRate = c.config.TickRate
	cfg.SyncRate = c.config.TickRate
	cfg.MaxPlayers = 1
	cfg.GraceFrames = c.config.GraceFrames

	srv := server.New(cfg)
	srv.SetWorld(world)
	srv.SetStateUpdateCallback(c.onStep)

	world.SpawnPlayer(playerID, c.config.PlayerName, 5, 5)
	session := srv.AddSession(1, playerID, c.config.PlayerName)

	if err := srv.Start(); err != nil {
		return err
	}

	c.mu.Lock()
	c.world = world
	c.embedded = srv
	c.sessionID = session.ID
	c.playerIndex = session.Index
	c.playerID = playerID
	c.playerCount = 1
	c.connected = true
	c.mu.Unlock()

	go c.runEmbeddedInputLoop()
	return nil
}

// runEmbeddedInputLoop samples the local input handler every tick and
// feeds it straight into the embedded server's Manager (embedded mode has
// no network hop, so there is nothing to predict or reconcile).
func (c *Client) runEmbeddedInputLoop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.frameDuration().Duration().StdDuration())
	defer ticker.Stop()

	for {
		select {
		case <-c.quitCh:
			return
		case <-ticker.C:
			intent := c.inputHandler.State()
			tick := c.embedded.Tick() + 1
			c.embedded.QueueInput(c.sessionID, protocol.InputFrame{Tick: tick, Intents: intent})
		}
	}
}

// connectRemote dials the server, performs the handshake, and builds this
// client's own predicting Manager/GameTimer pair from the returned
// InitialInformation.
func (c *Client) connectRemote() error {
	conn, err := c.dialTCP(c.config.ServerAddr)
	if err != nil {
		return err
	}

	hs := protocol.Handshake{Version: protocol.ProtocolVersion, PlayerName: c.config.PlayerName}
	out := protocol.EncodeEnvelope(protocol.MsgHandshake, protocol.EncodeHandshake(hs))
	if err := conn.WriteRecord(out); err != nil {
		_ = conn.Close()
		return err
	}

	payload, ok := waitForRecord(conn, maxTCPPayload, tcpHandshakeTimeout, c.quitCh)
	if !ok {
		_ = conn.Close()
		return errHandshakeTimeout
	}
	msgType, body, err := protocol.DecodeEnvelope(payload)
	if err != nil || msgType != protocol.MsgInitialInformation {
		_ = conn.Close()
		return errUnexpectedReply
	}
	info, err := protocol.DecodeInitialInformation(body)
	if err != nil {
		_ = conn.Close()
		return err
	}

	snap, err := protocol.DecodeStateSnapshot(info.InitialState)
	if err != nil {
		_ = conn.Close()
		return err
	}

	udpAddr, err := c.dialServerUDP()
	if err != nil {
		_ = conn.Close()
		return err
	}

	world := game.NewWorld()
	remoteEntities := make(map[protocol.EntityID]protocol.EntityState)
	gsync.Apply(remoteEntities, &snap)
	initialState, err := world.ApplyNetworkSnapshot(snap)
	if err != nil {
		_ = conn.Close()
		return err
	}

	playerIDs := make([]int, 0, info.PlayerCount)
	for i := 0; i < info.PlayerCount; i++ {
		playerIDs = append(playerIDs, i+1)
	}

	startTime := timeval.NewStartTime(timeval.FromTime(time.Unix(0, info.StartTimeUnixNano)))
	frameDuration := timeval.NewFrameDuration(timeval.FromDuration(time.Duration(info.FrameDurationNano)))

	gtCfg := gametimer.DefaultConfig(frameDuration)
	timer := gametimer.NewClient(startTime, info.PlayerIndex, gtCfg)

	sim := game.NewSimulation(world, playerIDs)
	mgrCfg := manager.Config[protocol.Intent, game.ServerInput]{
		GraceFrames:        c.config.GraceFrames,
		DefaultInput:       protocol.IntentNone,
		DefaultServerInput: game.ServerInput{},
	}
	mgr := manager.New[protocol.Intent, game.ServerInput, game.WorldState](sim, manager.PublisherFunc[game.WorldState](c.publish), mgrCfg)

	c.mu.Lock()
	c.conn = conn
	c.serverUDPAddr = udpAddr
	c.world = world
	c.sim = sim
	c.mgr = mgr
	c.timer = timer
	c.remoteEntities = remoteEntities
	c.playerIndex = info.PlayerIndex
	c.playerCount = info.PlayerCount
	c.playerID = int(info.PlayerIndex) + 1
	c.reconciler = NewReconciler(c.predictions)
	c.fragmenter = fragment.NewFragmenter(udpFragmentMTU)
	c.assembler = fragment.NewAssembler(c.clock, timeval.Millis(fragmentStaleAfter.Milliseconds()))
	c.connected = true
	c.mu.Unlock()

	mgr.InitialInformation(info.PlayerCount, startTime, frameDuration, initialState)

	go c.runTickLoop(frameDuration)
	go c.runTCPReadLoop()
	go c.runUDPReadLoop()
	go c.runPingLoop()
	go c.runFragmentPruneLoop()

	logrus.WithFields(logrus.Fields{"server": c.config.ServerAddr, "player_index": info.PlayerIndex}).Info("client: connected")
	return nil
}

// dialServerUDP opens this client's real-time socket and resolves the
// server's UDP endpoint, which per server.Config.udpPort() convention is
// the TCP control port's host with port+1.
func (c *Client) dialServerUDP() (net.Addr, error) {
	udpAddr, err := c.resolveServerUDP(c.config.ServerAddr)
	if err != nil {
		return nil, err
	}
	sock, err := c.listenUDP(":0")
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.udp = sock
	c.mu.Unlock()
	return udpAddr, nil
}

func (c *Client) runTickLoop(frameDuration timeval.FrameDuration) {
	defer close(c.doneCh)

	ticker := time.NewTicker(frameDuration.Duration().StdDuration())
	defer ticker.Stop()

	for {
		select {
		case <-c.quitCh:
			return
		case <-ticker.C:
			c.processTick()
		}
	}
}

func (c *Client) processTick() {
	c.mu.RLock()
	timer := c.timer
	mgr := c.mgr
	playerIndex := c.playerIndex
	c.mu.RUnlock()

	now := c.clock.Now()
	msg := timer.OnTick(now, now)
	c.receiver.OnTick(msg)

	intent := c.inputHandler.State()
	frame := protocol.InputFrame{Tick: uint64(msg.Step), Intents: intent}
	c.predictions.RecordInput(frame)
	c.sendInput(frame)

	mgr.InputFromPlayer(msg.Step, playerIndex, intent)
	mgr.ClockTick(msg.Step)
}

func (c *Client) sendInput(frame protocol.InputFrame) {
	out := protocol.EncodeEnvelope(protocol.MsgInput, protocol.EncodeInputFrame(frame))
	c.sendUDP(out)
}

// sendUDP fragments payload and writes each piece to the server's UDP
// endpoint. Every UDP message goes through the fragmenter uniformly,
// including ones that fit in a single fragment, matching the server side
// (spec §4.4).
func (c *Client) sendUDP(payload []byte) {
	c.mu.RLock()
	udp := c.udp
	addr := c.serverUDPAddr
	fragmenter := c.fragmenter
	c.mu.RUnlock()
	if udp == nil || addr == nil || fragmenter == nil {
		return
	}
	for _, frag := range fragmenter.Split(payload) {
		if err := udp.WriteTo(frag.Encode(), addr); err != nil {
			logrus.WithError(err).Debug("client: udp write failed")
		}
	}
}

// runFragmentPruneLoop periodically discards reassemblies that never
// received their last fragment.
func (c *Client) runFragmentPruneLoop() {
	ticker := time.NewTicker(fragmentPrunePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.quitCh:
			return
		case <-ticker.C:
			c.mu.RLock()
			assembler := c.assembler
			c.mu.RUnlock()
			if assembler != nil {
				assembler.Prune()
			}
		}
	}
}

func (c *Client) runPingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.quitCh:
			return
		case <-ticker.C:
			c.sendPing()
		}
	}
}

func (c *Client) sendPing() {
	c.mu.RLock()
	timer := c.timer
	ready := c.udp != nil && c.serverUDPAddr != nil
	c.mu.RUnlock()
	if timer == nil || !ready {
		return
	}
	req := timer.BuildPingRequest(c.clock.Now())
	out := protocol.EncodeEnvelope(protocol.MsgPing, gametimer.EncodePingRequest(req))
	c.sendUDP(out)
}

func (c *Client) runTCPReadLoop() {
	for {
		select {
		case <-c.quitCh:
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		payload, ok, err := conn.TryReadRecord(maxTCPPayload)
		if err != nil {
			logrus.WithError(err).Warn("client: tcp read failed")
			return
		}
		if !ok {
			continue
		}
		c.handleTCPPayload(payload)
	}
}

// handleTCPPayload handles post-handshake traffic on the TCP control
// channel. Nothing currently flows here: StateSnapshot moved to UDP (spec
// §2, §4.6, §6) alongside Input, ServerInput, and pings, so the TCP
// connection's only remaining job after the handshake reply is carrying the
// client's own MsgDisconnect notice on the way out.
func (c *Client) handleTCPPayload(payload []byte) {
	msgType, _, err := protocol.DecodeEnvelope(payload)
	if err != nil {
		return
	}
	logrus.WithField("msg_type", msgType).Debug("client: unexpected TCP message")
}

// applyServerSnapshot merges an incoming (possibly delta) snapshot into
// this client's running copy of every known entity's last-sent
// components (internal/sync.Apply, the same merge the teacher's
// SnapshotBuffer/Baseline pairing already does on the decode side), then
// folds the resulting full state into the predicting Manager as an
// authoritative StateSnapshot so the rollback/resimulation window
// corrects itself instead of the client mutating its World directly.
func (c *Client) applyServerSnapshot(snap protocol.StateSnapshot) {
	c.mu.Lock()
	gsync.Apply(c.remoteEntities, &snap)
	merged := protocol.StateSnapshot{
		Tick:     snap.Tick,
		Full:     true,
		Entities: make([]protocol.EntityState, 0, len(c.remoteEntities)),
	}
	for _, es := range c.remoteEntities {
		merged.Entities = append(merged.Entities, es)
	}
	world := c.world
	mgr := c.mgr
	reconciler := c.reconciler
	c.mu.Unlock()

	state, err := world.ApplyNetworkSnapshot(merged)
	if err != nil {
		logrus.WithError(err).Warn("client: failed to apply state snapshot")
		return
	}

	if reconciler != nil {
		predicted := c.predictions.GetState(snap.Tick)
		result := reconciler.Reconcile(predicted, &state)
		if result.Mismatched {
			logrus.WithFields(logrus.Fields{"tick": result.ServerTick, "reason": result.MismatchReason}).Debug("client: prediction mismatch")
		}
	}

	mgr.StateSnapshot(timeval.FrameIndex(snap.Tick), state)
}

func (c *Client) runUDPReadLoop() {
	for {
		select {
		case <-c.quitCh:
			return
		default:
		}

		c.mu.RLock()
		udp := c.udp
		assembler := c.assembler
		c.mu.RUnlock()

		raw, from, ok, err := udp.TryReadFrom(maxUDPPayload)
		if err != nil {
			logrus.WithError(err).Warn("client: udp read failed")
			return
		}
		if !ok {
			continue
		}
		frag, err := fragment.Decode(raw)
		if err != nil {
			continue
		}
		payload, complete := assembler.Accept(from, frag)
		if !complete {
			continue
		}
		c.handleUDPPayload(payload)
	}
}

func (c *Client) handleUDPPayload(payload []byte) {
	msgType, body, err := protocol.DecodeEnvelope(payload)
	if err != nil {
		return
	}

	switch msgType {
	case protocol.MsgPong:
		resp, err := gametimer.DecodePingResponse(body)
		if err != nil {
			return
		}
		c.mu.RLock()
		timer := c.timer
		c.mu.RUnlock()
		if timer == nil {
			return
		}
		timer.HandlePingResponse(resp, c.clock.Now())

	case protocol.MsgState:
		snap, err := protocol.DecodeStateSnapshot(body)
		if err != nil {
			logrus.WithError(err).Warn("client: failed to decode state snapshot")
			return
		}
		c.applyServerSnapshot(snap)

	case protocol.MsgInputRelay:
		relayed, err := protocol.DecodeRelayedInput(body)
		if err != nil {
			return
		}
		c.mu.RLock()
		mgr := c.mgr
		ownIndex := c.playerIndex
		c.mu.RUnlock()
		if mgr == nil || relayed.PlayerIndex == ownIndex {
			return
		}
		mgr.InputFromPlayer(timeval.FrameIndex(relayed.Tick), relayed.PlayerIndex, relayed.Intents)

	case protocol.MsgServerInput:
		sif, err := protocol.DecodeServerInputFrame(body)
		if err != nil {
			return
		}
		c.mu.RLock()
		mgr := c.mgr
		c.mu.RUnlock()
		if mgr == nil {
			return
		}
		mgr.ServerInput(timeval.FrameIndex(sif.Tick), game.ServerInput{})
	}
}

// publish is the remote-mode Manager's Publisher callback.
func (c *Client) publish(msg manager.StepMessage[game.WorldState]) {
	c.onStep(msg.State)
}

// onStep records the predicted state for later reconciliation and forwards
// it to the caller-supplied render hook; shared by both modes.
func (c *Client) onStep(state game.WorldState) {
	c.predictions.RecordState(ConvertToWorldSnapshot(&state))
	c.receiver.Publish(manager.StepMessage[game.WorldState]{
		FrameIndex: timeval.FrameIndex(state.Tick),
		State:      state,
	})

	c.mu.RLock()
	cb := c.onState
	c.mu.RUnlock()
	if cb != nil {
		cb(state)
	}
}

// waitForRecord polls conn until a complete record arrives, the deadline
// passes, or quitCh fires.
func waitForRecord(conn transport.TCPStream, maxPayload uint32, deadline time.Duration, quitCh <-chan struct{}) ([]byte, bool) {
	expiry := time.Now().Add(deadline)
	for time.Now().Before(expiry) {
		select {
		case <-quitCh:
			return nil, false
		default:
		}
		payload, ok, err := conn.TryReadRecord(maxPayload)
		if err != nil {
			return nil, false
		}
		if ok {
			return payload, true
		}
	}
	return nil, false
}
