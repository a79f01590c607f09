// Package server implements the authoritative game server.
// Can be embedded in the client for local play or run standalone.
package server

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andersfylling/lockstep-arena/internal/fragment"
	"github.com/andersfylling/lockstep-arena/internal/game"
	"github.com/andersfylling/lockstep-arena/internal/gametimer"
	"github.com/andersfylling/lockstep-arena/internal/manager"
	"github.com/andersfylling/lockstep-arena/internal/protocol"
	gsync "github.com/andersfylling/lockstep-arena/internal/sync"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
	"github.com/andersfylling/lockstep-arena/internal/transport"
)

// tcpListenerPollingPeriod is the glossary's TCP_LISTENER_POLLING_PERIOD.
// The accept and UDP loops poll at transport's own 20ms read timeout, well
// under this; the constant itself bounds how long handleNewConnection
// waits for a new connection's handshake record.
const tcpListenerPollingPeriod = time.Second

const maxUDPPayload = 2048
const maxTCPPayload = 1 << 20

// udpFragmentMTU bounds the wire size (header + payload slice) of each
// fragment.Fragmenter chunk. Kept comfortably under common path MTUs so a
// fragment never needs IP-level fragmentation of its own.
const udpFragmentMTU = 1200

// fragmentStaleAfter is how long an incomplete reassembly is kept before
// fragment.Assembler.Prune discards it.
const fragmentStaleAfter = 2 * time.Second

// fragmentPrunePeriod is how often the server sweeps stale reassemblies.
const fragmentPrunePeriod = time.Second

// Config holds server configuration
type Config struct {
	Port       int
	UDPPort    int // 0 derives Port+1
	MaxPlayers int
	TickRate   int // Game ticks per second
	SyncRate   int // State broadcasts per second (can be lower than tick rate)
	MapPath    string

	GraceFrames timeval.FrameIndex
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Port:        7777,
		MaxPlayers:  4,
		TickRate:    60,
		SyncRate:    20, // Broadcast state 20 times per second
		MapPath:     "",
		GraceFrames: 2,
	}
}

func (c Config) frameDuration() timeval.FrameDuration {
	return timeval.NewFrameDuration(timeval.FromDuration(time.Second / time.Duration(c.TickRate)))
}

func (c Config) syncInterval() timeval.FrameIndex {
	n := c.TickRate / c.SyncRate
	if n < 1 {
		n = 1
	}
	return timeval.FrameIndex(n)
}

func (c Config) udpPort() int {
	if c.UDPPort != 0 {
		return c.UDPPort
	}
	return c.Port + 1
}

// Session represents a connected client.
type Session struct {
	ID       int
	PlayerID int
	Index    uint32 // Manager input slot index
	Name     string

	conn    transport.TCPStream
	udpAddr net.Addr

	mu          sync.Mutex
	lastAckTick uint64
	baseline    *gsync.Baseline
}

// Server is the authoritative game server.
type Server struct {
	config Config
	mu     sync.RWMutex

	running bool
	clock   timeval.Clock

	world *game.World
	sim   *game.Simulation
	mgr   *manager.Manager[protocol.Intent, game.ServerInput, game.WorldState]
	timer *gametimer.GameTimer

	listener transport.TCPListener
	udp      transport.UDPSocket

	fragmenter *fragment.Fragmenter
	assembler  *fragment.Assembler

	sessions      map[int]*Session // sessionID -> session
	sessionsByUDP map[string]*Session
	nextSessionID int

	quitCh chan struct{}
	doneCh chan struct{}

	// onStateUpdate is the embedded-mode hook: called with every published
	// step so a same-process client can render without going over a socket.
	onStateUpdate func(state game.WorldState)
}

// New creates a new server with the given config.
func New(cfg Config) *Server {
	return &Server{
		config:        cfg,
		clock:         timeval.RealClock{},
		sessions:      make(map[int]*Session),
		sessionsByUDP: make(map[string]*Session),
		quitCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// SetWorld sets the game world (for embedded mode where the client creates
// the world and wants to share it).
func (s *Server) SetWorld(w *game.World) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.world = w
}

// World returns the server's game world.
func (s *Server) World() *game.World {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world
}

// SetTransport overrides the listener/UDP socket Start and StartBlocking
// open, for running against simulated transport instead of real sockets.
func (s *Server) SetTransport(l transport.TCPListener, u transport.UDPSocket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
	s.udp = u
}

// SetStateUpdateCallback sets a callback for state updates (embedded mode).
func (s *Server) SetStateUpdateCallback(cb func(state game.WorldState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateUpdate = cb
}

// AddSession registers a connected client without a live socket, for
// embedded/local play.
func (s *Server) AddSession(sessionID int, playerID int, name string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &Session{ID: sessionID, PlayerID: playerID, Index: uint32(len(s.sessions)), Name: name, baseline: gsync.NewBaseline()}
	s.sessions[sessionID] = session
	return session
}

// RemoveSession removes a session.
func (s *Server) RemoveSession(sessionID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		if sess.udpAddr != nil {
			delete(s.sessionsByUDP, sess.udpAddr.String())
		}
		if sess.conn != nil {
			_ = sess.conn.Close()
		}
	}
	delete(s.sessions, sessionID)
}

// QueueInput feeds one input frame from sessionID straight into the
// Manager, for embedded mode callers that don't go through a socket.
func (s *Server) QueueInput(sessionID int, frame protocol.InputFrame) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	mgr := s.mgr
	s.mu.RUnlock()
	if !ok || mgr == nil {
		return
	}
	mgr.InputFromPlayer(timeval.FrameIndex(frame.Tick), session.Index, frame.Intents)
}

// Start begins the server: opens listeners, starts the tick loop and the
// network read loops, and returns immediately.
func (s *Server) Start() error {
	if err := s.init(); err != nil {
		return err
	}

	go s.runTickLoop()
	go s.runAcceptLoop()
	go s.runUDPLoop()
	go s.runFragmentPruneLoop()

	return nil
}

// StartBlocking runs the tick loop on the current goroutine; network read
// loops still run on their own goroutines.
func (s *Server) StartBlocking() error {
	if err := s.init(); err != nil {
		return err
	}

	go s.runAcceptLoop()
	go s.runUDPLoop()
	go s.runFragmentPruneLoop()
	s.runTickLoop()
	return nil
}

// runFragmentPruneLoop periodically discards reassemblies that never
// received their last fragment, so a lossy peer can't grow the assembler's
// partial-message map without bound.
func (s *Server) runFragmentPruneLoop() {
	ticker := time.NewTicker(fragmentPrunePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.quitCh:
			return
		case <-ticker.C:
			s.assembler.Prune()
		}
	}
}

// sendUDP fragments payload and writes each piece to addr. Every UDP
// message goes through the fragmenter uniformly, including ones that fit in
// a single fragment, so the receiver's Assembler.Accept path is exercised
// the same way regardless of payload size (spec §4.4).
func (s *Server) sendUDP(addr net.Addr, payload []byte) {
	for _, frag := range s.fragmenter.Split(payload) {
		if err := s.udp.WriteTo(frag.Encode(), addr); err != nil {
			logrus.WithError(err).Debug("server: udp write failed")
		}
	}
}

func (s *Server) init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.world == nil {
		s.world = game.NewWorld()
	}

	playerIDs := make([]int, 0, s.config.MaxPlayers)
	for id := 1; id <= s.config.MaxPlayers; id++ {
		playerIDs = append(playerIDs, id)
	}
	s.sim = game.NewSimulation(s.world, playerIDs)

	mgrCfg := manager.Config[protocol.Intent, game.ServerInput]{
		GraceFrames:        s.config.GraceFrames,
		DefaultInput:       protocol.IntentNone,
		DefaultServerInput: game.ServerInput{},
	}
	s.mgr = manager.New[protocol.Intent, game.ServerInput, game.WorldState](s.sim, manager.PublisherFunc[game.WorldState](s.publish), mgrCfg)

	gtCfg := gametimer.DefaultConfig(s.config.frameDuration())
	s.timer = gametimer.NewServer(s.clock, gtCfg)

	s.fragmenter = fragment.NewFragmenter(udpFragmentMTU)
	s.assembler = fragment.NewAssembler(s.clock, timeval.Millis(fragmentStaleAfter.Milliseconds()))

	s.mgr.InitialInformation(len(playerIDs), s.timer.EffectiveStartTime(s.clock.Now()), s.config.frameDuration(), s.world.Snapshot())

	if s.listener == nil {
		ln, err := transport.ListenTCP(tcpAddr(s.config.Port))
		if err != nil {
			return err
		}
		s.listener = ln
	}
	if s.udp == nil {
		sock, err := transport.ListenUDP(tcpAddr(s.config.udpPort()))
		if err != nil {
			return err
		}
		s.udp = sock
	}

	s.running = true
	return nil
}

func tcpAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

func (s *Server) runTickLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.frameDuration().Duration().StdDuration())
	defer ticker.Stop()

	for {
		select {
		case <-s.quitCh:
			return
		case <-ticker.C:
			s.processTick()
		}
	}
}

func (s *Server) processTick() {
	now := s.clock.Now()
	msg := s.timer.OnTick(now, now)
	s.mgr.ClockTick(msg.Step)
}

// publish is the Manager's Publisher callback: it calls the embedded-mode
// hook, broadcasts ServerInput every frame, and at SyncRate broadcasts a
// state snapshot to every connected session.
func (s *Server) publish(msg manager.StepMessage[game.WorldState]) {
	s.mu.RLock()
	callback := s.onStateUpdate
	s.mu.RUnlock()

	if callback != nil {
		callback(msg.State)
	}

	// ServerInput(F, si) is broadcast every frame regardless of SyncRate
	// (spec §4.6); the platformer's ServerInput carries no fields, so this
	// is an empty payload, but the broadcast itself is unconditional.
	s.broadcastServerInput(msg.FrameIndex)

	if msg.FrameIndex%s.config.syncInterval() != 0 {
		return
	}
	s.broadcastSnapshot(msg.FrameIndex, msg.State)
}

// broadcastServerInput fans the per-frame ServerInput out to every session
// with a known UDP address.
func (s *Server) broadcastServerInput(tick timeval.FrameIndex) {
	sif := protocol.ServerInputFrame{Tick: uint64(tick)}
	payload := protocol.EncodeEnvelope(protocol.MsgServerInput, protocol.EncodeServerInputFrame(sif))

	for _, sess := range s.sessionSnapshot() {
		if sess.udpAddr == nil {
			continue
		}
		s.sendUDP(sess.udpAddr, payload)
	}
}

// sessionSnapshot returns a point-in-time copy of the session set, safe to
// range over without holding s.mu.
func (s *Server) sessionSnapshot() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// broadcastSnapshot sends each session a delta against its own baseline
// (internal/sync), falling back to a full snapshot for a session that has
// none yet. Snapshots travel over UDP, fragmented as needed, since they can
// exceed a single datagram's MTU (spec §2, §4.6, §6).
func (s *Server) broadcastSnapshot(tick timeval.FrameIndex, state game.WorldState) {
	full := state.ToProtocolSnapshot()
	full.Tick = uint64(tick)

	for _, sess := range s.sessionSnapshot() {
		if sess.udpAddr == nil {
			continue
		}
		sess.mu.Lock()
		snap := full
		if sess.baseline.Tick() != 0 {
			snap = gsync.Diff(sess.baseline, full.Entities)
			snap.Tick = full.Tick
		}
		sess.baseline.Update(&full)
		sess.mu.Unlock()

		payload := protocol.EncodeEnvelope(protocol.MsgState, protocol.EncodeStateSnapshot(snap))
		s.sendUDP(sess.udpAddr, payload)
	}
}

// runAcceptLoop accepts new TCP control connections, performs the
// handshake, and registers a session.
func (s *Server) runAcceptLoop() {
	for {
		select {
		case <-s.quitCh:
			return
		default:
		}

		conn, ok, err := s.listener.TryAccept()
		if err != nil {
			logrus.WithError(err).Warn("server: accept failed")
			continue
		}
		if !ok {
			continue
		}
		go s.handleNewConnection(conn)
	}
}

func (s *Server) handleNewConnection(conn transport.TCPStream) {
	payload, ok := waitForRecord(conn, maxTCPPayload, tcpListenerPollingPeriod, s.quitCh)
	if !ok {
		_ = conn.Close()
		return
	}
	msgType, body, err := protocol.DecodeEnvelope(payload)
	if err != nil || msgType != protocol.MsgHandshake {
		logrus.Warn("server: expected handshake, closing connection")
		_ = conn.Close()
		return
	}
	hs, err := protocol.DecodeHandshake(body)
	if err != nil || !protocol.Compatible(protocol.ProtocolVersion, hs.Version) {
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	s.nextSessionID++
	sessionID := s.nextSessionID
	index := uint32(len(s.sessions))
	playerID := int(index) + 1
	session := &Session{ID: sessionID, PlayerID: playerID, Index: index, Name: hs.PlayerName, conn: conn, baseline: gsync.NewBaseline()}
	s.sessions[sessionID] = session
	world := s.world
	startTime := s.timer.EffectiveStartTime(s.clock.Now())
	frameDuration := s.config.frameDuration()
	s.mu.Unlock()

	world.SpawnPlayer(playerID, hs.PlayerName, 5, 5)
	snap := world.Snapshot()
	s.mgr.StateSnapshot(s.mgr.NewestIndex(), snap)

	initialState := snap.ToProtocolSnapshot()
	info := protocol.InitialInformation{
		PlayerIndex:       index,
		PlayerCount:       s.config.MaxPlayers,
		StartTimeUnixNano: startTime.Value().StdTime().UnixNano(),
		FrameDurationNano: int64(frameDuration.Duration().StdDuration()),
		InitialState:      protocol.EncodeStateSnapshot(initialState),
	}
	out := protocol.EncodeEnvelope(protocol.MsgInitialInformation, protocol.EncodeInitialInformation(info))
	if err := conn.WriteRecord(out); err != nil {
		logrus.WithError(err).Warn("server: failed to send initial information")
	}

	logrus.WithFields(logrus.Fields{"session": sessionID, "player": playerID, "name": hs.PlayerName}).Info("server: player connected")
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

// runUDPLoop reads the real-time channel: player inputs and pings.
func (s *Server) runUDPLoop() {
	for {
		select {
		case <-s.quitCh:
			return
		default:
		}

		raw, addr, ok, err := s.udp.TryReadFrom(maxUDPPayload)
		if err != nil {
			logrus.WithError(err).Warn("server: udp read failed")
			continue
		}
		if !ok {
			continue
		}
		frag, err := fragment.Decode(raw)
		if err != nil {
			continue
		}
		payload, complete := s.assembler.Accept(addr, frag)
		if !complete {
			continue
		}
		s.handleUDPPacket(payload, addr)
	}
}

func (s *Server) handleUDPPacket(payload []byte, addr net.Addr) {
	msgType, body, err := protocol.DecodeEnvelope(payload)
	if err != nil {
		return
	}

	switch msgType {
	case protocol.MsgInput:
		frame, err := protocol.DecodeInputFrame(body)
		if err != nil {
			return
		}
		session := s.sessionForAddr(addr)
		if session == nil {
			return
		}
		s.mgr.InputFromPlayer(timeval.FrameIndex(frame.Tick), session.Index, frame.Intents)
		s.relayInput(session, frame)

	case protocol.MsgPing:
		req, err := gametimer.DecodePingRequest(body)
		if err != nil {
			return
		}
		now := s.clock.Now()
		resp := gametimer.BuildPingResponse(req, now, s.clock.Now())
		out := protocol.EncodeEnvelope(protocol.MsgPong, gametimer.EncodePingResponse(resp))
		s.sendUDP(addr, out)
		s.registerUDPAddr(req.PlayerIndex, addr)
	}
}

// relayInput fans a received input out to every other session's UDP peer,
// so each client can resimulate peers' ticks immediately instead of waiting
// on the next StateSnapshot (spec §2, §4.6).
func (s *Server) relayInput(origin *Session, frame protocol.InputFrame) {
	relayed := protocol.RelayedInput{Tick: frame.Tick, PlayerIndex: origin.Index, Intents: frame.Intents}
	payload := protocol.EncodeEnvelope(protocol.MsgInputRelay, protocol.EncodeRelayedInput(relayed))

	for _, sess := range s.sessionSnapshot() {
		if sess.ID == origin.ID || sess.udpAddr == nil {
			continue
		}
		s.sendUDP(sess.udpAddr, payload)
	}
}

// registerUDPAddr binds a player's UDP source address the first time it is
// seen (pings and inputs arrive unordered and connectionless, so the
// server learns "who is this packet from" lazily instead of during the
// handshake).
func (s *Server) registerUDPAddr(playerIndex uint32, addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Index == playerIndex {
			if sess.udpAddr == nil || sess.udpAddr.String() != addr.String() {
				if sess.udpAddr != nil {
					delete(s.sessionsByUDP, sess.udpAddr.String())
				}
				sess.udpAddr = addr
				s.sessionsByUDP[addr.String()] = sess
			}
			return
		}
	}
}

func (s *Server) sessionForAddr(addr net.Addr) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionsByUDP[addr.String()]
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	listener := s.listener
	udp := s.udp
	s.mu.Unlock()

	close(s.quitCh)
	<-s.doneCh

	if listener != nil {
		_ = listener.Close()
	}
	if udp != nil {
		_ = udp.Close()
	}
}

// Tick returns the Manager's newest known frame index, which can be ahead
// of the last published one.
func (s *Server) Tick() uint64 {
	s.mu.RLock()
	mgr := s.mgr
	s.mu.RUnlock()
	if mgr == nil {
		return 0
	}
	return uint64(mgr.NewestIndex())
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
