// Command rayserver is the standalone dedicated game server.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/andersfylling/lockstep-arena/internal/game"
	"github.com/andersfylling/lockstep-arena/internal/server"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

// Version is set at build time
var Version = "dev"

func main() {
	port := flag.Int("port", 7777, "TCP control port")
	udpPort := flag.Int("udp-port", 0, "UDP real-time port (0 derives port+1)")
	maxPlayers := flag.Int("max-players", 4, "maximum concurrent players")
	tickRate := flag.Int("tick-rate", 60, "simulation ticks per second")
	syncRate := flag.Int("sync-rate", 20, "state broadcasts per second")
	graceFrames := flag.Uint("grace-frames", 2, "ticks the manager waits for a late input before defaulting it")
	mapWidth := flag.Int("map-width", 60, "demo level width in tiles")
	mapHeight := flag.Int("map-height", 24, "demo level height in tiles")
	flag.Parse()

	logrus.WithField("version", Version).Info("rayserver: starting")

	cfg := server.DefaultConfig()
	cfg.Port = *port
	cfg.UDPPort = *udpPort
	cfg.MaxPlayers = *maxPlayers
	cfg.TickRate = *tickRate
	cfg.SyncRate = *syncRate
	cfg.GraceFrames = timeval.FrameIndex(*graceFrames)

	srv := server.New(cfg)

	world := game.NewWorld()
	tileMap := game.DemoLevelForViewport(*mapWidth, *mapHeight)
	world.SetTileMap(tileMap)
	world.SpawnEnemy("slime", 15, float64(*mapHeight-6))
	world.SpawnEnemy("slime", float64(*mapWidth-12), float64(*mapHeight-6))
	srv.SetWorld(world)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("rayserver: shutting down")
		srv.Stop()
	}()

	logrus.WithFields(logrus.Fields{
		"port":        cfg.Port,
		"udp_port":    cfg.UDPPort,
		"max_players": cfg.MaxPlayers,
		"tick_rate":   cfg.TickRate,
	}).Info("rayserver: listening")

	if err := srv.StartBlocking(); err != nil {
		logrus.WithError(err).Fatal("rayserver: stopped")
	}
}
