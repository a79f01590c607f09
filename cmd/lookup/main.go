// Command lookup is the room code lookup service.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andersfylling/lockstep-arena/internal/lobby"
)

// Version is set at build time
var Version = "dev"

func main() {
	port := flag.String("port", "8080", "HTTP port to listen on")
	ttl := flag.Duration("ttl", 10*time.Minute, "how long an unclaimed room code stays valid")
	flag.Parse()

	logrus.WithField("version", Version).Info("lookup: starting")

	store := lobby.NewRoomStore(*ttl)
	go cleanupLoop(store)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rooms", handleCreate(store))
	mux.HandleFunc("GET /rooms/{code}", handleLookup(store))
	mux.HandleFunc("DELETE /rooms/{code}", handleDelete(store))

	logrus.WithField("port", *port).Info("lookup: listening")
	if err := http.ListenAndServe(":"+*port, mux); err != nil {
		logrus.WithError(err).Fatal("lookup: server stopped")
	}
}

func cleanupLoop(store *lobby.RoomStore) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		store.Cleanup()
	}
}

type createRequest struct {
	Host       string `json:"host"`
	Name       string `json:"name"`
	MaxPlayers int    `json:"max_players"`
}

func handleCreate(store *lobby.RoomStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Host == "" || req.MaxPlayers <= 0 {
			http.Error(w, "host and max_players are required", http.StatusBadRequest)
			return
		}

		room, err := store.Create(req.Host, req.Name, req.MaxPlayers)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(room)
	}
}

func handleLookup(store *lobby.RoomStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := store.Lookup(r.PathValue("code"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(room)
	}
}

func handleDelete(store *lobby.RoomStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store.Delete(r.PathValue("code"))
		w.WriteHeader(http.StatusNoContent)
	}
}
