package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ColinNebula/quibish-signaling/internal/config"
	"github.com/ColinNebula/quibish-signaling/internal/relay"
)

// Handlers holds dependencies for the HTTP surface. Everything served here
// is a read-only projection of the relay's state; the only mutation path is
// the signaling protocol itself.
type Handlers struct {
	relay  *relay.Relay
	logger *zap.Logger
	cfg    *config.Config
}

func New(cfg *config.Config, r *relay.Relay, logger *zap.Logger) *Handlers {
	return &Handlers{relay: r, logger: logger, cfg: cfg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
