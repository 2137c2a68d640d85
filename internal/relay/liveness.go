package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ColinNebula/quibish-signaling/internal/metrics"
)

// Run drives the liveness monitor until ctx is cancelled. Each tick probes
// every registered connection; a connection that showed no life since the
// previous probe is treated exactly like an explicit disconnection. The
// interval is fixed and independent of message traffic.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep disconnects every client that failed the previous probe, then marks
// the survivors pending and pings them. Tests call this directly to drive
// liveness deterministically.
func (r *Relay) sweep() {
	type probe struct {
		client *Client
		userID string
	}

	r.mu.Lock()
	probes := make([]probe, 0, len(r.clients))
	for id, c := range r.clients {
		probes = append(probes, probe{client: c, userID: id})
	}
	r.mu.Unlock()

	for _, p := range probes {
		if !p.client.alive.Swap(false) {
			metrics.LivenessDisconnectsTotal.Inc()
			r.logger.Warn("liveness probe missed", zap.String("user", p.userID))
			r.Disconnect(p.client)
			continue
		}
		p.client.ping()
	}
}
