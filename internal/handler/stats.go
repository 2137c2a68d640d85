package handler

import "net/http"

// Stats handles GET /v1/stats: connected users, active calls, and both
// registries as point-in-time snapshots.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.relay.Stats())
}

// Users handles GET /v1/users: the current roster.
func (h *Handlers) Users(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.relay.ListUsers(""))
}
