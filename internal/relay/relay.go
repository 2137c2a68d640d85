// Package relay implements the signaling core: a registry of reachable
// clients, a registry of in-flight calls, and the routing of offer/answer/
// candidate envelopes between exactly two parties per call. All state is
// in-memory and best-effort; a restart loses it by design.
package relay

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ColinNebula/quibish-signaling/internal/config"
	"github.com/ColinNebula/quibish-signaling/internal/metrics"
)

// Relay owns both registries. A single mutex serializes every mutation so
// the effective semantics match a single-writer event loop.
type Relay struct {
	cfg    *config.Config
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*Client
	calls   map[string]*Call
}

func New(cfg *config.Config, logger *zap.Logger) *Relay {
	return &Relay{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*Client),
		calls:   make(map[string]*Call),
	}
}

// Attach adopts an upgraded websocket connection and starts its pumps. The
// client stays anonymous until it registers.
func (r *Relay) Attach(conn *websocket.Conn) {
	c := newClient(r, conn, r.logger.With(zap.String("remote", conn.RemoteAddr().String())))
	go c.writePump()
	go c.readPump()
}

// Handle dispatches one inbound envelope. Every failure is answered with a
// typed reply to the sender; none of them is fatal to the connection or the
// process.
func (r *Relay) Handle(c *Client, env Envelope) {
	metrics.MessagesTotal.WithLabelValues(env.Type).Inc()

	if env.Type != TypeRegister && c.userID == "" {
		metrics.ProtocolErrorsTotal.Inc()
		c.enqueue(errorEnvelope("register first"))
		return
	}

	switch env.Type {
	case TypeRegister:
		var p RegisterPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.UserID == "" {
			metrics.ProtocolErrorsTotal.Inc()
			c.enqueue(errorEnvelope("register requires a userId"))
			return
		}
		r.Register(c, p)
	case TypeCallOffer:
		r.PlaceOffer(c, env.To, env.CallID, env.Payload)
	case TypeCallAnswer:
		r.PlaceAnswer(c, env.CallID, env.Payload)
	case TypeCallReject:
		r.RejectCall(c, env.CallID)
	case TypeICECandidate:
		r.RelayCandidate(c, env.CallID, env.Payload)
	case TypeCallEnd:
		r.EndCall(c, env.CallID)
	case TypeGetUsers:
		c.enqueue(Envelope{Type: TypeUserList, Users: r.ListUsers(c.userID)})
	default:
		metrics.ProtocolErrorsTotal.Inc()
		c.enqueue(errorEnvelope("unknown message type: " + env.Type))
	}
}

// Register inserts or overwrites the client record for p.UserID. Last write
// wins: an existing connection for the same user is closed and must not tear
// down the record it was replaced by. The new client receives a registered
// ack plus the roster (excluding itself); everyone else gets user-joined.
func (r *Relay) Register(c *Client, p RegisterPayload) {
	if c.userID != "" && c.userID != p.UserID {
		c.enqueue(errorEnvelope("already registered as " + c.userID))
		return
	}

	info := UserInfo{
		UserID:      p.UserID,
		Name:        p.Name,
		Avatar:      p.Avatar,
		Status:      p.Status,
		Location:    p.Location,
		ConnectedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	old := r.clients[p.UserID]
	r.clients[p.UserID] = c
	c.userID = p.UserID
	c.info = info
	roster := r.rosterLocked(p.UserID)
	others := r.othersLocked(p.UserID)
	r.mu.Unlock()

	switch {
	case old == nil:
		metrics.ConnectedClients.Inc()
	case old != c:
		metrics.EvictionsTotal.Inc()
		old.close()
		r.logger.Info("evicted previous connection", zap.String("user", p.UserID))
	}

	// Broadcast only genuinely new arrivals: a refresh or a replaced
	// connection leaves the roster unchanged for everyone else.
	if old == nil {
		joined := Envelope{Type: TypeUserJoined, User: &info}
		for _, other := range others {
			other.enqueue(joined)
		}
	}

	c.enqueue(Envelope{Type: TypeRegistered, User: &info})
	c.enqueue(Envelope{Type: TypeUserList, Users: roster})
	r.logger.Info("client registered", zap.String("user", p.UserID))
}

// PlaceOffer creates a call in offering state and forwards the offer to the
// target. The caller gets call-failed when the target is unknown or
// unreachable, or when the call id is already taken (a second offer must
// never overwrite a live call).
func (r *Relay) PlaceOffer(c *Client, targetID, callID string, offer json.RawMessage) {
	if targetID == "" {
		metrics.ProtocolErrorsTotal.Inc()
		c.enqueue(errorEnvelope("call-offer requires a target"))
		return
	}
	if callID == "" {
		callID = uuid.NewString()
	}

	r.mu.Lock()
	target, ok := r.clients[targetID]
	if !ok {
		r.mu.Unlock()
		metrics.CallsTotal.WithLabelValues("failed").Inc()
		c.enqueue(failedEnvelope(callID, "User not available"))
		return
	}
	if _, taken := r.calls[callID]; taken {
		r.mu.Unlock()
		metrics.CallsTotal.WithLabelValues("failed").Inc()
		c.enqueue(failedEnvelope(callID, "Call already in progress"))
		return
	}
	call := &Call{
		ID:        callID,
		CallerID:  c.userID,
		CalleeID:  targetID,
		Status:    StatusOffering,
		StartedAt: time.Now().UTC(),
	}
	r.calls[callID] = call
	r.mu.Unlock()
	metrics.ActiveCalls.Inc()

	if !target.enqueue(Envelope{Type: TypeCallOffer, CallID: callID, From: c.userID, Payload: offer}) {
		r.discardCall(callID)
		metrics.CallsTotal.WithLabelValues("failed").Inc()
		c.enqueue(failedEnvelope(callID, "User not available"))
		return
	}

	r.logger.Info("call offered",
		zap.String("call", callID),
		zap.String("caller", c.userID),
		zap.String("callee", targetID),
	)
}

// PlaceAnswer transitions the call to connected and forwards the answer to
// the caller. An answer for an unknown call id mutates nothing; an answer
// whose caller is gone discards the call. Only the callee can answer — a
// third party that learned the call id must not be able to splice its own
// session description into the call.
func (r *Relay) PlaceAnswer(c *Client, callID string, answer json.RawMessage) {
	r.mu.Lock()
	call, ok := r.calls[callID]
	if !ok {
		r.mu.Unlock()
		c.enqueue(failedEnvelope(callID, "Call not found"))
		return
	}
	if c.userID != call.CalleeID {
		r.mu.Unlock()
		metrics.ProtocolErrorsTotal.Inc()
		c.enqueue(errorEnvelope("only the callee can answer"))
		return
	}
	caller, live := r.clients[call.CallerID]
	if !live {
		delete(r.calls, callID)
		r.mu.Unlock()
		metrics.ActiveCalls.Dec()
		metrics.CallsTotal.WithLabelValues("failed").Inc()
		c.enqueue(failedEnvelope(callID, "Caller disconnected"))
		return
	}
	now := time.Now().UTC()
	call.Status = StatusConnected
	call.ConnectedAt = &now
	r.mu.Unlock()

	if !caller.enqueue(Envelope{Type: TypeCallAnswer, CallID: callID, From: c.userID, Payload: answer}) {
		r.discardCall(callID)
		metrics.CallsTotal.WithLabelValues("failed").Inc()
		c.enqueue(failedEnvelope(callID, "Caller disconnected"))
		return
	}
	r.logger.Info("call connected", zap.String("call", callID))
}

// RejectCall notifies the caller and discards the call. A reject for an
// unknown call id is a no-op; a reject from a non-party must not discard
// someone else's call.
func (r *Relay) RejectCall(c *Client, callID string) {
	r.mu.Lock()
	call, ok := r.calls[callID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if !call.isParty(c.userID) {
		r.mu.Unlock()
		metrics.ProtocolErrorsTotal.Inc()
		c.enqueue(errorEnvelope("not a party to this call"))
		return
	}
	delete(r.calls, callID)
	caller := r.clients[call.CallerID]
	r.mu.Unlock()

	metrics.ActiveCalls.Dec()
	metrics.CallsTotal.WithLabelValues("rejected").Inc()
	if caller != nil {
		caller.enqueue(Envelope{Type: TypeCallRejected, CallID: callID, From: c.userID})
	}
	r.logger.Info("call rejected", zap.String("call", callID))
}

// RelayCandidate forwards an ICE candidate to the counterparty of the call.
// A candidate for an unknown call id (including one arriving before its
// offer) is a sender error; a candidate whose counterparty is gone is
// dropped, since disconnection cleanup already owns that call's teardown.
func (r *Relay) RelayCandidate(c *Client, callID string, candidate json.RawMessage) {
	r.mu.Lock()
	call, ok := r.calls[callID]
	var peer *Client
	party := ok && call.isParty(c.userID)
	if party {
		peer = r.clients[call.otherParty(c.userID)]
	}
	r.mu.Unlock()

	if !ok {
		metrics.ProtocolErrorsTotal.Inc()
		c.enqueue(errorEnvelope("Call not found"))
		return
	}
	if !party {
		metrics.ProtocolErrorsTotal.Inc()
		c.enqueue(errorEnvelope("not a party to this call"))
		return
	}
	if peer == nil {
		return
	}
	peer.enqueue(Envelope{Type: TypeICECandidate, CallID: callID, From: c.userID, Payload: candidate})
}

// EndCall notifies the counterparty and discards the call. Ending an already
// discarded call is a no-op, so teardown is idempotent. Only a party can end
// the call; otherwise it would be discarded with neither real party notified.
func (r *Relay) EndCall(c *Client, callID string) {
	r.mu.Lock()
	call, ok := r.calls[callID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if !call.isParty(c.userID) {
		r.mu.Unlock()
		metrics.ProtocolErrorsTotal.Inc()
		c.enqueue(errorEnvelope("not a party to this call"))
		return
	}
	delete(r.calls, callID)
	peer := r.clients[call.otherParty(c.userID)]
	r.mu.Unlock()

	metrics.ActiveCalls.Dec()
	metrics.CallsTotal.WithLabelValues("completed").Inc()
	if peer != nil {
		peer.enqueue(Envelope{Type: TypeCallEnd, CallID: callID, From: c.userID, Reason: ReasonEnded})
	}
	r.logger.Info("call ended", zap.String("call", callID))
}

// Disconnect removes the client's record, ends every call it was party to
// (reason peer-disconnected) and broadcasts user-left. A connection that was
// evicted by a newer registration for the same user must not tear down its
// replacement, so the registry entry is removed only when it still points at
// this client. Idempotent per connection.
func (r *Relay) Disconnect(c *Client) {
	c.close()

	r.mu.Lock()
	userID := c.userID
	if userID == "" || r.clients[userID] != c {
		r.mu.Unlock()
		return
	}
	delete(r.clients, userID)
	info := c.info

	type endedCall struct {
		id   string
		peer *Client
	}
	var ended []endedCall
	for id, call := range r.calls {
		if !call.isParty(userID) {
			continue
		}
		delete(r.calls, id)
		ended = append(ended, endedCall{id: id, peer: r.clients[call.otherParty(userID)]})
	}
	others := r.othersLocked(userID)
	r.mu.Unlock()

	metrics.ConnectedClients.Dec()
	for _, e := range ended {
		metrics.ActiveCalls.Dec()
		metrics.CallsTotal.WithLabelValues("peer_disconnected").Inc()
		if e.peer != nil {
			e.peer.enqueue(Envelope{Type: TypeCallEnd, CallID: e.id, From: userID, Reason: ReasonPeerDisconnected})
		}
	}

	left := Envelope{Type: TypeUserLeft, User: &info}
	for _, other := range others {
		other.enqueue(left)
	}
	r.logger.Info("client disconnected",
		zap.String("user", userID),
		zap.Int("endedCalls", len(ended)),
	)
}

// discardCall removes a call if it still exists and keeps the gauge honest.
func (r *Relay) discardCall(callID string) {
	r.mu.Lock()
	_, ok := r.calls[callID]
	if ok {
		delete(r.calls, callID)
	}
	r.mu.Unlock()
	if ok {
		metrics.ActiveCalls.Dec()
	}
}

// StatsSnapshot is the read-only projection served over HTTP.
type StatsSnapshot struct {
	ConnectedUsers int        `json:"connectedUsers"`
	ActiveCalls    int        `json:"activeCalls"`
	Users          []UserInfo `json:"users"`
	Calls          []Call     `json:"calls"`
}

// Stats returns a point-in-time copy of both registries.
func (r *Relay) Stats() StatsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := make([]Call, 0, len(r.calls))
	for _, call := range r.calls {
		calls = append(calls, *call)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].ID < calls[j].ID })

	return StatsSnapshot{
		ConnectedUsers: len(r.clients),
		ActiveCalls:    len(r.calls),
		Users:          r.rosterLocked(""),
		Calls:          calls,
	}
}

// ListUsers returns the current roster, excluding excludeID when non-empty.
func (r *Relay) ListUsers(excludeID string) []UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked(excludeID)
}

// Shutdown closes every connection and clears both registries.
func (r *Relay) Shutdown() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]*Client)
	r.calls = make(map[string]*Call)
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	metrics.ConnectedClients.Set(0)
	metrics.ActiveCalls.Set(0)
	r.logger.Info("relay shutdown complete")
}

func (r *Relay) rosterLocked(excludeID string) []UserInfo {
	users := make([]UserInfo, 0, len(r.clients))
	for id, c := range r.clients {
		if id == excludeID {
			continue
		}
		users = append(users, c.info)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

func (r *Relay) othersLocked(excludeID string) []*Client {
	others := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		if id == excludeID {
			continue
		}
		others = append(others, c)
	}
	return others
}
