package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ColinNebula/quibish-signaling/internal/config"
	"github.com/ColinNebula/quibish-signaling/internal/handler"
	"github.com/ColinNebula/quibish-signaling/internal/relay"
)

func newTestServer(t *testing.T) (*httptest.Server, *relay.Relay) {
	t.Helper()
	cfg := config.Load()
	logger := zap.NewNop()
	rly := relay.New(cfg, logger)
	h := handler.New(cfg, rly, logger)

	r := chi.NewRouter()
	r.Get("/healthz", h.Health)
	r.Get("/ws", h.WebSocket)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Get("/users", h.Users)
	})

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	t.Cleanup(rly.Shutdown)
	return ts, rly
}

func dialWS(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeEnvelope(t *testing.T, c *websocket.Conn, env relay.Envelope) {
	t.Helper()
	if err := c.WriteJSON(env); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
}

func readEnvelope(t *testing.T, c *websocket.Conn) relay.Envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env relay.Envelope
	if err := c.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func expectType(t *testing.T, c *websocket.Conn, want string) relay.Envelope {
	t.Helper()
	env := readEnvelope(t, c)
	if env.Type != want {
		t.Fatalf("envelope type = %q, want %q", env.Type, want)
	}
	return env
}

func dialAndRegister(t *testing.T, baseURL, userID string) *websocket.Conn {
	t.Helper()
	c := dialWS(t, baseURL)
	payload, _ := json.Marshal(relay.RegisterPayload{UserID: userID, Name: userID})
	writeEnvelope(t, c, relay.Envelope{Type: relay.TypeRegister, Payload: payload})
	expectType(t, c, relay.TypeRegistered)
	expectType(t, c, relay.TypeUserList)
	return c
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCallScenarioEndToEnd(t *testing.T) {
	ts, rly := newTestServer(t)

	a := dialAndRegister(t, ts.URL, "u1")
	b := dialAndRegister(t, ts.URL, "u2")
	expectType(t, a, relay.TypeUserJoined)

	// A calls B.
	writeEnvelope(t, a, relay.Envelope{
		Type:    relay.TypeCallOffer,
		To:      "u2",
		CallID:  "c1",
		Payload: json.RawMessage(`{"sdp":"offer-sdp"}`),
	})
	off := expectType(t, b, relay.TypeCallOffer)
	if off.From != "u1" || off.CallID != "c1" {
		t.Fatalf("offer = %+v", off)
	}

	// B answers.
	writeEnvelope(t, b, relay.Envelope{
		Type:    relay.TypeCallAnswer,
		CallID:  "c1",
		Payload: json.RawMessage(`{"sdp":"answer-sdp"}`),
	})
	ans := expectType(t, a, relay.TypeCallAnswer)
	if ans.From != "u2" || string(ans.Payload) != `{"sdp":"answer-sdp"}` {
		t.Fatalf("answer = %+v payload=%s", ans, ans.Payload)
	}

	stats := rly.Stats()
	if stats.ActiveCalls != 1 || stats.Calls[0].Status != relay.StatusConnected {
		t.Fatalf("stats mid-call = %+v", stats)
	}

	// Candidates flow both ways.
	writeEnvelope(t, a, relay.Envelope{
		Type:    relay.TypeICECandidate,
		CallID:  "c1",
		Payload: json.RawMessage(`{"candidate":"a"}`),
	})
	ice := expectType(t, b, relay.TypeICECandidate)
	if ice.From != "u1" {
		t.Fatalf("candidate from = %q", ice.From)
	}

	// A hangs up.
	writeEnvelope(t, a, relay.Envelope{Type: relay.TypeCallEnd, CallID: "c1"})
	end := expectType(t, b, relay.TypeCallEnd)
	if end.CallID != "c1" || end.Reason != relay.ReasonEnded {
		t.Fatalf("call-end = %+v", end)
	}

	waitFor(t, func() bool { return rly.Stats().ActiveCalls == 0 })
}

func TestOfferToMissingUserOverWS(t *testing.T) {
	ts, _ := newTestServer(t)

	c := dialAndRegister(t, ts.URL, "u1")
	writeEnvelope(t, c, relay.Envelope{
		Type:    relay.TypeCallOffer,
		To:      "u99",
		CallID:  "c1",
		Payload: json.RawMessage(`{}`),
	})
	failed := expectType(t, c, relay.TypeCallFailed)
	if failed.Reason != "User not available" {
		t.Fatalf("reason = %q", failed.Reason)
	}
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	ts, _ := newTestServer(t)

	c := dialAndRegister(t, ts.URL, "u1")
	if err := c.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectType(t, c, relay.TypeError)

	// Still usable afterwards.
	writeEnvelope(t, c, relay.Envelope{Type: relay.TypeGetUsers})
	expectType(t, c, relay.TypeUserList)
}

func TestReRegistrationClosesOldConnection(t *testing.T) {
	ts, rly := newTestServer(t)

	old := dialAndRegister(t, ts.URL, "u1")
	_ = dialAndRegister(t, ts.URL, "u1")

	_ = old.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := old.ReadMessage(); err != nil {
			break // evicted
		}
	}

	waitFor(t, func() bool { return rly.Stats().ConnectedUsers == 1 })
}

func TestStatsAndUsersEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	_ = dialAndRegister(t, ts.URL, "u1")
	_ = dialAndRegister(t, ts.URL, "u2")

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	defer resp.Body.Close()

	var stats relay.StatsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.ConnectedUsers != 2 || len(stats.Users) != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Users[0].UserID != "u1" || stats.Users[1].UserID != "u2" {
		t.Fatalf("users = %+v", stats.Users)
	}

	resp2, err := http.Get(ts.URL + "/v1/users")
	if err != nil {
		t.Fatalf("get users: %v", err)
	}
	defer resp2.Body.Close()

	var users []relay.UserInfo
	if err := json.NewDecoder(resp2.Body).Decode(&users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %+v", users)
	}
}

// waitFor polls for state that settles asynchronously after a websocket
// round-trip (the relay mutates before replying, but cleanup of a peer's
// disconnect can land just after the reply is read).
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
