package relay

import (
	"encoding/json"
	"time"
)

// Client → server message types.
const (
	TypeRegister     = "register"
	TypeCallOffer    = "call-offer"
	TypeCallAnswer   = "call-answer"
	TypeCallReject   = "call-reject"
	TypeICECandidate = "ice-candidate"
	TypeCallEnd      = "call-end"
	TypeGetUsers     = "get-users"
)

// Server → client message types. Offer, answer, candidate and end envelopes
// are relayed under their inbound type.
const (
	TypeRegistered   = "registered"
	TypeUserJoined   = "user-joined"
	TypeUserLeft     = "user-left"
	TypeUserList     = "user-list"
	TypeCallRejected = "call-rejected"
	TypeCallFailed   = "call-failed"
	TypeError        = "error"
)

// Reason tags carried on call-end envelopes.
const (
	ReasonEnded            = "ended"
	ReasonPeerDisconnected = "peer-disconnected"
)

// Envelope is the JSON wire format for every signaling message, in both
// directions. Type selects the variant; the remaining fields are populated
// per variant. Offer, answer and candidate payloads are opaque to the relay
// and pass through as raw JSON.
type Envelope struct {
	Type    string          `json:"type"`
	CallID  string          `json:"callId,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	User    *UserInfo       `json:"user,omitempty"`
	Users   []UserInfo      `json:"users,omitempty"`
}

// RegisterPayload is the payload of an inbound register envelope.
type RegisterPayload struct {
	UserID   string `json:"userId"`
	Name     string `json:"name,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Status   string `json:"status,omitempty"`
	Location string `json:"location,omitempty"`
}

// UserInfo is the roster projection of a registered client.
type UserInfo struct {
	UserID      string    `json:"userId"`
	Name        string    `json:"name,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	Status      string    `json:"status,omitempty"`
	Location    string    `json:"location,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

func errorEnvelope(reason string) Envelope {
	return Envelope{Type: TypeError, Reason: reason}
}

func failedEnvelope(callID, reason string) Envelope {
	return Envelope{Type: TypeCallFailed, CallID: callID, Reason: reason}
}
