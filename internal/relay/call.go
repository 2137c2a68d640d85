package relay

import "time"

type CallStatus string

const (
	StatusOffering  CallStatus = "offering"
	StatusConnected CallStatus = "connected"
)

// Call tracks one call attempt between two registered clients. Status only
// ever moves offering → connected; a call is removed from the registry
// exactly once, on reject, end or a party's disconnection.
type Call struct {
	ID          string     `json:"callId"`
	CallerID    string     `json:"callerId"`
	CalleeID    string     `json:"calleeId"`
	Status      CallStatus `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
}

// otherParty returns the counterparty of userID, or "" when userID is not a
// party to the call.
func (c *Call) otherParty(userID string) string {
	switch userID {
	case c.CallerID:
		return c.CalleeID
	case c.CalleeID:
		return c.CallerID
	}
	return ""
}

func (c *Call) isParty(userID string) bool {
	return userID != "" && (userID == c.CallerID || userID == c.CalleeID)
}
