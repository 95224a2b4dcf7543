package models

import "time"

// SecuritySeverity classifies a SecurityEvent.
type SecuritySeverity string

const (
	SecuritySeverityInfo     SecuritySeverity = "info"
	SecuritySeverityWarning  SecuritySeverity = "warning"
	SecuritySeverityCritical SecuritySeverity = "critical"
)

// SessionRecord is one durable row in the transfer history store (C10),
// written once an orchestrated session reaches a terminal state. It is
// purely additive telemetry, never consulted to make a trust or
// transfer decision.
type SessionRecord struct {
	SessionID      string
	PeerEndpointID EndpointId
	Direction      Direction
	FileCount      int
	TotalBytes     int64
	Outcome        SessionState
	StartedAt      time.Time
	EndedAt        time.Time
}

// SecurityEvent records a protocol violation, rejected pairing, or key
// identity mismatch observed by pairing (C4) or transfer (C5).
// PeerEndpointID is nil when no peer identity was established yet (for
// example, a pairing rejected before Hello completes).
type SecurityEvent struct {
	EventType      string
	PeerEndpointID *EndpointId
	Detail         string
	Severity       SecuritySeverity
	At             time.Time
}
