package models

import "time"

// PeerRecord is produced only by a successful pairing run (see package pairing).
type PeerRecord struct {
	EndpointID  EndpointId `json:"endpoint_id"`
	DisplayName string     `json:"display_name"`
	PairedAt    time.Time  `json:"paired_at"`
	LastSeen    time.Time  `json:"last_seen"`
}

// DiscoveredPeer is an advisory LAN discovery hit (see package discovery).
// It never substitutes for a PeerRecord; pairing is the only path to trust.
type DiscoveredPeer struct {
	EndpointIDHint string    `json:"endpoint_id_hint"`
	DisplayName    string    `json:"display_name"`
	Addresses      []string  `json:"addresses"`
	Port           int       `json:"port"`
	LastSeen       time.Time `json:"last_seen"`
}
