// Package pairing implements the human-verified handshake that converts
// two mutually-unknown EndpointIds into matching PeerRecords, grounded on
// the teacher's handshake message shapes in network/protocol.go and
// network/handshake.go, carried over QUIC via the transport package's
// length-prefixed frame codec on ALPN "p2p/pair/1".
package pairing

import "p2pxfer/models"

// ALPN is the dedicated QUIC protocol negotiated for pairing connections.
const ALPN = "p2p/pair/1"

const (
	msgHello    = "hello"
	msgHelloAck = "hello_ack"
	msgCode     = "code"
	msgConfirm  = "confirm"
)

// Hello is sent Initiator -> Responder to start a pairing run.
type Hello struct {
	Type        string            `json:"type"`
	EndpointID  models.EndpointId `json:"endpoint_id"`
	DisplayName string            `json:"display_name"`
	NonceA      [16]byte          `json:"nonce_a"`
}

// HelloAck is sent Responder -> Initiator in reply to Hello.
type HelloAck struct {
	Type        string            `json:"type"`
	EndpointID  models.EndpointId `json:"endpoint_id"`
	DisplayName string            `json:"display_name"`
	NonceB      [16]byte          `json:"nonce_b"`
}

// Code is sent by both sides once each has independently derived the
// verification code; it carries no secret, only the side's own
// computation, so the peer can detect a mismatch.
type Code struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// Confirm is sent by both sides carrying the local user's accept/decline
// decision after the human verification step.
type Confirm struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
}

func newHello(id models.EndpointId, displayName string, nonce [16]byte) Hello {
	return Hello{Type: msgHello, EndpointID: id, DisplayName: displayName, NonceA: nonce}
}

func newHelloAck(id models.EndpointId, displayName string, nonce [16]byte) HelloAck {
	return HelloAck{Type: msgHelloAck, EndpointID: id, DisplayName: displayName, NonceB: nonce}
}

func newCode(code string) Code {
	return Code{Type: msgCode, Code: code}
}

func newConfirm(accepted bool) Confirm {
	return Confirm{Type: msgConfirm, Accepted: accepted}
}
