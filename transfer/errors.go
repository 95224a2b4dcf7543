package transfer

import "errors"

var (
	// ErrRejected is returned when the receiver's policy check declines a
	// SessionBegin offer (SessionAck.accepted=false).
	ErrRejected = errors.New("transfer: session rejected")
	// ErrProtocol indicates an unexpected frame type or session state.
	ErrProtocol = errors.New("transfer: protocol violation")
	// ErrIntegrity indicates a digest mismatch between sender and receiver.
	ErrIntegrity = errors.New("transfer: digest mismatch")
	// ErrCancelled indicates the session was cancelled by either side.
	ErrCancelled = errors.New("transfer: session cancelled")
)
