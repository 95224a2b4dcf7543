package models

import "time"

// Direction indicates which side of a TransferSession the local endpoint plays.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// SessionState is the lifecycle state of a TransferSession.
type SessionState string

const (
	SessionProposed  SessionState = "proposed"
	SessionAccepted  SessionState = "accepted"
	SessionStreaming SessionState = "streaming"
	SessionCompleted SessionState = "completed"
	SessionCancelled SessionState = "cancelled"
	SessionFailed    SessionState = "failed"
	SessionRejected  SessionState = "rejected"
)

// FileSpec describes one file offered or accepted within a TransferSession.
type FileSpec struct {
	LogicalName string `json:"logical_name"`
	SizeBytes   int64  `json:"size_bytes"`
	Digest      string `json:"digest,omitempty"`
	SourcePath  string `json:"-"`
}

// TransferSession is one orchestrated multi-file exchange between two endpoints.
type TransferSession struct {
	SessionID string
	Peer       EndpointId
	Direction  Direction
	Files      []FileSpec
	State      SessionState
	StartedAt  time.Time
}

// FileProgress is emitted at most every 100ms per file, and unconditionally on completion.
type FileProgress struct {
	SessionID        string
	FileIndex        int
	BytesTransferred int64
	TotalBytes       int64
	MonotonicTS      time.Time
	Terminal         bool
	Err              error
}

// FileOutcome is recorded once a file's transfer has a final status.
type FileOutcome struct {
	FileIndex int
	OK        bool
	Reason    string
}
