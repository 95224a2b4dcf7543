// Package transfer implements the QUIC transfer engine (spec.md §4.5):
// session negotiation over a bidirectional control stream, per-file
// unidirectional data streams with streaming-digest integrity, and
// cooperative cancellation. Grounded on the teacher's chunked-transfer
// state machine in network/file_transfer.go, adapted from TCP framed
// messages to QUIC streams via the transport package.
package transfer

// ALPN is the dedicated QUIC protocol negotiated for transfer sessions.
const ALPN = "p2p/xfer/1"

const (
	msgSessionBegin = "session_begin"
	msgSessionAck   = "session_ack"
	msgFileBegin    = "file_begin"
	msgFileEnd      = "file_end"
	msgFileAck      = "file_ack"
	msgSessionEnd   = "session_end"
	msgCancel       = "cancel"
)

// OfferedFile describes one file within a SessionBegin offer.
type OfferedFile struct {
	LogicalName string `json:"logical_name"`
	Size        int64  `json:"size"`
	Digest      string `json:"digest"`
}

// SessionBegin is sent sender -> receiver to open a transfer session.
type SessionBegin struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id"`
	Files     []OfferedFile `json:"files"`
}

// SessionAck is sent receiver -> sender after the policy check
// (total size, file count, sanitizer acceptance of every name).
type SessionAck struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// FileBegin precedes any bytes on file index's data stream.
type FileBegin struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// FileEnd is sent by the sender after the last byte of file index.
type FileEnd struct {
	Type   string `json:"type"`
	Index  int    `json:"index"`
	Digest string `json:"digest"`
}

// FileAck is sent by the receiver after digest verification.
type FileAck struct {
	Type   string `json:"type"`
	Index  int    `json:"index"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// SessionEnd is sent by either side to close the control stream.
type SessionEnd struct {
	Type string `json:"type"`
	OK   bool   `json:"ok"`
}

// Cancel may be sent by either side at any time.
type Cancel struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func newSessionBegin(sessionID string, files []OfferedFile) SessionBegin {
	return SessionBegin{Type: msgSessionBegin, SessionID: sessionID, Files: files}
}

func newSessionAck(accepted bool, reason string) SessionAck {
	return SessionAck{Type: msgSessionAck, Accepted: accepted, Reason: reason}
}

func newFileBegin(index int) FileBegin {
	return FileBegin{Type: msgFileBegin, Index: index}
}

func newFileEnd(index int, digest string) FileEnd {
	return FileEnd{Type: msgFileEnd, Index: index, Digest: digest}
}

func newFileAck(index int, ok bool, reason string) FileAck {
	return FileAck{Type: msgFileAck, Index: index, OK: ok, Reason: reason}
}

func newSessionEnd(ok bool) SessionEnd {
	return SessionEnd{Type: msgSessionEnd, OK: ok}
}

func newCancel(reason string) Cancel {
	return Cancel{Type: msgCancel, Reason: reason}
}

// policyCheck validates a SessionBegin offer against the session-wide
// policy limits of spec.md §4.5 (total size ≤ 10 GiB, file count ≤ 10000,
// every name sanitizer-acceptable).
func policyCheck(files []OfferedFile, sanitizeLeaf func(string) (string, error)) (ok bool, reason string) {
	const maxTotalBytes = 10 * 1024 * 1024 * 1024
	const maxFileCount = 10000

	if len(files) == 0 {
		return false, "empty session"
	}
	if len(files) > maxFileCount {
		return false, "too many files"
	}

	var total int64
	for _, f := range files {
		total += f.Size
		if _, err := sanitizeLeaf(f.LogicalName); err != nil {
			return false, "rejected file name"
		}
	}
	if total > maxTotalBytes {
		return false, "session exceeds size limit"
	}
	return true, ""
}
