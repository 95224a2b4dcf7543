package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"p2pxfer/models"
	"p2pxfer/transport"
)

// SenderSession is the sender side of a negotiated transfer session,
// holding the connection and control stream open for SendFile calls.
type SenderSession struct {
	SessionID string
	Files     []OfferedFile
	conn      *transport.Connection
	control   *controlStream

	mu    sync.Mutex
	state models.SessionState
}

// ReceiverSession is the receiver side of a negotiated transfer session.
// beginChs/endChs/streamChs hold one pre-registered wait channel per file
// index, built in AcceptSession before the control dispatcher and stream
// acceptor start draining the connection; they are never mutated after
// construction, so ReceiveFile reads them without locking.
type ReceiverSession struct {
	SessionID string
	Files     []OfferedFile
	conn      *transport.Connection
	control   *controlStream

	mu    sync.Mutex
	state models.SessionState

	beginChs  map[int]chan FileBegin
	endChs    map[int]chan FileEnd
	streamChs map[int]chan quic.ReceiveStream
}

// OpenSession opens the session's control stream, sends SessionBegin, and
// waits for SessionAck. On accepted=false the returned error wraps
// ErrRejected.
func OpenSession(ctx context.Context, conn *transport.Connection, files []OfferedFile) (*SenderSession, error) {
	sessionID := uuid.NewString()

	stream, err := conn.OpenControlStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("transfer: open control stream: %w", err)
	}

	control := newControlStream(stream)
	session := &SenderSession{
		SessionID: sessionID,
		Files:     files,
		conn:      conn,
		control:   control,
		state:     models.SessionProposed,
	}

	if err := control.send(newSessionBegin(sessionID, files)); err != nil {
		return nil, err
	}

	var ack SessionAck
	if err := control.recvOne(&ack); err != nil {
		return nil, fmt.Errorf("transfer: read session ack: %w", err)
	}
	if ack.Type != msgSessionAck {
		return nil, fmt.Errorf("%w: expected session_ack, got %q", ErrProtocol, ack.Type)
	}
	if !ack.Accepted {
		session.setState(models.SessionRejected)
		return nil, fmt.Errorf("%w: %s", ErrRejected, ack.Reason)
	}

	control.startDispatch()
	session.setState(models.SessionAccepted)
	return session, nil
}

// AcceptSession accepts a peer-opened control stream, reads SessionBegin,
// runs the policy check, and sends SessionAck. On policy rejection
// SessionAck.accepted=false is sent and the returned error wraps
// ErrRejected.
func AcceptSession(ctx context.Context, conn *transport.Connection, sanitizeLeaf func(string) (string, error)) (*ReceiverSession, error) {
	stream, err := conn.AcceptControlStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("transfer: accept control stream: %w", err)
	}

	control := newControlStream(stream)

	var begin SessionBegin
	if err := control.recvOne(&begin); err != nil {
		return nil, fmt.Errorf("transfer: read session begin: %w", err)
	}
	if begin.Type != msgSessionBegin {
		return nil, fmt.Errorf("%w: expected session_begin, got %q", ErrProtocol, begin.Type)
	}

	session := &ReceiverSession{
		SessionID: begin.SessionID,
		Files:     begin.Files,
		conn:      conn,
		control:   control,
		state:     models.SessionProposed,
	}

	accepted, reason := policyCheck(begin.Files, sanitizeLeaf)
	if err := control.send(newSessionAck(accepted, reason)); err != nil {
		return nil, err
	}
	if !accepted {
		session.setState(models.SessionRejected)
		return nil, fmt.Errorf("%w: %s", ErrRejected, reason)
	}

	// Every index's wait channels are registered before the dispatcher and
	// stream acceptor start, so a FileBegin/FileEnd frame or data stream
	// that arrives ahead of the matching ReceiveFile call (which happens
	// whenever the session has more files than the receiver's concurrency
	// limit, since the sender reuses a permit the instant it gets FileAck)
	// is buffered on its channel instead of being routed to nothing and
	// dropped.
	beginChs := make(map[int]chan FileBegin, len(begin.Files))
	endChs := make(map[int]chan FileEnd, len(begin.Files))
	streamChs := make(map[int]chan quic.ReceiveStream, len(begin.Files))
	streams := newStreamRouter()
	for i := range begin.Files {
		beginChs[i] = control.registerFileBeginWait(i)
		endChs[i] = control.registerFileEndWait(i)
		streamChs[i] = streams.registerWait(i)
	}
	streams.start(context.Background(), conn.AcceptFileStream)
	control.startDispatch()

	session.beginChs = beginChs
	session.endChs = endChs
	session.streamChs = streamChs
	session.setState(models.SessionAccepted)
	return session, nil
}

// State returns the session's current lifecycle state.
func (s *SenderSession) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SenderSession) setState(state models.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the session's current lifecycle state.
func (r *ReceiverSession) State() models.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *ReceiverSession) setState(state models.SessionState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// End sends SessionEnd and records the terminal state. It does not close
// the control stream.
func (s *SenderSession) End(ok bool) error {
	err := s.control.send(newSessionEnd(ok))
	if ok {
		s.setState(models.SessionCompleted)
	} else {
		s.setState(models.SessionFailed)
	}
	return err
}

// End sends SessionEnd and records the terminal state. It does not close
// the control stream.
func (r *ReceiverSession) End(ok bool) error {
	err := r.control.send(newSessionEnd(ok))
	if ok {
		r.setState(models.SessionCompleted)
	} else {
		r.setState(models.SessionFailed)
	}
	return err
}

// Cancel sends a Cancel frame; both sides must then abort active data
// streams and transition to Cancelled per spec.md §4.5.
func (s *SenderSession) Cancel(reason string) error {
	s.setState(models.SessionCancelled)
	return s.control.send(newCancel(reason))
}

// Cancel sends a Cancel frame.
func (r *ReceiverSession) Cancel(reason string) error {
	r.setState(models.SessionCancelled)
	return r.control.send(newCancel(reason))
}

// Cancelled delivers a Cancel frame received from the peer, so a caller
// streaming files can abort the in-flight transfer within the 5s
// cooperative cleanup window spec.md §4.5 allows.
func (s *SenderSession) Cancelled() <-chan Cancel { return s.control.cancelled() }

// Cancelled delivers a Cancel frame received from the peer.
func (r *ReceiverSession) Cancelled() <-chan Cancel { return r.control.cancelled() }

// Closed fires once the control stream's dispatch loop has exited.
func (s *SenderSession) Closed() <-chan struct{} { return s.control.closed() }

// Closed fires once the control stream's dispatch loop has exited.
func (r *ReceiverSession) Closed() <-chan struct{} { return r.control.closed() }

// Ended delivers a SessionEnd frame received from the peer, signalling the
// peer is done streaming (successfully or not) and no further FileBegin
// frames for this session will arrive.
func (s *SenderSession) Ended() <-chan SessionEnd { return s.control.ended() }

// Ended delivers a SessionEnd frame received from the peer.
func (r *ReceiverSession) Ended() <-chan SessionEnd { return r.control.ended() }
