// Package orchestrator schedules a TransferSession's files across the
// bounded concurrency the engine allows, aggregates per-file progress into
// a session-level summary, and applies the completion rules of spec.md
// §4.6. Grounded on the teacher's PeerManager.beginOutboundFileTransfer /
// runOutboundFileTransfer pair in network/file_transfer.go — there a
// mutex-guarded struct plus a sync.WaitGroup-tracked goroutine per
// transfer; here the per-file goroutine fan-out is instead gated by a
// golang.org/x/sync/semaphore.Weighted permit so no more than K files are
// ever mid hash-or-stream at once.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"p2pxfer/models"
	"p2pxfer/progress"
	"p2pxfer/sanitize"
	"p2pxfer/transfer"
	"p2pxfer/transport"
)

// DefaultFileConcurrency is K from spec.md §4.6.
const DefaultFileConcurrency = 5

// DefaultSessionConcurrency is S from spec.md §5.
const DefaultSessionConcurrency = 4

// aggregateInterval is the minimum cadence for the session-level progress
// summary while streaming, per spec.md §4.6.
const aggregateInterval = 500 * time.Millisecond

// Orchestrator drives TransferSessions to completion on behalf of both
// send-initiated and ingest-initiated (C7) transfers, and accept-side
// receives. One Orchestrator is shared by a process; session admission is
// capped at S concurrent sessions.
type Orchestrator struct {
	endpoint    *transport.Endpoint
	downloadDir string
	fileConc    int64
	sessions    *semaphore.Weighted
	bus         *progress.Bus
}

// New constructs an Orchestrator bound to endpoint for opening/accepting
// QUIC connections, writing received files under downloadDir, and
// publishing progress on bus. fileConcurrency and sessionConcurrency fall
// back to the spec defaults (K=5, S=4) when zero.
func New(endpoint *transport.Endpoint, downloadDir string, fileConcurrency, sessionConcurrency int, bus *progress.Bus) *Orchestrator {
	if fileConcurrency <= 0 {
		fileConcurrency = DefaultFileConcurrency
	}
	if sessionConcurrency <= 0 {
		sessionConcurrency = DefaultSessionConcurrency
	}
	return &Orchestrator{
		endpoint:    endpoint,
		downloadDir: downloadDir,
		fileConc:    int64(fileConcurrency),
		sessions:    semaphore.NewWeighted(int64(sessionConcurrency)),
		bus:         bus,
	}
}

// sessionAggregate tracks the running total of bytes transferred across a
// session's files, so a single background ticker can publish the
// session-wide summary spec.md §4.6 requires independently of any one
// file's own progress events.
type sessionAggregate struct {
	sessionID  string
	totalBytes int64
	sent       atomic.Int64
}

func newSessionAggregate(sessionID string, files []models.FileSpec) *sessionAggregate {
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}
	return &sessionAggregate{sessionID: sessionID, totalBytes: total}
}

func (a *sessionAggregate) add(n int64) {
	a.sent.Add(n)
}

// runAggregator publishes a session-level FileProgress (FileIndex -1 marks
// it as the whole-session summary rather than one file's) at least every
// aggregateInterval until done is closed, then publishes a final terminal
// summary.
func (o *Orchestrator) runAggregator(agg *sessionAggregate, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(aggregateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.bus.Publish(models.FileProgress{
				SessionID:        agg.sessionID,
				FileIndex:        -1,
				BytesTransferred: agg.sent.Load(),
				TotalBytes:       agg.totalBytes,
				MonotonicTS:      time.Now(),
			})
		case <-done:
			o.bus.Publish(models.FileProgress{
				SessionID:        agg.sessionID,
				FileIndex:        -1,
				BytesTransferred: agg.sent.Load(),
				TotalBytes:       agg.totalBytes,
				MonotonicTS:      time.Now(),
				Terminal:         true,
			})
			return
		}
	}
}

// finalState applies spec.md §4.6's termination rule: Completed iff every
// file's outcome is ok, else Failed with the per-file outcomes preserved.
func finalState(outcomes []models.FileOutcome) models.SessionState {
	for _, o := range outcomes {
		if !o.OK {
			return models.SessionFailed
		}
	}
	return models.SessionCompleted
}

func (o *Orchestrator) destination(name string) (finalPath, partPath string, err error) {
	finalPath, err = sanitize.Destination(o.downloadDir, name)
	if err != nil {
		return "", "", err
	}
	return finalPath, finalPath + ".part", nil
}

// cancellableSession is the subset of SenderSession/ReceiverSession that
// watchCancellation needs to propagate a cancellation in either direction.
type cancellableSession interface {
	Cancel(reason string) error
	Cancelled() <-chan transfer.Cancel
	Closed() <-chan struct{}
	Ended() <-chan transfer.SessionEnd
}

// watchCancellation links the session's Cancel frame to the caller's ctx in
// both directions: a Cancel frame from the peer cancels localCancel so every
// suspended SendFile/ReceiveFile call aborts at its next suspension point,
// and ctx being cancelled locally (the caller walking away mid-transfer)
// sends a Cancel frame so the peer's own watchCancellation does the same
// within the cooperative cleanup window. The control stream closing out
// from under the session (peer vanished, connection reset) also cancels
// localCancel, so in-flight file goroutines don't sit out the full ctx
// deadline waiting on channels that broadcastClosed already drained. A
// SessionEnd from the peer does the same: once the peer has ended the
// session, no further FileBegin frames for it will ever arrive.
func watchCancellation(ctx context.Context, session cancellableSession, localCancel context.CancelFunc) {
	select {
	case <-session.Cancelled():
		localCancel()
	case <-session.Closed():
		localCancel()
	case <-session.Ended():
		localCancel()
	case <-ctx.Done():
		_ = session.Cancel(ctx.Err().Error())
		localCancel()
	}
}

// acquireSessionSlot blocks until one of S concurrent session admissions
// is available, releasing it when ctx is cancelled without ever having
// been granted.
func (o *Orchestrator) acquireSessionSlot(ctx context.Context) (release func(), err error) {
	if err := o.sessions.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { o.sessions.Release(1) }, nil
}
