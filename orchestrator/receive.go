package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"p2pxfer/models"
	"p2pxfer/transfer"
	"p2pxfer/transport"
)

// Receive accepts a peer-opened TransferSession on conn, applying the
// same per-session K-bounded concurrency and progress aggregation as
// Send. The sanitizer's policy check runs inside transfer.AcceptSession;
// a rejected offer returns an error wrapping transfer.ErrRejected, after
// SessionAck.accepted=false was already sent to the peer.
func (o *Orchestrator) Receive(ctx context.Context, conn *transport.Connection, sanitizeLeaf func(string) (string, error)) (*models.TransferSession, []models.FileOutcome, error) {
	release, err := o.acquireSessionSlot(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	session, err := transfer.AcceptSession(ctx, conn, sanitizeLeaf)
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, nil
	}

	specs := make([]models.FileSpec, len(session.Files))
	for i, f := range session.Files {
		specs[i] = models.FileSpec{LogicalName: f.LogicalName, SizeBytes: f.Size, Digest: f.Digest}
	}

	ts := &models.TransferSession{
		SessionID: session.SessionID,
		Peer:      conn.PeerID,
		Direction: models.DirectionReceive,
		Files:     specs,
		State:     models.SessionAccepted,
		StartedAt: time.Now(),
	}

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	go watchCancellation(ctx, session, cancelStream)

	agg := newSessionAggregate(session.SessionID, specs)
	aggDone := make(chan struct{})
	var aggWg sync.WaitGroup
	aggWg.Add(1)
	go o.runAggregator(agg, aggDone, &aggWg)

	sem := semaphore.NewWeighted(o.fileConc)
	outcomes := make([]models.FileOutcome, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		i, spec := i, spec
		if err := sem.Acquire(streamCtx, 1); err != nil {
			outcomes[i] = models.FileOutcome{FileIndex: i, OK: false, Reason: err.Error()}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = o.receiveOne(streamCtx, session, i, spec, agg)
		}()
	}
	wg.Wait()
	close(aggDone)
	aggWg.Wait()

	ts.State = finalState(outcomes)
	_ = session.End(ts.State == models.SessionCompleted)
	return ts, outcomes, nil
}

func (o *Orchestrator) receiveOne(ctx context.Context, session *transfer.ReceiverSession, index int, spec models.FileSpec, agg *sessionAggregate) models.FileOutcome {
	finalPath, partPath, err := o.destination(spec.LogicalName)
	if err != nil {
		return models.FileOutcome{FileIndex: index, OK: false, Reason: err.Error()}
	}

	var lastReceived int64
	onProgress := func(received int64) {
		delta := received - lastReceived
		lastReceived = received
		agg.add(delta)
		o.bus.Publish(models.FileProgress{
			SessionID:        session.SessionID,
			FileIndex:        index,
			BytesTransferred: received,
			TotalBytes:       spec.SizeBytes,
			MonotonicTS:      time.Now(),
		})
	}

	ack, err := session.ReceiveFile(ctx, index, partPath, finalPath, onProgress)
	o.bus.Publish(models.FileProgress{
		SessionID:        session.SessionID,
		FileIndex:        index,
		BytesTransferred: lastReceived,
		TotalBytes:       spec.SizeBytes,
		MonotonicTS:      time.Now(),
		Terminal:         true,
		Err:              err,
	})
	if err != nil {
		return models.FileOutcome{FileIndex: index, OK: false, Reason: err.Error()}
	}
	return models.FileOutcome{FileIndex: index, OK: ack.OK, Reason: ack.Reason}
}
