package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"p2pxfer/hashing"
	"p2pxfer/models"
	"p2pxfer/sanitize"
	"p2pxfer/transfer"
)

// Send performs the pre-flight (stat + digest every path), opens a
// TransferSession to peerID at addr, and streams every file with at most
// K in flight at once, per spec.md §4.6. It blocks until the session
// reaches a terminal state and returns the resulting models.TransferSession
// together with one FileOutcome per path, in the order of paths.
func (o *Orchestrator) Send(ctx context.Context, addr string, peerID models.EndpointId, paths []string) (*models.TransferSession, []models.FileOutcome, error) {
	release, err := o.acquireSessionSlot(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	specs, offered, err := preflight(ctx, paths)
	if err != nil {
		return nil, nil, err
	}

	conn, err := o.endpoint.Connect(ctx, addr, transfer.ALPN, peerID)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: connect to %s: %w", addr, err)
	}
	defer conn.CloseWithError(0, "")

	session, err := transfer.OpenSession(ctx, conn, offered)
	if err != nil {
		return nil, nil, err
	}

	ts := &models.TransferSession{
		SessionID: session.SessionID,
		Peer:      peerID,
		Direction: models.DirectionSend,
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
			outcomes[i] = o.sendOne(streamCtx, session, i, spec, agg)
		}()
	}
	wg.Wait()
	close(aggDone)
	aggWg.Wait()

	ts.State = finalState(outcomes)
	_ = session.End(ts.State == models.SessionCompleted)
	return ts, outcomes, nil
}

func (o *Orchestrator) sendOne(ctx context.Context, session *transfer.SenderSession, index int, spec models.FileSpec, agg *sessionAggregate) models.FileOutcome {
	var lastSent int64
	onProgress := func(sent int64) {
		delta := sent - lastSent
		lastSent = sent
		agg.add(delta)
		o.bus.Publish(models.FileProgress{
			SessionID:        session.SessionID,
			FileIndex:        index,
			BytesTransferred: sent,
			TotalBytes:       spec.SizeBytes,
			MonotonicTS:      time.Now(),
		})
	}

	ack, err := session.SendFile(ctx, index, spec.SourcePath, hashing.Digest(spec.Digest), onProgress)
	o.bus.Publish(models.FileProgress{
		SessionID:        session.SessionID,
		FileIndex:        index,
		BytesTransferred: lastSent,
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

// preflight stats and digests every path, sanitizing its basename for
// display; it runs before any QUIC connection is opened, per spec.md
// §4.6 ("performs a local pre-flight").
func preflight(ctx context.Context, paths []string) ([]models.FileSpec, []transfer.OfferedFile, error) {
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("orchestrator: empty session")
	}

	specs := make([]models.FileSpec, 0, len(paths))
	offered := make([]transfer.OfferedFile, 0, len(paths))

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: stat %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, nil, fmt.Errorf("orchestrator: %s is a directory", p)
		}

		digest, err := hashing.File(ctx, p)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: digest %s: %w", p, err)
		}

		name, err := sanitize.Leaf(filepath.Base(p))
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: name of %s: %w", p, err)
		}
		specs = append(specs, models.FileSpec{
			LogicalName: name,
			SizeBytes:   info.Size(),
			Digest:      string(digest),
			SourcePath:  p,
		})
		offered = append(offered, transfer.OfferedFile{
			LogicalName: name,
			Size:        info.Size(),
			Digest:      string(digest),
		})
	}
	return specs, offered, nil
}
