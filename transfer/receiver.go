package transfer

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"p2pxfer/hashing"
	"p2pxfer/models"
)

// streamRouter accepts incoming unidirectional data streams, reads each
// one's 4-byte index header, and hands the stream to whichever ReceiveFile
// call is waiting for that index.
type streamRouter struct {
	once sync.Once
	mu   sync.Mutex
	wait map[int]chan quic.ReceiveStream
	err  error
	done chan struct{}
}

func newStreamRouter() *streamRouter {
	return &streamRouter{
		wait: make(map[int]chan quic.ReceiveStream),
		done: make(chan struct{}),
	}
}

func (rt *streamRouter) start(ctx context.Context, accept func(context.Context) (quic.ReceiveStream, error)) {
	rt.once.Do(func() {
		go rt.acceptLoop(ctx, accept)
	})
}

func (rt *streamRouter) acceptLoop(ctx context.Context, accept func(context.Context) (quic.ReceiveStream, error)) {
	defer close(rt.done)
	for {
		stream, err := accept(ctx)
		if err != nil {
			rt.mu.Lock()
			rt.err = err
			rt.mu.Unlock()
			return
		}
		go rt.routeStream(stream)
	}
}

func (rt *streamRouter) routeStream(stream quic.ReceiveStream) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(stream, header); err != nil {
		stream.CancelRead(0)
		return
	}
	index := int(binary.BigEndian.Uint32(header))

	rt.mu.Lock()
	ch, ok := rt.wait[index]
	if ok {
		delete(rt.wait, index)
	}
	rt.mu.Unlock()

	if !ok {
		stream.CancelRead(0)
		return
	}
	ch <- stream
}

func (rt *streamRouter) registerWait(index int) chan quic.ReceiveStream {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ch := make(chan quic.ReceiveStream, 1)
	rt.wait[index] = ch
	return ch
}

// ReceiveFile waits for FileBegin on index, accepts the matching data
// stream, writes bytes to partPath while hashing them, then waits for
// FileEnd to compare digests. On match, partPath is renamed to finalPath
// and FileAck{ok:true} is sent and returned; on mismatch or any other
// failure, partPath is removed, FileAck{ok:false} is sent (when the
// failure happens after FileEnd is known), and the error is returned to
// the caller so the session can advance to the next file per spec.md
// §4.5's "session continues with next file" rule.
func (r *ReceiverSession) ReceiveFile(ctx context.Context, index int, partPath, finalPath string, onProgress func(received int64)) (FileAck, error) {
	r.setState(models.SessionStreaming)
	beginCh := r.beginChs[index]
	endCh := r.endChs[index]
	streamCh := r.streamChs[index]

	select {
	case _, ok := <-beginCh:
		if !ok {
			return FileAck{}, fmt.Errorf("%w: control stream closed before file_begin for index %d", ErrProtocol, index)
		}
	case <-ctx.Done():
		return FileAck{}, ctx.Err()
	}

	var stream quic.ReceiveStream
	select {
	case stream = <-streamCh:
	case <-ctx.Done():
		return FileAck{}, ctx.Err()
	}

	digest, err := r.writePart(ctx, stream, partPath, onProgress)
	if err != nil {
		os.Remove(partPath)
		return FileAck{}, err
	}

	end, err := r.waitFileEnd(ctx, index, endCh)
	if err != nil {
		os.Remove(partPath)
		return FileAck{}, err
	}

	if string(digest) != end.Digest {
		os.Remove(partPath)
		ack := newFileAck(index, false, "digest")
		if sendErr := r.control.send(ack); sendErr != nil {
			return FileAck{}, sendErr
		}
		return ack, fmt.Errorf("%w: index %d", ErrIntegrity, index)
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		os.Remove(partPath)
		ack := newFileAck(index, false, "rename")
		if sendErr := r.control.send(ack); sendErr != nil {
			return FileAck{}, sendErr
		}
		return ack, fmt.Errorf("transfer: rename %s to %s: %w", partPath, finalPath, err)
	}

	ack := newFileAck(index, true, "")
	if err := r.control.send(ack); err != nil {
		return FileAck{}, err
	}
	return ack, nil
}

func (r *ReceiverSession) writePart(ctx context.Context, stream quic.ReceiveStream, partPath string, onProgress func(int64)) (hashing.Digest, error) {
	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("transfer: create %s: %w", partPath, err)
	}
	defer out.Close()

	hasher := newStreamingHasher()

	buf := make([]byte, dataBufferSize)
	var received int64
	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("transfer: write %s: %w", partPath, err)
			}
			hasher.Write(buf[:n])
			received += int64(n)
			if onProgress != nil {
				onProgress(received)
			}
		}
		if readErr == io.EOF {
			return hasher.Digest(), nil
		}
		if readErr != nil {
			return "", fmt.Errorf("transfer: read data stream: %w", readErr)
		}
	}
}

// waitFileEnd blocks until the FileEnd frame for index arrives on the
// control stream, bounded by spec.md §5's 10s FileAck deadline window
// (the same budget covers receiving FileEnd and sending FileAck).
func (r *ReceiverSession) waitFileEnd(ctx context.Context, index int, fileEndCh <-chan FileEnd) (FileEnd, error) {
	select {
	case m, ok := <-fileEndCh:
		if !ok {
			return FileEnd{}, fmt.Errorf("%w: control stream closed before file_end for index %d", ErrProtocol, index)
		}
		return m, nil
	case <-time.After(fileAckTimeout):
		return FileEnd{}, fmt.Errorf("transfer: timed out waiting for file_end on index %d", index)
	case <-ctx.Done():
		return FileEnd{}, ctx.Err()
	}
}
