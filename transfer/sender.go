package transfer

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"p2pxfer/hashing"
	"p2pxfer/models"
)

// dataBufferSize bounds read/write buffers on data streams regardless of
// QUIC window size, per spec.md §4.5.
const dataBufferSize = 256 * 1024

// fileAckTimeout bounds how long the sender waits for FileAck after
// FileEnd, per spec.md §5.
const fileAckTimeout = 10 * time.Second

// SendFile streams one file to the receiver: it announces FileBegin on
// the control stream, opens a dedicated unidirectional data stream
// prefixed with a 4-byte big-endian file index (so the receiver can
// correlate concurrently-open data streams back to their FileBegin, since
// QUIC gives no inherent ordering across independently-opened streams),
// streams the file in 256 KiB chunks while invoking onProgress, then sends
// FileEnd with the pre-computed digest and waits for FileAck.
func (s *SenderSession) SendFile(ctx context.Context, index int, path string, digest hashing.Digest, onProgress func(sent int64)) (FileAck, error) {
	s.setState(models.SessionStreaming)
	ackCh := s.control.registerFileAckWait(index)

	if err := s.control.send(newFileBegin(index)); err != nil {
		return FileAck{}, err
	}

	if err := s.streamFile(ctx, index, path, onProgress); err != nil {
		return FileAck{}, err
	}

	if err := s.control.send(newFileEnd(index, string(digest))); err != nil {
		return FileAck{}, err
	}

	select {
	case ack, ok := <-ackCh:
		if !ok {
			return FileAck{}, fmt.Errorf("%w: control stream closed before file_ack for index %d", ErrProtocol, index)
		}
		return ack, nil
	case <-time.After(fileAckTimeout):
		return FileAck{}, fmt.Errorf("transfer: timed out waiting for file_ack on index %d", index)
	case <-ctx.Done():
		return FileAck{}, ctx.Err()
	}
}

func (s *SenderSession) streamFile(ctx context.Context, index int, path string, onProgress func(int64)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("transfer: open %s: %w", path, err)
	}
	defer f.Close()

	stream, err := s.conn.OpenFileStream(ctx)
	if err != nil {
		return fmt.Errorf("transfer: open data stream for index %d: %w", index, err)
	}
	// On a normal finish the stream is closed gracefully (FIN) so the
	// receiver's read loop sees io.EOF. On cancellation it's reset instead:
	// a FIN would look like a complete file to the receiver, so the stream
	// must signal abnormal termination via stop_sending/reset.
	defer func() {
		if ctx.Err() != nil {
			stream.CancelWrite(0)
			return
		}
		stream.Close()
	}()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(index))
	if _, err := stream.Write(header); err != nil {
		return fmt.Errorf("transfer: write stream header for index %d: %w", index, err)
	}

	buf := make([]byte, dataBufferSize)
	var sent int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, err := stream.Write(buf[:n]); err != nil {
				return fmt.Errorf("transfer: write data for index %d: %w", index, err)
			}
			sent += int64(n)
			if onProgress != nil {
				onProgress(sent)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("transfer: read %s: %w", path, readErr)
		}
	}
}
