// Package hashing computes Blake3 content digests on a blocking worker,
// grounded on original_source/p2p_core/src/transfer/hash.rs's
// spawn_blocking + mmap2 + buffered-read-fallback strategy, adapted to
// golang.org/x/exp/mmap and github.com/zeebo/blake3.
package hashing

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/zeebo/blake3"
)

// mmapThreshold is the smallest file size for which memory-mapped hashing is
// attempted; smaller files are hashed with a buffered read instead, per
// spec.md §4.3.
const mmapThreshold = 64 * 1024

const bufferedReadSize = 64 * 1024

// ErrTruncated wraps an I/O signal observed when the source file shrank
// while being hashed.
var ErrTruncated = errors.New("hashing: file truncated during digest")

// Digest is the lowercase hex encoding of a Blake3-256 digest.
type Digest string

// File computes the Blake3 digest of path on a dedicated goroutine, so the
// caller's scheduling context is never blocked by mmap or file I/O. ctx
// cancellation aborts the wait (the goroutine itself still runs to
// completion or I/O error).
func File(ctx context.Context, path string) (Digest, error) {
	type result struct {
		digest Digest
		err    error
	}

	resultCh := make(chan result, 1)
	go func() {
		d, err := hashBlocking(path)
		resultCh <- result{digest: d, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-resultCh:
		return r.digest, r.err
	}
}

func hashBlocking(path string) (Digest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("hashing: stat %s: %w", path, err)
	}

	hasher := blake3.New()

	if info.Size() == 0 {
		return finalize(hasher), nil
	}

	if info.Size() < mmapThreshold {
		if err := hashBuffered(path, hasher); err != nil {
			return "", err
		}
		return finalize(hasher), nil
	}

	if err := hashMapped(path, info.Size(), hasher); err != nil {
		return "", err
	}
	return finalize(hasher), nil
}

func hashMapped(path string, size int64, hasher *blake3.Hasher) error {
	reader, err := mmap.Open(path)
	if err != nil {
		return hashBuffered(path, hasher)
	}
	defer reader.Close()

	if int64(reader.Len()) != size {
		return fmt.Errorf("%w: mapped length %d, expected %d", ErrTruncated, reader.Len(), size)
	}

	section := io.NewSectionReader(reader, 0, size)
	if _, err := io.Copy(hasher, section); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		return fmt.Errorf("hashing: read mapped file %s: %w", path, err)
	}
	return nil
}

func hashBuffered(path string, hasher *blake3.Hasher) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("hashing: open %s: %w", path, err)
	}
	defer f.Close()

	buf := bufio.NewReaderSize(f, bufferedReadSize)
	if _, err := io.Copy(hasher, buf); err != nil {
		return fmt.Errorf("hashing: read %s: %w", path, err)
	}
	return nil
}

func finalize(hasher *blake3.Hasher) Digest {
	sum := hasher.Sum(nil)
	return Digest(fmt.Sprintf("%x", sum))
}
