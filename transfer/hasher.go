package transfer

import (
	"fmt"

	"github.com/zeebo/blake3"

	"p2pxfer/hashing"
)

// streamingHasher accumulates a Blake3 digest incrementally as data-stream
// bytes are written to the .part file, so the receiver never re-reads the
// file from disk to verify FileEnd's digest.
type streamingHasher struct {
	hasher *blake3.Hasher
}

func newStreamingHasher() *streamingHasher {
	return &streamingHasher{hasher: blake3.New()}
}

func (h *streamingHasher) Write(p []byte) {
	h.hasher.Write(p)
}

func (h *streamingHasher) Digest() hashing.Digest {
	return hashing.Digest(fmt.Sprintf("%x", h.hasher.Sum(nil)))
}
