package transfer

import (
	"encoding/json"
	"io"
	"sync"

	"p2pxfer/transport"
)

// controlStream serializes writes to the session's bidirectional control
// stream and, once streaming begins, demultiplexes inbound frames by type
// so concurrent per-file goroutines can each wait on their own FileAck
// without racing each other for reads off the same stream.
type controlStream struct {
	rw io.ReadWriter

	writeMu sync.Mutex

	dispatchOnce sync.Once
	mu           sync.Mutex
	fileAcks     map[int]chan FileAck
	fileBegins   map[int]chan FileBegin
	fileEnds     map[int]chan FileEnd
	cancel       chan Cancel
	sessionEnd   chan SessionEnd
	dispatchErr  error
	done         chan struct{}
}

func newControlStream(rw io.ReadWriter) *controlStream {
	return &controlStream{
		rw:         rw,
		fileAcks:   make(map[int]chan FileAck),
		fileBegins: make(map[int]chan FileBegin),
		fileEnds:   make(map[int]chan FileEnd),
		cancel:     make(chan Cancel, 1),
		sessionEnd: make(chan SessionEnd, 1),
		done:       make(chan struct{}),
	}
}

func (c *controlStream) send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return transport.WriteFrame(c.rw, msg)
}

// envelope reads just the "type" discriminator of one frame.
type envelope struct {
	Type string `json:"type"`
}

// recvOne reads exactly one frame during the negotiation phase, before the
// dispatcher has started. It must not be called concurrently with
// startDispatch.
func (c *controlStream) recvOne(dst any) error {
	return transport.ReadFrame(c.rw, dst)
}

// startDispatch begins reading frames in the background and routing
// FileBegin/FileEnd/FileAck to per-index channels, and Cancel/SessionEnd to
// their own channels. The register*Wait functions must be called before the
// sender or receiver begins a given file index, to avoid racing dispatch
// against the registration of its wait channels.
func (c *controlStream) startDispatch() {
	c.dispatchOnce.Do(func() {
		go c.dispatchLoop()
	})
}

func (c *controlStream) dispatchLoop() {
	defer close(c.done)
	for {
		var raw json.RawMessage
		if err := transport.ReadFrame(c.rw, &raw); err != nil {
			c.mu.Lock()
			c.dispatchErr = err
			c.mu.Unlock()
			c.broadcastClosed()
			return
		}

		var env envelope
		if json.Unmarshal(raw, &env) != nil {
			continue
		}

		switch env.Type {
		case msgFileBegin:
			var m FileBegin
			if json.Unmarshal(raw, &m) == nil {
				c.routeFileBegin(m)
			}
		case msgFileAck:
			var m FileAck
			if json.Unmarshal(raw, &m) == nil {
				c.routeFileAck(m)
			}
		case msgFileEnd:
			var m FileEnd
			if json.Unmarshal(raw, &m) == nil {
				c.routeFileEnd(m)
			}
		case msgCancel:
			var m Cancel
			if json.Unmarshal(raw, &m) == nil {
				select {
				case c.cancel <- m:
				default:
				}
			}
		case msgSessionEnd:
			var m SessionEnd
			if json.Unmarshal(raw, &m) == nil {
				select {
				case c.sessionEnd <- m:
				default:
				}
			}
		}
	}
}

func (c *controlStream) registerFileAckWait(index int) chan FileAck {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan FileAck, 1)
	c.fileAcks[index] = ch
	return ch
}

func (c *controlStream) registerFileBeginWait(index int) chan FileBegin {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan FileBegin, 1)
	c.fileBegins[index] = ch
	return ch
}

func (c *controlStream) registerFileEndWait(index int) chan FileEnd {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan FileEnd, 1)
	c.fileEnds[index] = ch
	return ch
}

func (c *controlStream) routeFileAck(m FileAck) {
	c.mu.Lock()
	ch, ok := c.fileAcks[m.Index]
	if ok {
		delete(c.fileAcks, m.Index)
	}
	c.mu.Unlock()
	if ok {
		ch <- m
	}
}

func (c *controlStream) routeFileBegin(m FileBegin) {
	c.mu.Lock()
	ch, ok := c.fileBegins[m.Index]
	if ok {
		delete(c.fileBegins, m.Index)
	}
	c.mu.Unlock()
	if ok {
		ch <- m
	}
}

func (c *controlStream) routeFileEnd(m FileEnd) {
	c.mu.Lock()
	ch, ok := c.fileEnds[m.Index]
	if ok {
		delete(c.fileEnds, m.Index)
	}
	c.mu.Unlock()
	if ok {
		ch <- m
	}
}

func (c *controlStream) broadcastClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, ch := range c.fileAcks {
		close(ch)
		delete(c.fileAcks, idx)
	}
	for idx, ch := range c.fileBegins {
		close(ch)
		delete(c.fileBegins, idx)
	}
	for idx, ch := range c.fileEnds {
		close(ch)
		delete(c.fileEnds, idx)
	}
}

// closed fires once the dispatch loop has exited (the stream errored or
// was closed by the peer).
func (c *controlStream) closed() <-chan struct{} {
	return c.done
}

// cancelled delivers any Cancel frame received from the peer during
// streaming.
func (c *controlStream) cancelled() <-chan Cancel {
	return c.cancel
}

// ended delivers a SessionEnd frame received from the peer.
func (c *controlStream) ended() <-chan SessionEnd {
	return c.sessionEnd
}
