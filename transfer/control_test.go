package transfer

import (
	"net"
	"testing"
	"time"
)

func pipePair(t *testing.T) (*controlStream, *controlStream) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return newControlStream(a), newControlStream(b)
}

func TestControlStreamRecvOneRoundTrip(t *testing.T) {
	local, remote := pipePair(t)

	go func() {
		local.send(newSessionBegin("sess-1", []OfferedFile{{LogicalName: "a", Size: 1}}))
	}()

	var begin SessionBegin
	if err := remote.recvOne(&begin); err != nil {
		t.Fatalf("recvOne: %v", err)
	}
	if begin.SessionID != "sess-1" {
		t.Fatalf("unexpected session id: %q", begin.SessionID)
	}
}

func TestControlStreamDispatchRoutesByIndex(t *testing.T) {
	local, remote := pipePair(t)
	remote.startDispatch()

	ackCh := remote.registerFileAckWait(3)
	beginCh := remote.registerFileBeginWait(3)
	endCh := remote.registerFileEndWait(3)

	go func() {
		local.send(newFileBegin(3))
		local.send(newFileEnd(3, "deadbeef"))
		local.send(newFileAck(3, true, ""))
	}()

	select {
	case m := <-beginCh:
		if m.Index != 3 {
			t.Fatalf("unexpected index: %d", m.Index)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file_begin")
	}

	select {
	case m := <-endCh:
		if m.Digest != "deadbeef" {
			t.Fatalf("unexpected digest: %q", m.Digest)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file_end")
	}

	select {
	case m := <-ackCh:
		if !m.OK {
			t.Fatal("expected ok ack")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file_ack")
	}
}

func TestControlStreamBroadcastsClosedOnPeerClose(t *testing.T) {
	local, remote := pipePair(t)
	remote.startDispatch()

	ackCh := remote.registerFileAckWait(0)

	local.rw.(interface{ Close() error }).Close()

	select {
	case _, ok := <-ackCh:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcastClosed")
	}

	select {
	case <-remote.closed():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch loop exit")
	}
}

func TestControlStreamDeliversCancelAndSessionEnd(t *testing.T) {
	local, remote := pipePair(t)
	remote.startDispatch()

	go func() {
		local.send(newCancel("user requested"))
	}()

	select {
	case c := <-remote.cancelled():
		if c.Reason != "user requested" {
			t.Fatalf("unexpected reason: %q", c.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancel")
	}

	go func() {
		local.send(newSessionEnd(true))
	}()

	select {
	case e := <-remote.ended():
		if !e.OK {
			t.Fatal("expected ok session end")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session_end")
	}
}
