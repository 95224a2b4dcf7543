package transfer

import (
	"context"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"p2pxfer/hashing"
	"p2pxfer/sanitize"
	"p2pxfer/transport"
)

// bindLoopback starts a transport.Endpoint on 127.0.0.1:0 so the OS picks a
// free port, mirroring how the orchestrator binds in production.
func bindLoopback(t *testing.T) *transport.Endpoint {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ep, err := transport.Bind("127.0.0.1:0", priv)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	t.Cleanup(func() { ep.Close() })
	return ep
}

func dialPair(t *testing.T) (*transport.Connection, *transport.Connection) {
	t.Helper()
	sender := bindLoopback(t)
	receiver := bindLoopback(t)

	type acceptResult struct {
		conn *transport.Connection
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := receiver.Accept(context.Background(), []string{ALPN})
		acceptCh <- acceptResult{conn, err}
	}()

	senderConn, err := sender.Connect(context.Background(), receiver.LocalAddr().String(), ALPN, receiver.ID())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	res := <-acceptCh
	if res.err != nil {
		t.Fatalf("accept: %v", res.err)
	}

	t.Cleanup(func() {
		senderConn.CloseWithError(0, "")
		res.conn.CloseWithError(0, "")
	})
	return senderConn, res.conn
}

func TestSessionEndToEndSingleFile(t *testing.T) {
	senderConn, receiverConn := dialPair(t)

	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "report.txt")
	content := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	digest, err := hashing.File(ctx, srcPath)
	if err != nil {
		t.Fatalf("hash source file: %v", err)
	}

	files := []OfferedFile{{LogicalName: "report.txt", Size: int64(len(content)), Digest: string(digest)}}

	type acceptResult struct {
		session *ReceiverSession
		err     error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		s, err := AcceptSession(ctx, receiverConn, sanitize.Leaf)
		acceptCh <- acceptResult{s, err}
	}()

	senderSession, err := OpenSession(ctx, senderConn, files)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}

	res := <-acceptCh
	if res.err != nil {
		t.Fatalf("accept session: %v", res.err)
	}
	receiverSession := res.session

	partPath := filepath.Join(dstDir, "report.txt.part")
	finalPath := filepath.Join(dstDir, "report.txt")

	type recvResult struct {
		ack FileAck
		err error
	}
	recvCh := make(chan recvResult, 1)
	go func() {
		ack, err := receiverSession.ReceiveFile(ctx, 0, partPath, finalPath, nil)
		recvCh <- recvResult{ack, err}
	}()

	sendAck, err := senderSession.SendFile(ctx, 0, srcPath, digest, nil)
	if err != nil {
		t.Fatalf("send file: %v", err)
	}
	if !sendAck.OK {
		t.Fatalf("sender observed failed ack: %s", sendAck.Reason)
	}

	rr := <-recvCh
	if rr.err != nil {
		t.Fatalf("receive file: %v", rr.err)
	}
	if !rr.ack.OK {
		t.Fatalf("receiver produced failed ack: %s", rr.ack.Reason)
	}

	got, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q", got)
	}
	if _, err := os.Stat(partPath); !os.IsNotExist(err) {
		t.Fatalf("expected .part file to be renamed away, stat err: %v", err)
	}

	if err := senderSession.End(true); err != nil {
		t.Fatalf("sender end: %v", err)
	}
	if err := receiverSession.End(true); err != nil {
		t.Fatalf("receiver end: %v", err)
	}
}

func TestSessionRejectsOversizedOffer(t *testing.T) {
	senderConn, receiverConn := dialPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	files := []OfferedFile{{LogicalName: "huge.bin", Size: 11 * 1024 * 1024 * 1024}}

	type acceptResult struct {
		err error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		_, err := AcceptSession(ctx, receiverConn, sanitize.Leaf)
		acceptCh <- acceptResult{err}
	}()

	_, err := OpenSession(ctx, senderConn, files)
	if err == nil {
		t.Fatal("expected rejection error")
	}

	res := <-acceptCh
	if res.err == nil {
		t.Fatal("expected AcceptSession to report rejection locally")
	}
}
