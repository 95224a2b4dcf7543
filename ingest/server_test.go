package ingest

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fixedApprover struct{ accept bool }

func (f fixedApprover) Approve(context.Context, string, int64, string) (bool, error) {
	return f.accept, nil
}

type recordingCompletion struct {
	path, name string
	size       int64
	done       chan struct{}
}

func newRecordingCompletion() *recordingCompletion {
	return &recordingCompletion{done: make(chan struct{})}
}

func (r *recordingCompletion) UploadComplete(path, name string, size int64) {
	r.path, r.name, r.size = path, name, size
	close(r.done)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestIngestAcceptedUploadCompletes(t *testing.T) {
	dir := t.TempDir()
	completion := newRecordingCompletion()
	srv := New("", dir, fixedApprover{accept: true}, completion, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	token, err := srv.MintToken()
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL)+"/"+token+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	content := []byte(strings.Repeat("x", 500*1024))
	if err := conn.WriteJSON(clientFileInfo{Type: "file_info", FileName: "photo.jpg", FileSize: int64(len(content))}); err != nil {
		t.Fatalf("write file_info: %v", err)
	}

	var accepted serverAccepted
	if err := conn.ReadJSON(&accepted); err != nil {
		t.Fatalf("read accepted: %v", err)
	}
	if accepted.Type != "accepted" {
		t.Fatalf("unexpected message type: %s", accepted.Type)
	}

	chunkSize := 64 * 1024
	for offset := 0; offset < len(content); offset += chunkSize {
		end := offset + chunkSize
		if end > len(content) {
			end = len(content)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, content[offset:end]); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
	}

	for {
		var raw map[string]any
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatalf("read server message: %v", err)
		}
		if raw["type"] == "complete" {
			break
		}
		if raw["type"] == "error" {
			t.Fatalf("server reported error: %v", raw["message"])
		}
	}

	select {
	case <-completion.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion callback")
	}

	if completion.name != "photo.jpg" || completion.size != int64(len(content)) {
		t.Fatalf("unexpected completion: %+v", completion)
	}
	got, err := os.ReadFile(completion.path)
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatal("content mismatch")
	}
	if filepath.Dir(completion.path) != dir {
		t.Fatalf("unexpected destination dir: %s", completion.path)
	}
}

func TestIngestRejectsDeclinedUpload(t *testing.T) {
	dir := t.TempDir()
	srv := New("", dir, fixedApprover{accept: false}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	token, _ := srv.MintToken()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL)+"/"+token+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(clientFileInfo{Type: "file_info", FileName: "a.txt", FileSize: 10}); err != nil {
		t.Fatalf("write file_info: %v", err)
	}

	var rejected serverRejected
	if err := conn.ReadJSON(&rejected); err != nil {
		t.Fatalf("read rejected: %v", err)
	}
	if rejected.Type != "rejected" {
		t.Fatalf("expected rejected, got %s", rejected.Type)
	}
}

func TestIngestTokenRejectsSecondUpgrade(t *testing.T) {
	dir := t.TempDir()
	srv := New("", dir, fixedApprover{accept: true}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	token, _ := srv.MintToken()

	conn1, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL)+"/"+token+"/ws", nil)
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}
	defer conn1.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL)+"/"+token+"/ws", nil)
	if err == nil {
		t.Fatal("expected second upgrade to fail")
	}
	if resp == nil || resp.StatusCode != 403 {
		status := -1
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestIngestUploaderPageServedForValidToken(t *testing.T) {
	dir := t.TempDir()
	srv := New("", dir, fixedApprover{accept: true}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	token, _ := srv.MintToken()

	resp, err := ts.Client().Get(ts.URL + "/" + token + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestIngestUploaderPageRejectsUnknownToken(t *testing.T) {
	dir := t.TempDir()
	srv := New("", dir, fixedApprover{accept: true}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/not-a-real-token/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
