package ingest

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"p2pxfer/models"
)

const progressInterval = 100 * time.Millisecond

// pingInterval and maxMissedPongs implement spec.md §4.7's liveness rule:
// a ping every 30s, connection dropped after three consecutive misses.
const pingInterval = 30 * time.Second
const maxMissedPongs = 3

type clientFileInfo struct {
	Type     string `json:"type"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type serverAccepted struct {
	Type string `json:"type"`
}

type serverRejected struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type serverProgress struct {
	Type          string `json:"type"`
	ReceivedBytes int64  `json:"received_bytes"`
}

type serverComplete struct {
	Type string `json:"type"`
}

type serverError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// handleUpload drives one WebSocket connection through the file_info ->
// accepted/rejected -> binary chunks -> complete/error protocol of
// spec.md §4.7, grounded on original_source/p2p_core/src/http_share/
// websocket.rs's handle_socket state machine.
func (s *Server) handleUpload(conn *websocket.Conn, remoteAddr string, logger *log.Entry) {
	defer conn.Close()

	conn.SetReadLimit(maxControlMessageBytes)

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	stopLiveness := startLiveness(conn, &writeMu, logger)
	defer stopLiveness()

	session := &models.WsSession{State: models.WsAwaitingInfo}

	info, err := waitForFileInfo(conn)
	if err != nil {
		_ = writeJSON(serverError{Type: "error", Message: "expected file_info message"})
		logger.WithError(err).Debug("ingest: did not receive file_info")
		return
	}
	if info.FileSize < 0 || info.FileSize > maxFileBytes {
		_ = writeJSON(serverRejected{Type: "rejected", Reason: "file too large"})
		return
	}
	session.State = models.WsAwaitingApproval
	session.FileInfo = models.WsFileInfo{FileName: info.FileName, FileSize: info.FileSize}

	ctx, cancel := context.WithTimeout(context.Background(), approvalTimeout)
	defer cancel()

	accepted, err := s.approver.Approve(ctx, info.FileName, info.FileSize, remoteAddr)
	if err != nil || !accepted {
		reason := "declined by user"
		if err != nil {
			reason = "approval timed out"
		}
		_ = writeJSON(serverRejected{Type: "rejected", Reason: reason})
		return
	}

	finalPath, partPath, err := s.destination(info.FileName)
	if err != nil {
		_ = writeJSON(serverRejected{Type: "rejected", Reason: "invalid_name"})
		return
	}

	if err := writeJSON(serverAccepted{Type: "accepted"}); err != nil {
		return
	}
	session.State = models.WsStreaming

	if err := receiveToFile(conn, partPath, info.FileSize, session, writeJSON, logger); err != nil {
		_ = writeJSON(serverError{Type: "error", Message: err.Error()})
		os.Remove(partPath)
		session.State = models.WsFailed
		return
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		_ = writeJSON(serverError{Type: "error", Message: "finalize failed"})
		os.Remove(partPath)
		session.State = models.WsFailed
		return
	}

	session.State = models.WsDone
	_ = writeJSON(serverComplete{Type: "complete"})
	if s.onComplete != nil {
		s.onComplete.UploadComplete(finalPath, info.FileName, info.FileSize)
	}
}

func waitForFileInfo(conn *websocket.Conn) (clientFileInfo, error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return clientFileInfo{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var info clientFileInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		if info.Type == "file_info" {
			return info, nil
		}
	}
}

func receiveToFile(conn *websocket.Conn, partPath string, totalBytes int64, session *models.WsSession, writeJSON func(any) error, logger *log.Entry) error {
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var received int64
	var lastProgress time.Time
	for received < totalBytes {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType == websocket.CloseMessage {
			return errUploadAborted
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		if _, err := f.Write(data); err != nil {
			return err
		}
		received += int64(len(data))
		session.ReceivedBytes = received

		if time.Since(lastProgress) >= progressInterval || received >= totalBytes {
			if err := writeJSON(serverProgress{Type: "progress", ReceivedBytes: received}); err != nil {
				logger.WithError(err).Debug("ingest: progress write failed")
			}
			lastProgress = time.Now()
		}
	}
	return nil
}

// startLiveness runs the server-initiated ping loop and returns a stop
// function. The connection's pong handler resets the missed-pong
// counter; three consecutive misses close the connection per spec.md
// §4.7.
func startLiveness(conn *websocket.Conn, writeMu *sync.Mutex, logger *log.Entry) func() {
	var missed atomic.Int32
	conn.SetPongHandler(func(string) error {
		missed.Store(0)
		return nil
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if missed.Add(1) > maxMissedPongs {
					logger.Warn("ingest: closing connection after missed pongs")
					_ = conn.Close()
					return
				}
				writeMu.Lock()
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
