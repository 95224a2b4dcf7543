// Package ingest implements the loopback/LAN-bound HTTP+WebSocket surface
// that lets a browser push a file through the desktop endpoint, grounded
// on the teacher's agent.WebsocketAgent (net/http.Server + gorilla
// websocket.Upgrader, a single HandleFunc wired at construction) and on
// original_source/p2p_core/src/http_share's token-gated upload flow.
package ingest

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"p2pxfer/sanitize"
)

// maxControlMessageBytes bounds both text control frames and binary data
// frames, per spec.md §4.7.
const maxControlMessageBytes = 1 * 1024 * 1024

// maxFileBytes is the largest upload the ingest surface accepts.
const maxFileBytes = 10 * 1024 * 1024 * 1024

// approvalTimeout bounds how long the server waits for the local user's
// decision after file_info arrives, per spec.md §5.
const approvalTimeout = 60 * time.Second

// Approver is consulted once per upload after file_info arrives; it
// returns the local user's accept/decline decision. Implementations
// typically prompt a GUI and block until answered or ctx expires.
type Approver interface {
	Approve(ctx context.Context, fileName string, fileSize int64, fromAddr string) (bool, error)
}

// CompletionHandler is notified once an upload finishes successfully, so
// the caller can hand the file to the orchestrator (C6) as a sender-side
// transfer or store it, per the ingest-mode decision spec.md §9 leaves to
// the token-minting caller.
type CompletionHandler interface {
	UploadComplete(path, fileName string, size int64)
}

// Server is the token-gated HTTP+WebSocket ingest surface of spec.md §4.7.
type Server struct {
	httpServer *http.Server
	tokens     *tokenStore
	downloadDir string
	approver    Approver
	onComplete  CompletionHandler
	upgrader    websocket.Upgrader
	logger      *log.Entry

	wg sync.WaitGroup
}

// New constructs a Server bound to addr (loopback or LAN-only per
// configuration), writing completed uploads under downloadDir.
func New(addr, downloadDir string, approver Approver, onComplete CompletionHandler, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	s := &Server{
		tokens:      newTokenStore(),
		downloadDir: downloadDir,
		approver:    approver,
		onComplete:  onComplete,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.WithField("component", "ingest"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler returns the server's http.Handler, for embedding in a test
// server or a larger mux under the caller's own control.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// MintToken creates a new single-use upload session and returns its
// 128-bit hex URL token, the path segment the caller embeds in a QR code
// or link shown on the desktop.
func (s *Server) MintToken() (string, error) {
	return s.tokens.mint()
}

// Addr returns the listen address the Server was constructed with. When
// that address has port 0 this is not the OS-assigned port.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	err := s.httpServer.ListenAndServe()
	s.wg.Wait()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}
	token := segments[0]

	switch {
	case len(segments) == 2 && segments[1] == "ws":
		s.handleWebSocketUpgrade(w, r, token)
	case len(segments) == 1 || (len(segments) == 2 && segments[1] == ""):
		s.handleUploaderPage(w, r, token)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUploaderPage(w http.ResponseWriter, r *http.Request, token string) {
	if !s.tokens.exists(token) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(uploaderPage))
}

func (s *Server) handleWebSocketUpgrade(w http.ResponseWriter, r *http.Request, token string) {
	logger := s.logger.WithFields(log.Fields{"token": token, "remote": r.RemoteAddr})

	if !s.tokens.claim(token) {
		logger.Warn("rejected websocket upgrade: token unknown or already used")
		http.Error(w, "token invalid or already used", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		s.tokens.revoke(token)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.tokens.revoke(token)
		s.handleUpload(conn, r.RemoteAddr, logger)
	}()
}

func (s *Server) destination(fileName string) (finalPath, partPath string, err error) {
	finalPath, err = sanitize.Destination(s.downloadDir, fileName)
	if err != nil {
		return "", "", err
	}
	return finalPath, finalPath + ".part", nil
}
