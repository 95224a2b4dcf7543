// Command p2pxfer wires C1-C11 together into a running peer endpoint,
// grounded on the teacher's main.go (X0RA-GoSend/main.go): load or
// create the runtime config, prepare identity and storage, start
// discovery best-effort, then block on the accept loop until an
// interrupt signal arrives. Two additional subcommands (pair, send)
// let this same binary act as the initiating side of a pairing or
// transfer, rather than only ever responding to inbound connections.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"p2pxfer/config"
	"p2pxfer/discovery"
	"p2pxfer/identity"
	"p2pxfer/ingest"
	"p2pxfer/models"
	"p2pxfer/orchestrator"
	"p2pxfer/pairing"
	"p2pxfer/progress"
	"p2pxfer/sanitize"
	"p2pxfer/storage"
	"p2pxfer/transfer"
	"p2pxfer/transport"
)

func main() {
	logger := log.StandardLogger()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		runServe(logger)
	case "pair":
		runPair(logger, args)
	case "send":
		runSend(logger, args)
	default:
		fmt.Fprintf(os.Stderr, "usage: p2pxfer [serve|pair <addr>|send <addr> <endpoint-hex> <file>...]\n")
		os.Exit(2)
	}
}

// runServe runs as the accepting side: it binds the transport endpoint,
// starts discovery and the HTTP ingest surface, and answers inbound
// pairing and transfer connections until interrupted.
func runServe(logger *log.Logger) {
	cfg, secret, endpointID := mustBootstrap(logger)

	peerStore, history := mustOpenStores(logger, cfg.ConfigDir)
	defer func() {
		if err := history.Close(); err != nil {
			logger.Warnf("history store close error: %v", err)
		}
	}()

	endpoint, err := transport.Bind(cfg.BindAddress, secret.Ed25519PrivateKey())
	if err != nil {
		logger.Fatalf("startup failed while binding transport: %v", err)
	}
	defer endpoint.Close()

	fmt.Printf("Endpoint ID:     %s\n", endpointID)
	fmt.Printf("Bind Address:    %s\n", endpoint.LocalAddr())
	fmt.Printf("Config Dir:      %s\n", cfg.ConfigDir)
	fmt.Printf("Download Dir:    %s\n", cfg.DownloadDir)

	discoveryService, err := discovery.Start(discovery.Config{
		SelfEndpointID: endpointID,
		DisplayName:    hostDisplayName(),
		ListeningPort:  udpPort(endpoint),
	})
	if err != nil {
		logger.Warnf("discovery startup failed, continuing without LAN discovery: %v", err)
	} else {
		defer discoveryService.Stop()
		fmt.Println("Discovery:       running")
		go logDiscoveryEvents(logger, discoveryService.Scanner.Events())
	}

	bus := progress.NewBus()
	orch := orchestrator.New(endpoint, cfg.DownloadDir, cfg.MaxConcurrentFiles, cfg.MaxConcurrentSessions, bus)

	ingestSrv := ingest.New(cfg.IngestBindAddress, cfg.DownloadDir, cliApprover{}, loggingCompletion{logger: logger}, log.NewEntry(logger))

	// The ingest server's listener isn't bound until Start runs below, so
	// when cfg.IngestBindAddress has port 0 this prints the configured
	// host:port rather than the OS-assigned one.
	uploadToken, err := ingestSrv.MintToken()
	if err != nil {
		logger.Warnf("failed to mint browser-upload token: %v", err)
	} else {
		fmt.Printf("Upload Token:    %s (at http://%s/<token>)\n", uploadToken, cfg.IngestBindAddress)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := ingestSrv.Start(ctx); err != nil {
			logger.Warnf("ingest server stopped: %v", err)
		}
	}()

	guard := pairing.NewGuard()
	go acceptLoop(ctx, logger, endpoint, orch, peerStore, history, guard)

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
}

// runPair initiates pairing with a peer already listening at addr.
func runPair(logger *log.Logger, args []string) {
	if len(args) != 1 {
		logger.Fatalf("usage: p2pxfer pair <addr>")
	}
	addr := args[0]

	cfg, secret, endpointID := mustBootstrap(logger)
	peerStore, history := mustOpenStores(logger, cfg.ConfigDir)
	defer history.Close()

	endpoint, err := transport.Bind("0.0.0.0:0", secret.Ed25519PrivateKey())
	if err != nil {
		logger.Fatalf("bind transport: %v", err)
	}
	defer endpoint.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := endpoint.Connect(ctx, addr, pairing.ALPN, models.EndpointId{})
	if err != nil {
		logger.Fatalf("connect to %s: %v", addr, err)
	}
	defer conn.CloseWithError(0, "pairing complete")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		logger.Fatalf("open pairing stream: %v", err)
	}
	defer stream.Close()

	record, err := pairing.Initiate(ctx, stream, endpointID, hostDisplayName(), cliConfirmer{})
	if err != nil {
		logger.Warnf("pairing with %s failed: %v", addr, err)
		_ = history.LogSecurityEvent(securityEventFromPairingError(conn.PeerID, err))
		os.Exit(1)
	}

	if err := peerStore.Upsert(record); err != nil {
		logger.Fatalf("persist peer record: %v", err)
	}
	fmt.Printf("Paired with %s (%s)\n", record.DisplayName, record.EndpointID)
}

// runSend initiates an outbound transfer of one or more files to an
// already-paired peer at addr.
func runSend(logger *log.Logger, args []string) {
	if len(args) < 3 {
		logger.Fatalf("usage: p2pxfer send <addr> <endpoint-hex> <file>...")
	}
	addr, peerHex, paths := args[0], args[1], args[2:]

	peerID, err := models.ParseEndpointId(peerHex)
	if err != nil {
		logger.Fatalf("invalid endpoint id %q: %v", peerHex, err)
	}

	cfg, secret, _ := mustBootstrap(logger)
	_, history := mustOpenStores(logger, cfg.ConfigDir)
	defer history.Close()

	endpoint, err := transport.Bind("0.0.0.0:0", secret.Ed25519PrivateKey())
	if err != nil {
		logger.Fatalf("bind transport: %v", err)
	}
	defer endpoint.Close()

	bus := progress.NewBus()
	sub := bus.Subscribe()
	go func() {
		for ev := range sub.Events {
			if ev.FileIndex == -1 {
				fmt.Printf("\rprogress: %d/%d bytes", ev.BytesTransferred, ev.TotalBytes)
			}
		}
	}()
	defer sub.Unsubscribe()

	orch := orchestrator.New(endpoint, cfg.DownloadDir, cfg.MaxConcurrentFiles, cfg.MaxConcurrentSessions, bus)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, outcomes, err := orch.Send(ctx, addr, peerID, paths)
	fmt.Println()
	if err != nil {
		logger.Fatalf("send failed: %v", err)
	}
	recordSessionHistory(history, logger, session, outcomes)
	fmt.Printf("Session %s finished as %s\n", session.SessionID, session.State)
}

func acceptLoop(ctx context.Context, logger *log.Logger, endpoint *transport.Endpoint, orch *orchestrator.Orchestrator, peerStore *storage.PeerStore, history *storage.HistoryStore, guard *pairing.Guard) {
	for {
		conn, err := endpoint.Accept(ctx, []string{pairing.ALPN, transfer.ALPN})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("accept failed: %v", err)
			continue
		}

		switch conn.ConnectionState().TLS.NegotiatedProtocol {
		case pairing.ALPN:
			go handleIncomingPairing(ctx, logger, conn, endpoint, peerStore, history, guard)
		case transfer.ALPN:
			go handleIncomingTransfer(ctx, logger, conn, orch, history)
		default:
			_ = conn.CloseWithError(0, "unsupported protocol")
		}
	}
}

func handleIncomingPairing(ctx context.Context, logger *log.Logger, conn *transport.Connection, endpoint *transport.Endpoint, peerStore *storage.PeerStore, history *storage.HistoryStore, guard *pairing.Guard) {
	slot, ok := guard.TryAcquire()
	if !ok {
		_ = conn.CloseWithError(0, "too many concurrent pairing attempts")
		return
	}
	defer slot.Release()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		logger.Warnf("pairing: accept stream failed: %v", err)
		return
	}
	defer stream.Close()

	record, err := pairing.Respond(ctx, stream, endpoint.ID(), hostDisplayName(), cliConfirmer{})
	if err != nil {
		logger.Warnf("pairing with %s failed: %v", conn.PeerID, err)
		_ = history.LogSecurityEvent(securityEventFromPairingError(conn.PeerID, err))
		return
	}

	if err := peerStore.Upsert(record); err != nil {
		logger.Warnf("pairing: failed to persist peer record: %v", err)
		return
	}
	logger.Infof("paired with %s (%s)", record.DisplayName, record.EndpointID)
}

func handleIncomingTransfer(ctx context.Context, logger *log.Logger, conn *transport.Connection, orch *orchestrator.Orchestrator, history *storage.HistoryStore) {
	session, outcomes, err := orch.Receive(ctx, conn, sanitize.Leaf)
	if err != nil {
		logger.Warnf("transfer from %s failed: %v", conn.PeerID, err)
		return
	}
	recordSessionHistory(history, logger, session, outcomes)
}

func logDiscoveryEvents(logger *log.Logger, events <-chan discovery.Event) {
	for event := range events {
		switch event.Type {
		case discovery.EventPeerUpserted:
			logger.Infof("discovery: peer available id=%s name=%q addr=%v port=%d",
				event.Peer.EndpointIDHint, event.Peer.DisplayName, event.Peer.Addresses, event.Peer.Port)
		case discovery.EventPeerRemoved:
			logger.Infof("discovery: peer removed id=%s", event.Peer.EndpointIDHint)
		}
	}
}

// recordSessionHistory persists a terminal session's outcome to the
// history store (C10). A failure here never invalidates the transfer
// itself: it is logged and swallowed, since history is purely
// additive telemetry.
func recordSessionHistory(history *storage.HistoryStore, logger *log.Logger, session *models.TransferSession, outcomes []models.FileOutcome) {
	if session == nil {
		return
	}
	var totalBytes int64
	for _, f := range session.Files {
		totalBytes += f.SizeBytes
	}
	rec := models.SessionRecord{
		SessionID:      session.SessionID,
		PeerEndpointID: session.Peer,
		Direction:      session.Direction,
		FileCount:      len(session.Files),
		TotalBytes:     totalBytes,
		Outcome:        session.State,
		StartedAt:      session.StartedAt,
		EndedAt:        time.Now(),
	}
	if err := history.RecordSession(rec); err != nil {
		logger.Warnf("failed to record session history: %v", err)
	}
	for _, outcome := range outcomes {
		if !outcome.OK {
			_ = history.LogSecurityEvent(models.SecurityEvent{
				EventType:      "file_transfer_failed",
				PeerEndpointID: &session.Peer,
				Detail:         fmt.Sprintf("file index %d: %s", outcome.FileIndex, outcome.Reason),
				Severity:       models.SecuritySeverityWarning,
			})
		}
	}
}

func securityEventFromPairingError(peer models.EndpointId, err error) models.SecurityEvent {
	evt := models.SecurityEvent{
		EventType: "pairing_failed",
		Detail:    err.Error(),
		Severity:  models.SecuritySeverityWarning,
	}
	if !peer.IsZero() {
		evt.PeerEndpointID = &peer
	}
	return evt
}

func mustBootstrap(logger *log.Logger) (*config.RuntimeConfig, identity.SecretKey, models.EndpointId) {
	cfg, err := config.LoadOrCreate()
	if err != nil {
		logger.Fatalf("startup failed while loading config: %v", err)
	}
	secret, endpointID, err := identity.LoadOrGenerate(cfg.ConfigDir)
	if err != nil {
		logger.Fatalf("startup failed while preparing identity: %v", err)
	}
	return cfg, secret, endpointID
}

func mustOpenStores(logger *log.Logger, configDir string) (*storage.PeerStore, *storage.HistoryStore) {
	peerStore, err := storage.OpenPeerStore(configDir)
	if err != nil {
		logger.Fatalf("startup failed while opening peer store: %v", err)
	}
	history, err := storage.OpenHistoryStore(configDir)
	if err != nil {
		logger.Fatalf("startup failed while opening history store: %v", err)
	}
	return peerStore, history
}

func hostDisplayName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "p2pxfer"
	}
	return name
}

func udpPort(endpoint *transport.Endpoint) int {
	_, portStr, err := net.SplitHostPort(endpoint.LocalAddr().String())
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
