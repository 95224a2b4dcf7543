// Package discovery advertises and browses for peer endpoints on the
// local network via mDNS, grounded on the teacher's discovery.Broadcaster/
// PeerScanner/Service trio (X0RA-GoSend/discovery/mdns.go,
// peer_scanner.go) and generalized from the teacher's device-ID/name TXT
// pairing to an EndpointId hex hint per spec.md §4.9.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"p2pxfer/models"
)

// DefaultService is the mDNS service name.
const DefaultService = "_p2pxfer._quic"

// DefaultDomain is the mDNS domain.
const DefaultDomain = "local."

// DefaultRefreshInterval is the background peer scan interval.
const DefaultRefreshInterval = 10 * time.Second

// DefaultScanTimeout bounds each discovery scan.
const DefaultScanTimeout = 3 * time.Second

// DefaultStaleAfter is how long an unseen peer remains listed before a
// removal event is emitted for it.
const DefaultStaleAfter = 30 * time.Second

// EventType identifies a peer discovery update.
type EventType string

const (
	EventPeerUpserted EventType = "peer_upserted"
	EventPeerRemoved  EventType = "peer_removed"
)

// Event carries a discovery update for a UI or CLI consumer.
type Event struct {
	Type EventType
	Peer models.DiscoveredPeer
}

// Error wraps any mDNS registration or browse failure. Per spec.md §7 it
// is always non-fatal: the caller logs it and proceeds without LAN
// discovery, since pairing by direct address remains unaffected.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("discovery: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls the mDNS broadcaster and scanner.
type Config struct {
	Service         string
	Domain          string
	RefreshInterval time.Duration
	ScanTimeout     time.Duration
	StaleAfter      time.Duration

	SelfEndpointID models.EndpointId
	DisplayName    string
	ListeningPort  int

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultRefreshInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = DefaultStaleAfter
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) endpointHex() string {
	return c.SelfEndpointID.String()
}

// Broadcaster advertises local endpoint presence via mDNS.
type Broadcaster struct {
	server *zeroconf.Server
}

// StartBroadcaster registers and starts mDNS broadcast of the local
// endpoint. It returns *Error, never a bare error, so callers can treat
// every failure as the non-fatal DiscoveryError spec.md §7 describes.
func StartBroadcaster(config Config) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.DisplayName) == "" {
		return nil, &Error{Op: "broadcast", Err: errors.New("display name is required")}
	}
	if cfg.ListeningPort <= 0 {
		return nil, &Error{Op: "broadcast", Err: errors.New("listening port must be > 0")}
	}

	txt := []string{"endpoint_id=" + cfg.endpointHex()}
	server, err := cfg.registerFn(cfg.DisplayName, cfg.Service, cfg.Domain, cfg.ListeningPort, txt, nil)
	if err != nil {
		return nil, &Error{Op: "broadcast", Err: err}
	}
	return &Broadcaster{server: server}, nil
}

// Stop stops mDNS broadcasting.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}

// Service coordinates an mDNS broadcaster and scanner started together.
type Service struct {
	Broadcaster *Broadcaster
	Scanner     *PeerScanner
}

// Start starts both broadcaster and scanner from one Config. A
// broadcast failure is non-fatal: the scanner still starts, since
// browsing for peers and being found by them are independent.
func Start(config Config) (*Service, error) {
	cfg := config.withDefaults()

	broadcaster, broadcastErr := StartBroadcaster(cfg)

	scanner, err := NewPeerScanner(cfg)
	if err != nil {
		return nil, err
	}
	if err := scanner.Start(); err != nil {
		return nil, err
	}

	svc := &Service{Broadcaster: broadcaster, Scanner: scanner}
	if broadcastErr != nil {
		return svc, broadcastErr
	}
	return svc, nil
}

// Stop stops scanner and broadcaster.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	if s.Scanner != nil {
		s.Scanner.Stop()
	}
	if s.Broadcaster != nil {
		s.Broadcaster.Stop()
	}
}

// PeerScanner browses for peers with periodic mDNS scans.
type PeerScanner struct {
	cfg    Config
	browse browseFunc

	mu    sync.RWMutex
	peers map[string]models.DiscoveredPeer

	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPeerScanner creates a scanner with config defaults applied.
func NewPeerScanner(config Config) (*PeerScanner, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, &Error{Op: "scan", Err: err}
		}
		browse = resolver.Browse
	}

	return &PeerScanner{
		cfg:    cfg,
		browse: browse,
		peers:  make(map[string]models.DiscoveredPeer),
		events: make(chan Event, 128),
	}, nil
}

// Start begins background peer scanning.
func (s *PeerScanner) Start() error {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.loop()
	})
	return nil
}

// Stop stops background scanning.
func (s *PeerScanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		close(s.events)
	})
}

// Events provides asynchronous discovery updates.
func (s *PeerScanner) Events() <-chan Event {
	return s.events
}

// ListPeers returns a snapshot of currently known peers, sorted by
// display name for stable UI rendering.
func (s *PeerScanner) ListPeers() []models.DiscoveredPeer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.DiscoveredPeer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].EndpointIDHint < out[j].EndpointIDHint
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

func (s *PeerScanner) loop() {
	defer s.wg.Done()

	s.runScan()
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	staleTicker := time.NewTicker(s.cfg.StaleAfter / 2)
	defer staleTicker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runScan()
		case <-staleTicker.C:
			s.evictStale()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *PeerScanner) runScan() {
	scanCtx, cancel := context.WithTimeout(s.ctx, s.cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := s.browse(scanCtx, s.cfg.Service, s.cfg.Domain, entries); err != nil {
		return
	}

	for {
		var entry *zeroconf.ServiceEntry
		var ok bool
		select {
		case entry, ok = <-entries:
		case <-scanCtx.Done():
			// Entries the browse already delivered are still consumed; only
			// the wait for further entries ends at the scan timeout.
			select {
			case entry, ok = <-entries:
			default:
				return
			}
		}
		if !ok {
			return
		}
		if entry == nil {
			continue
		}
		peer, ok := parseEntry(entry, s.cfg.endpointHex())
		if !ok {
			continue
		}
		s.upsert(peer)
	}
}

func (s *PeerScanner) upsert(peer models.DiscoveredPeer) {
	s.mu.Lock()
	s.peers[peer.EndpointIDHint] = peer
	s.mu.Unlock()
	s.emit(Event{Type: EventPeerUpserted, Peer: peer})
}

func (s *PeerScanner) evictStale() {
	cutoff := time.Now().Add(-s.cfg.StaleAfter)
	var removed []models.DiscoveredPeer

	s.mu.Lock()
	for id, peer := range s.peers {
		if peer.LastSeen.Before(cutoff) {
			delete(s.peers, id)
			removed = append(removed, peer)
		}
	}
	s.mu.Unlock()

	for _, peer := range removed {
		s.emit(Event{Type: EventPeerRemoved, Peer: peer})
	}
}

func (s *PeerScanner) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

func parseEntry(entry *zeroconf.ServiceEntry, selfHex string) (models.DiscoveredPeer, bool) {
	txt := txtToMap(entry.Text)
	idHint := strings.TrimSpace(txt["endpoint_id"])
	if idHint == "" || idHint == selfHex {
		return models.DiscoveredPeer{}, false
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range append(append([]net.IP{}, entry.AddrIPv4...), entry.AddrIPv6...) {
		if ip != nil {
			addresses = append(addresses, ip.String())
		}
	}
	sort.Strings(addresses)

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = idHint
	}

	return models.DiscoveredPeer{
		EndpointIDHint: idHint,
		DisplayName:    name,
		Addresses:      addresses,
		Port:           entry.Port,
		LastSeen:       time.Now(),
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out
}
