package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"

	"p2pxfer/models"
)

func testEndpointID(b byte) models.EndpointId {
	var id models.EndpointId
	id[0] = b
	return id
}

func testEntry(endpointHex, instance string, port int, ip string) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: DefaultService, Domain: DefaultDomain},
		HostName:      instance + ".local",
		Port:          port,
		Text:          []string{"endpoint_id=" + endpointHex},
		AddrIPv4:      []net.IP{net.ParseIP(ip)},
	}
}

func TestStartBroadcasterBuildsEndpointTXTRecord(t *testing.T) {
	var gotInstance, gotService, gotDomain string
	var gotPort int
	var gotTXT []string

	cfg := Config{
		SelfEndpointID: testEndpointID(0xAB),
		DisplayName:    "Alice",
		ListeningPort:  4242,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance, gotService, gotDomain, gotPort = instance, service, domain, port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	b, err := StartBroadcaster(cfg)
	if err != nil {
		t.Fatalf("StartBroadcaster: %v", err)
	}
	if b == nil {
		t.Fatal("expected broadcaster")
	}
	if gotInstance != "Alice" || gotService != DefaultService || gotDomain != DefaultDomain || gotPort != 4242 {
		t.Fatalf("unexpected registration: %s %s %s %d", gotInstance, gotService, gotDomain, gotPort)
	}
	if len(gotTXT) != 1 || gotTXT[0] != "endpoint_id="+cfg.endpointHex() {
		t.Fatalf("unexpected TXT records: %v", gotTXT)
	}
}

func TestStartBroadcasterRejectsMissingDisplayName(t *testing.T) {
	_, err := StartBroadcaster(Config{SelfEndpointID: testEndpointID(1), ListeningPort: 1})
	if err == nil {
		t.Fatal("expected error for missing display name")
	}
}

func TestPeerScannerFiltersSelfAndEmitsUpsert(t *testing.T) {
	self := testEndpointID(0x01)
	peerHex := testEndpointID(0x02).String()

	cfg := Config{
		SelfEndpointID:  self,
		RefreshInterval: time.Hour,
		ScanTimeout:     30 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			entries <- testEntry(self.String(), "Self", 1, "10.0.0.1")
			entries <- testEntry(peerHex, "Bob", 2, "10.0.0.2")
			<-ctx.Done()
			close(entries)
			return nil
		},
	}

	scanner, err := NewPeerScanner(cfg)
	if err != nil {
		t.Fatalf("NewPeerScanner: %v", err)
	}
	if err := scanner.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer scanner.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		peers := scanner.ListPeers()
		if len(peers) == 1 && peers[0].EndpointIDHint == peerHex {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected exactly one non-self peer, got %v", scanner.ListPeers())
}

func TestPeerScannerEmitsRemovalOnStaleEntry(t *testing.T) {
	self := testEndpointID(0x01)
	peerHex := testEndpointID(0x02).String()
	round := 0

	cfg := Config{
		SelfEndpointID:  self,
		RefreshInterval: 20 * time.Millisecond,
		ScanTimeout:     10 * time.Millisecond,
		StaleAfter:      40 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			round++
			if round == 1 {
				entries <- testEntry(peerHex, "Bob", 2, "10.0.0.2")
			}
			<-ctx.Done()
			close(entries)
			return nil
		},
	}

	scanner, err := NewPeerScanner(cfg)
	if err != nil {
		t.Fatalf("NewPeerScanner: %v", err)
	}
	if err := scanner.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer scanner.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-scanner.Events():
			if evt.Type == EventPeerRemoved && evt.Peer.EndpointIDHint == peerHex {
				return
			}
		case <-deadline:
			t.Fatal("expected a removal event for the stale peer")
		}
	}
}
