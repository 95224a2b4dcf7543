package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"p2pxfer/models"
)

// Endpoint is the bound local side of the provided transport surface
// (spec.md §6.3): `bind(secret_key) -> Endpoint`, `connect`, `accept`.
type Endpoint struct {
	id        models.EndpointId
	tlsConf   *tls.Config
	transport *quic.Transport
	conn      net.PacketConn

	listenerMu sync.Mutex
	listener   *quic.Listener
}

// Connection wraps a quic.Connection, exposing open_bi/open_uni/accept_bi/
// accept_uni per spec.md §6.3.
type Connection struct {
	quic.Connection
	PeerID models.EndpointId
}

// Bind opens a UDP socket at bindAddr and returns an Endpoint identified by
// the EndpointId derived from priv, ready to Connect or Accept.
func Bind(bindAddr string, priv ed25519.PrivateKey) (*Endpoint, error) {
	cert, err := selfSignedCert(priv)
	if err != nil {
		return nil, err
	}

	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve bind address %q: %w", bindAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %q: %w", bindAddr, err)
	}

	var id models.EndpointId
	pub := priv.Public().(ed25519.PublicKey)
	copy(id[:], pub)

	return &Endpoint{
		id:   id,
		conn: conn,
		tlsConf: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			InsecureSkipVerify: true, // identity is verified via VerifyPeerCertificate below, not the CA chain
			ClientAuth:         tls.RequireAnyClientCert,
		},
		transport: &quic.Transport{Conn: conn},
	}, nil
}

// ID returns the endpoint's own EndpointId.
func (e *Endpoint) ID() models.EndpointId {
	return e.id
}

// LocalAddr returns the bound UDP address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// Close releases the listener, if one was ever created, and the
// underlying UDP socket.
func (e *Endpoint) Close() error {
	e.listenerMu.Lock()
	listener := e.listener
	e.listenerMu.Unlock()
	if listener != nil {
		_ = listener.Close()
	}
	return e.transport.Close()
}

// DefaultConnectTimeout bounds how long Connect waits for the QUIC
// handshake to complete when the caller's ctx carries no deadline.
const DefaultConnectTimeout = 5 * time.Second

// Connect dials a peer at addr, pinning the TLS verification to expectPeer
// when non-zero (pairing connections pass the zero EndpointId since the
// peer's identity is not yet known).
func (e *Endpoint) Connect(ctx context.Context, addr string, alpn string, expectPeer models.EndpointId) (*Connection, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve peer address %q: %w", addr, err)
	}

	conf := e.tlsConf.Clone()
	conf.NextProtos = []string{alpn}
	conf.VerifyPeerCertificate = verifyPeerIdentity(expectPeer)

	qconn, err := e.transport.Dial(ctx, udpAddr, conf, transferQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: connect to %s: %w", addr, err)
	}

	peerID, err := peerIDFromConnection(qconn)
	if err != nil {
		_ = qconn.CloseWithError(0, "identity verification failed")
		return nil, err
	}

	return &Connection{Connection: qconn, PeerID: peerID}, nil
}

// Accept waits for one inbound connection on the given ALPN set. A
// quic.Transport hosts a single listener, so the listener is created once
// (on the first call) and reused for every subsequent Accept; later calls
// ignore alpns and keep listening on the set the first call established.
func (e *Endpoint) Accept(ctx context.Context, alpns []string) (*Connection, error) {
	listener, err := e.ensureListener(alpns)
	if err != nil {
		return nil, err
	}

	qconn, err := listener.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}

	peerID, err := peerIDFromConnection(qconn)
	if err != nil {
		_ = qconn.CloseWithError(0, "identity verification failed")
		return nil, err
	}

	return &Connection{Connection: qconn, PeerID: peerID}, nil
}

func (e *Endpoint) ensureListener(alpns []string) (*quic.Listener, error) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()

	if e.listener != nil {
		return e.listener, nil
	}

	conf := e.tlsConf.Clone()
	conf.NextProtos = alpns
	conf.VerifyPeerCertificate = verifyPeerIdentity(models.EndpointId{})

	listener, err := e.transport.Listen(conf, transferQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	e.listener = listener
	return listener, nil
}

func peerIDFromConnection(qconn quic.Connection) (models.EndpointId, error) {
	state := qconn.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		return models.EndpointId{}, fmt.Errorf("transport: peer presented no certificate")
	}
	return certEndpointID(state.PeerCertificates[0])
}

func transferQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 0,
	}
}

// OpenControlStream opens the session's one bidirectional control stream.
func (c *Connection) OpenControlStream(ctx context.Context) (quic.Stream, error) {
	return c.OpenStreamSync(ctx)
}

// AcceptControlStream accepts the peer-opened bidirectional control stream.
func (c *Connection) AcceptControlStream(ctx context.Context) (quic.Stream, error) {
	return c.AcceptStream(ctx)
}

// OpenFileStream opens one unidirectional data stream for a single file.
func (c *Connection) OpenFileStream(ctx context.Context) (quic.SendStream, error) {
	return c.OpenUniStreamSync(ctx)
}

// AcceptFileStream accepts one peer-opened unidirectional data stream.
func (c *Connection) AcceptFileStream(ctx context.Context) (quic.ReceiveStream, error) {
	return c.AcceptUniStream(ctx)
}
