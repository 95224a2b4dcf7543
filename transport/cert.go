package transport

import (
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"p2pxfer/models"
)

// selfSignedCert builds a self-signed Ed25519 TLS certificate binding the
// endpoint's public key into the certificate itself, so a peer can verify
// "this connection terminates at the EndpointId I dialed" without a CA,
// adapted from the teacher's Ed25519 keypair handling in crypto/keypair.go
// (there used to sign application messages; here used as a TLS identity).
func selfSignedCert(priv ed25519.PrivateKey) (tls.Certificate, error) {
	pub := priv.Public().(ed25519.PublicKey)

	serial := new(big.Int).SetBytes(pub[:8])
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: fmt.Sprintf("%x", pub)},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(nil, template, template, pub, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("transport: create self-signed cert: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

// certEndpointID extracts the EndpointId embedded in a peer's leaf
// certificate's Ed25519 public key.
func certEndpointID(cert *x509.Certificate) (models.EndpointId, error) {
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return models.EndpointId{}, fmt.Errorf("transport: peer certificate key is not Ed25519")
	}

	var id models.EndpointId
	if len(pub) != len(id) {
		return models.EndpointId{}, fmt.Errorf("transport: peer certificate key has unexpected length %d", len(pub))
	}
	copy(id[:], pub)
	return id, nil
}

// verifyPeerIdentity builds a tls.Config.VerifyPeerCertificate callback that
// rejects the handshake unless the peer's certificate key matches want (the
// empty EndpointId disables the check, used when accepting without a
// pinned expectation — pairing establishes trust afterward).
func verifyPeerIdentity(want models.EndpointId) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("transport: no peer certificate presented")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("transport: parse peer certificate: %w", err)
		}
		got, err := certEndpointID(cert)
		if err != nil {
			return err
		}
		if want.IsZero() {
			return nil
		}
		if got != want {
			return fmt.Errorf("transport: peer presented endpoint id %s, want %s", got, want)
		}
		return nil
	}
}
