package transport

import (
	"crypto/ed25519"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/require"

	"p2pxfer/models"
)

func TestSelfSignedCertEmbedsEndpointID(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	cert, err := selfSignedCert(priv)
	require.NoError(t, err)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)

	id, err := certEndpointID(parsed)
	require.NoError(t, err)

	var want models.EndpointId
	copy(want[:], priv.Public().(ed25519.PublicKey))
	require.Equal(t, want, id)
}

func TestVerifyPeerIdentityAcceptsExpectedAndRejectsMismatch(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	cert, err := selfSignedCert(priv)
	require.NoError(t, err)

	var correct models.EndpointId
	copy(correct[:], priv.Public().(ed25519.PublicKey))

	verify := verifyPeerIdentity(correct)
	require.NoError(t, verify([][]byte{cert.Certificate[0]}, nil))

	var wrong models.EndpointId
	wrong[0] = 0xFF
	verify = verifyPeerIdentity(wrong)
	require.Error(t, verify([][]byte{cert.Certificate[0]}, nil))
}

func TestVerifyPeerIdentitySkipsCheckWhenExpectationIsZero(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	cert, err := selfSignedCert(priv)
	require.NoError(t, err)

	verify := verifyPeerIdentity(models.EndpointId{})
	require.NoError(t, verify([][]byte{cert.Certificate[0]}, nil))
}
