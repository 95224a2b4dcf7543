package identity

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrGenerateCreatesAndPersists(t *testing.T) {
	dir := t.TempDir()

	key, id, err := LoadOrGenerate(dir)
	require.NoError(t, err)
	require.False(t, id.IsZero())
	require.Equal(t, id, key.EndpointID())

	info, err := os.Stat(filepath.Join(dir, KeyFileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadOrGenerateIsStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	_, firstID, err := LoadOrGenerate(dir)
	require.NoError(t, err)

	_, secondID, err := LoadOrGenerate(dir)
	require.NoError(t, err)

	require.Equal(t, firstID, secondID)
}

func TestLoadOrGenerateRejectsCorruptKeyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyFileName), []byte("short"), 0o600))

	_, _, err := LoadOrGenerate(dir)
	require.Error(t, err)

	var idErr *IdentityError
	require.ErrorAs(t, err, &idErr)
	require.Equal(t, ErrCorrupt, idErr.Kind)
}

func TestEndpointIDMatchesPublicKeyInvariant(t *testing.T) {
	dir := t.TempDir()

	key, id, err := LoadOrGenerate(dir)
	require.NoError(t, err)
	require.Equal(t, key.EndpointID(), id)

	pub := key.Ed25519PrivateKey().Public().(ed25519.PublicKey)
	require.Equal(t, []byte(pub), id[:])
}
