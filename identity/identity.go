// Package identity loads or generates the stable 32-byte secret key that
// derives an endpoint's public EndpointId, mirroring the load/generate/persist
// pattern of the teacher's crypto.EnsureEd25519KeyPair.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"p2pxfer/models"
)

// KeyFileName is the on-disk file name for the persisted secret key.
const KeyFileName = "node_secret.key"

// ErrorKind distinguishes the reasons load_or_generate can fail.
type ErrorKind string

const (
	ErrCorrupt              ErrorKind = "corrupt"
	ErrIO                   ErrorKind = "io"
	ErrPermissionsUnsettable ErrorKind = "permissions_unsettable"
)

// IdentityError is returned by Load/Generate on any failure.
type IdentityError struct {
	Kind ErrorKind
	Err  error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("identity: %s: %v", e.Kind, e.Err)
}

func (e *IdentityError) Unwrap() error {
	return e.Err
}

func newErr(kind ErrorKind, err error) *IdentityError {
	return &IdentityError{Kind: kind, Err: err}
}

// SecretKey is the 32-byte private half of an EndpointId. It is used only
// as an Ed25519 seed and never leaves the process.
type SecretKey [models.EndpointIDSize]byte

// EndpointID derives the public EndpointId for this secret key.
func (k SecretKey) EndpointID() models.EndpointId {
	priv := ed25519.NewKeyFromSeed(k[:])
	pub := priv.Public().(ed25519.PublicKey)

	var id models.EndpointId
	copy(id[:], pub)
	return id
}

// Ed25519PrivateKey expands the seed into a full Ed25519 private key, for use
// by the transport layer when constructing a self-signed TLS identity.
func (k SecretKey) Ed25519PrivateKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(k[:])
}

// LoadOrGenerate loads the secret key from <config_dir>/node_secret.key,
// generating and persisting a new one from the OS CSPRNG if absent.
func LoadOrGenerate(configDir string) (SecretKey, models.EndpointId, error) {
	keyPath := filepath.Join(configDir, KeyFileName)

	key, err := load(keyPath)
	if err == nil {
		return key, key.EndpointID(), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return SecretKey{}, models.EndpointId{}, err
	}

	key, err = generate(keyPath)
	if err != nil {
		return SecretKey{}, models.EndpointId{}, err
	}
	return key, key.EndpointID(), nil
}

func load(keyPath string) (SecretKey, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return SecretKey{}, err
		}
		return SecretKey{}, newErr(ErrIO, fmt.Errorf("read secret key: %w", err))
	}

	if len(raw) != models.EndpointIDSize {
		return SecretKey{}, newErr(ErrCorrupt, fmt.Errorf("secret key file is %d bytes, want %d", len(raw), models.EndpointIDSize))
	}

	var key SecretKey
	copy(key[:], raw)
	return key, nil
}

func generate(keyPath string) (SecretKey, error) {
	var key SecretKey
	if _, err := rand.Read(key[:]); err != nil {
		return SecretKey{}, newErr(ErrIO, fmt.Errorf("read CSPRNG: %w", err))
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return SecretKey{}, newErr(ErrIO, fmt.Errorf("create config directory: %w", err))
	}

	if err := os.WriteFile(keyPath, key[:], 0o600); err != nil {
		return SecretKey{}, newErr(ErrIO, fmt.Errorf("write secret key: %w", err))
	}

	if err := os.Chmod(keyPath, 0o600); err != nil {
		return SecretKey{}, newErr(ErrPermissionsUnsettable, fmt.Errorf("restrict secret key permissions: %w", err))
	}

	return key, nil
}
