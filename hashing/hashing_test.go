package hashing

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestFileDigestIsDeterministicForSmallFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "small.bin", []byte("hello world"))

	d1, err := File(context.Background(), path)
	require.NoError(t, err)
	d2, err := File(context.Background(), path)
	require.NoError(t, err)

	require.Equal(t, d1, d2)
	require.NotEmpty(t, d1)
}

func TestFileDigestDiffersForDifferentContent(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.bin", []byte("alpha"))
	b := writeFile(t, dir, "b.bin", []byte("beta"))

	da, err := File(context.Background(), a)
	require.NoError(t, err)
	db, err := File(context.Background(), b)
	require.NoError(t, err)

	require.NotEqual(t, da, db)
}

func TestFileDigestCoversMmapPathForLargeFiles(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("x", mmapThreshold+4096)
	path := writeFile(t, dir, "large.bin", []byte(content))

	d, err := File(context.Background(), path)
	require.NoError(t, err)
	require.NotEmpty(t, d)
}

func TestFileDigestOfEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.bin", nil)

	d, err := File(context.Background(), path)
	require.NoError(t, err)
	require.NotEmpty(t, d)
}

func TestFileRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "small.bin", []byte("hello"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := File(ctx, path)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileReturnsErrorForMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := File(context.Background(), filepath.Join(dir, "missing.bin"))
	require.Error(t, err)
}
