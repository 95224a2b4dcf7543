package sanitize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeafStripsDirectoryComponents(t *testing.T) {
	leaf, err := Leaf("../../etc/passwd")
	require.NoError(t, err)
	require.Equal(t, "passwd", leaf)
}

func TestLeafHandlesBackslashSeparatorsRegardlessOfHostOS(t *testing.T) {
	leaf, err := Leaf(`C:\Users\victim\report.pdf`)
	require.NoError(t, err)
	require.Equal(t, "report.pdf", leaf)
}

func TestLeafRejectsEmptyDotAndDotDot(t *testing.T) {
	for _, name := range []string{"", ".", "..", "///", "\\\\"} {
		_, err := Leaf(name)
		require.ErrorIs(t, err, ErrRejected, "input %q", name)
	}
}

func TestLeafRejectsReservedWindowsDeviceNames(t *testing.T) {
	for _, name := range []string{"CON", "con.txt", "NUL", "COM1", "lpt9.log"} {
		_, err := Leaf(name)
		require.ErrorIs(t, err, ErrRejected, "input %q", name)
	}
}

func TestLeafRejectsNamesOverByteLimit(t *testing.T) {
	long := make([]byte, maxNameBytes+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Leaf(string(long))
	require.ErrorIs(t, err, ErrRejected)
}

func TestLeafStripsControlCharactersAndCollapsesWhitespace(t *testing.T) {
	leaf, err := Leaf("evil\x00name\t\t here.txt")
	require.NoError(t, err)
	require.NotContains(t, leaf, "\x00")
	require.Equal(t, "evilname here.txt", leaf)
}

func TestDestinationAvoidsCollisionWithSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("x"), 0o644))

	dest, err := Destination(dir, "report.pdf")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "report (1).pdf"), dest)

	require.NoError(t, os.WriteFile(dest, []byte("x"), 0o644))

	dest2, err := Destination(dir, "report.pdf")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "report (2).pdf"), dest2)
}

func TestDestinationRejectsUnsafeName(t *testing.T) {
	dir := t.TempDir()
	_, err := Destination(dir, "..")
	require.ErrorIs(t, err, ErrRejected)
}
