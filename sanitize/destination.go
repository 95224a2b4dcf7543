package sanitize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Destination joins downloadDir with the sanitized leaf of rawName, appending
// " (n)" before the extension with the smallest positive n that avoids an
// existing file, mirroring the collision-avoidance the teacher performs
// against its FilesDir in network/file_transfer.go's prefixedFilename.
func Destination(downloadDir, rawName string) (string, error) {
	leaf, err := Leaf(rawName)
	if err != nil {
		return "", err
	}

	candidate := filepath.Join(downloadDir, leaf)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}

	ext := filepath.Ext(leaf)
	stem := strings.TrimSuffix(leaf, ext)

	for n := 1; ; n++ {
		name := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		candidate = filepath.Join(downloadDir, name)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
}
