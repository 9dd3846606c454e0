package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// sha256File hashes a file's raw bytes, grounded on the teacher's
// calculateHash (internal/world/fs.go) but without the hashing-vs-cache
// split: the manifest package owns cache-hit decisions.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
