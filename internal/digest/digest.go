// Package digest computes SHA-256 content hashes of local files.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
)

// chunkSize is the read size used when folding a file into the hash.
const chunkSize = 4096

// ErrNotFound is returned by File when the path does not exist.
var ErrNotFound = errors.New("file not found")

// File returns the lowercase hex SHA-256 of the file at path. The file is
// streamed in fixed-size chunks so memory use does not grow with file size.
// If the file does not exist the returned error matches ErrNotFound.
func File(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return sum, nil
}

// Reader hashes everything readable from r.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal reports whether two hex digests are the same, ignoring case.
func Equal(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
