package catalog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Fingerprinter computes a comparable currency token for a path. Two
// equal fingerprints mean the file has not changed.
type Fingerprinter func(path string) ([]byte, error)

// StatFingerprint derives the fingerprint from size and modification time.
func StatFingerprint(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	fp := make([]byte, 16)
	binary.BigEndian.PutUint64(fp[0:8], uint64(info.Size()))
	binary.BigEndian.PutUint64(fp[8:16], uint64(info.ModTime().UnixNano()))
	return fp, nil
}

// ContentFingerprint hashes the file contents with xxhash. Directories
// fall back to StatFingerprint.
func ContentFingerprint(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return StatFingerprint(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	fp := make([]byte, 16)
	binary.BigEndian.PutUint64(fp[0:8], uint64(info.Size()))
	binary.BigEndian.PutUint64(fp[8:16], h.Sum64())
	return fp, nil
}
