// Package selfcheck detects a binary swap under a running supervisor:
// it hashes the resolved worker executable once at startup and lets
// the housekeeper compare that hash against the file on disk on every
// pass, catching an in-place upgrade that replaced the binary out from
// under a supervisor whose already-forked children are still running
// the old code. Uses the same BLAKE3 checksum/tamper-detection pattern
// as the config integrity lock, applied to executable integrity
// instead of config-file integrity.
package selfcheck

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// ErrDrift is returned by Verify when the executable's hash no longer
// matches the one recorded at Baseline time.
var ErrDrift = fmt.Errorf("selfcheck: executable hash has changed since startup")

// Baseline is the recorded hash of the supervisor's own executable.
type Baseline struct {
	Path string
	Hash string
}

// New hashes path (typically the result of os.Executable()) and
// returns a Baseline to compare future reads against.
func New(path string) (Baseline, error) {
	hash, err := hashFile(path)
	if err != nil {
		return Baseline{}, err
	}
	return Baseline{Path: path, Hash: hash}, nil
}

// Verify re-hashes the executable and reports whether it still
// matches the baseline. A non-nil, non-ErrDrift error means the file
// could not be read at all (e.g. deleted out from under the process).
func (b Baseline) Verify() error {
	current, err := hashFile(b.Path)
	if err != nil {
		return fmt.Errorf("selfcheck: re-hash %s: %w", b.Path, err)
	}
	if current != b.Hash {
		return ErrDrift
	}
	return nil
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
