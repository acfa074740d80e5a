package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// minFreeBytes is the free-space floor below which the results/
// child_events audit trail is declared at risk: SQLite needs headroom
// for its rollback journal/WAL, not just the bytes of the next insert.
const minFreeBytes = 16 * 1024 * 1024

// CheckFilesystem reports whether path sits on a local filesystem with
// enough free space for the results store, without opening a database
// there. Lets `dispatchd system doctor` flag a network-mounted or
// nearly-full store path before the supervisor ever tries to start.
func CheckFilesystem(path string) error {
	if err := validateSQLiteFilesystem(path); err != nil {
		return err
	}
	return checkFreeSpace(path)
}

// validateSQLiteFilesystem ensures the DB path is on a local filesystem.
func validateSQLiteFilesystem(path string) error {
	return validateSQLiteFilesystemWithDetector(path, detectFilesystemType)
}

func validateSQLiteFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve results store path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for results store %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"results store path %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking of the results/child_events audit trail. Use a local path via store.path or move the working directory to local disk",
			path,
			fsType,
		)
	}

	return nil
}

// checkFreeSpace returns an error when the volume backing the results store has
// less than minFreeBytes available, since a full volume corrupts an
// in-flight SQLite write rather than failing it cleanly.
func checkFreeSpace(path string) error {
	return checkFreeSpaceWithProbe(path, availableBytes)
}

func checkFreeSpaceWithProbe(path string, probe func(string) (uint64, error)) error {
	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve results store path %q: %w", path, err)
	}

	free, err := probe(inspectPath)
	if err != nil {
		// Free-space probing isn't available on every platform; that's
		// not grounds to fail doctor, only the filesystem-type check is.
		return nil
	}
	if free < minFreeBytes {
		return fmt.Errorf(
			"results store volume %q has only %d bytes free (want at least %d); SQLite can corrupt an in-flight write when the volume fills up mid-transaction",
			inspectPath, free, minFreeBytes,
		)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}
