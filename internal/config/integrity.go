package config

import (
	"fmt"
	"path/filepath"
)

// verifyHash checks path against the .checksums manifest in its
// directory, if one exists. A missing manifest is not an error — the
// config directory simply has never been locked — but a present,
// mismatched hash is, since that is exactly what `dispatchd config
// lock` exists to catch.
func verifyHash(path string) error {
	dir := filepath.Dir(path)
	manifest, err := LoadChecksums(dir)
	if err != nil {
		return err
	}
	if manifest == nil {
		return nil
	}

	rel, err := filepath.Rel(dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	expected, ok := manifest.Hashes[rel]
	if !ok {
		return nil
	}
	if err := VerifyFileHash(path, expected); err != nil {
		return fmt.Errorf("%w (run 'dispatchd config lock' if this edit was intentional)", err)
	}
	return nil
}
