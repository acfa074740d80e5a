//go:build !darwin && !linux

package store

import "fmt"

func detectFilesystemType(path string) (string, error) {
	return "", fmt.Errorf("filesystem detection is unsupported on this platform")
}

// availableBytes has no portable implementation outside linux/darwin;
// checkFreeSpace treats this as "unknown" rather than a doctor failure.
func availableBytes(path string) (uint64, error) {
	return 0, fmt.Errorf("free-space detection is unsupported on this platform")
}
