//go:build linux

package store

import (
	"fmt"
	"syscall"
)

const (
	linuxNFSMagic  = 0x6969
	linuxCIFSMagic = 0xFF534D42
	linuxSMBMagic  = 0x517B
	linuxSMB2Magic = 0xFE534D42
)

func statfs(path string) (syscall.Statfs_t, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return stat, fmt.Errorf("statfs %q: %w", path, err)
	}
	return stat, nil
}

func detectFilesystemType(path string) (string, error) {
	stat, err := statfs(path)
	if err != nil {
		return "", err
	}

	switch uint64(stat.Type) {
	case linuxNFSMagic:
		return "nfs", nil
	case linuxCIFSMagic:
		return "cifs", nil
	case linuxSMBMagic:
		return "smbfs", nil
	case linuxSMB2Magic:
		return "smb2", nil
	default:
		return fmt.Sprintf("0x%x", uint64(stat.Type)), nil
	}
}

// availableBytes returns the free space available to an unprivileged
// writer on the volume backing path, used by checkFreeSpace to flag a
// results store volume that is nearly full.
func availableBytes(path string) (uint64, error) {
	stat, err := statfs(path)
	if err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
