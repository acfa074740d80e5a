package channel

import (
	"fmt"
	"os"
	"syscall"
)

// NewPair creates a connected pair of framed channels backed by a Unix
// domain socketpair. One end is handed to exec.Cmd.ExtraFiles for the
// forked worker (fd 3 inside the child); the other stays with the
// supervisor. This is the Go substitute for the pipe a real fork()
// would share via inherited memory.
func NewPair() (parent *Channel, childFile *os.File, err error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}

	parentFile := os.NewFile(uintptr(fds[0]), "channel-parent")
	childEnd := os.NewFile(uintptr(fds[1]), "channel-child")

	return New(parentFile), childEnd, nil
}
