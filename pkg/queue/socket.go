package queue

import (
	"fmt"
	"net"
	"os"
)

// DefaultSocketPath builds the transport address spec.md §4.8 names:
// a Unix domain socket under /dev/shm, namespaced by prefix and uid so
// multiple jobs on one node never collide.
func DefaultSocketPath(prefix string) string {
	if prefix == "" {
		prefix = "strata"
	}
	return fmt.Sprintf("/dev/shm/%s-%d", prefix, os.Getuid())
}

// removeStaleSocket clears a leftover socket file from an unclean shutdown
// so a fresh net.Listen("unix", ...) does not fail with "address in use".
func removeStaleSocket(path string) error {
	if conn, err := net.Dial("unix", path); err == nil {
		conn.Close()
		return nil // something is actually listening; leave it alone
	}
	if _, err := os.Stat(path); err == nil {
		return os.Remove(path)
	}
	return nil
}
