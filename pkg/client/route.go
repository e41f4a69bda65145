package client

import (
	"fmt"
	"os"
	"path/filepath"
)

// routeFilePath maps an application-owned file path onto a stable location
// under scratch's "routed" subdirectory, per spec.md §4.1's
// route_file(original) -> scratch path: large file-mode checkpoints are
// protected by writing to this path instead of original, so the engine's
// scratch mount (not some arbitrary application directory) is what ends up
// durable at L1/L2/L3/L4.
func routeFilePath(scratchDir, original string) (string, error) {
	dir := filepath.Join(scratchDir, "routed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("client: route_file: %w", err)
	}
	return filepath.Join(dir, filepath.Base(original)), nil
}
