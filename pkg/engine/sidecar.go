package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// versionsSidecar tracks, per checkpoint name, the same version list the
// metadata catalog holds, but as a plain JSON file under scratch rather
// than inside the bbolt database. The catalog can only safely be opened
// by the one process that owns it (bolt's file lock would otherwise
// deadlock a second same-process open); an async-mode Client runs in a
// separate process from the backend worker's Engine and needs its own
// cheap, lock-free way to answer restart_test, so Checkpoint rewrites this
// sidecar after each publish and retention trim, using the same tmp-then-rename
// discipline spec.md §4.8 requires of scratch writes generally.
func versionsSidecarPath(scratchDir, name string) string {
	return filepath.Join(scratchDir, "versions", name+".json")
}

func (e *Engine) writeVersionsSidecar(name string) error {
	versions, err := e.cat.Versions(name)
	if err != nil {
		return err
	}
	dir := filepath.Join(e.cfg.Scratch, "versions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(versions)
	if err != nil {
		return err
	}
	final := versionsSidecarPath(e.cfg.Scratch, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// ReadVersionsSidecar reads the version list writeVersionsSidecar last
// published for name under scratchDir. A missing sidecar (no checkpoint
// of this name has landed yet) is reported as ok=false, not an error.
func ReadVersionsSidecar(scratchDir, name string) (versions []int, ok bool, err error) {
	data, err := os.ReadFile(versionsSidecarPath(scratchDir, name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, false, err
	}
	return versions, true, nil
}
