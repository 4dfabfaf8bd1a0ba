package store

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const machineIDFile = "machine-id"

// FileMachineID persists the installation identifier as a plain file under
// the data directory, surviving restarts so the backend sees a stable
// client identity.
type FileMachineID struct {
	dir string

	mu     sync.Mutex
	cached string
}

// NewFileMachineID creates a file-backed machine id source rooted at dir.
func NewFileMachineID(dir string) *FileMachineID {
	return &FileMachineID{dir: dir}
}

// MachineID reads the persisted identifier, creating and writing a new one
// on first use.
func (f *FileMachineID) MachineID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != "" {
		return f.cached, nil
	}

	path := filepath.Join(f.dir, machineIDFile)
	if raw, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(raw))
		if id != "" {
			f.cached = id
			return id, nil
		}
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	f.cached = id
	return id, nil
}
