package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const deviceIDFile = "device_id"

// ResolveDeviceID fills Node.DeviceID when it is empty. A generated id is
// stored in DataDir so the device keeps it across restarts; in-memory
// nodes get a fresh id each time.
func ResolveDeviceID(cfg *NodeConfig) error {
	if cfg.Node.DeviceID != "" {
		return nil
	}
	if cfg.Node.InMemory {
		cfg.Node.DeviceID = uuid.NewString()
		return nil
	}

	path := filepath.Join(cfg.Node.DataDir, deviceIDFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			cfg.Node.DeviceID = id
			return nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("read device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(cfg.Node.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return fmt.Errorf("write device id: %w", err)
	}
	cfg.Node.DeviceID = id
	return nil
}
