// Package snapshot writes and reads the on-disk copy of the latest telemetry.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	hserrors "github.com/rcourtman/pulse-hoststat/internal/errors"
	"github.com/rcourtman/pulse-hoststat/internal/hardware"
	"github.com/rcourtman/pulse-hoststat/internal/telemetry"
)

// DefaultFileName is the snapshot file created in the data directory.
const DefaultFileName = "tmp.json"

// Document is the persisted snapshot.
type Document struct {
	HardwareInfo hardware.Info     `json:"hardware_info"`
	RealTimeData telemetry.Current `json:"real_time_data"`
	DiskUsage    []hardware.Disk   `json:"disk_usage"`
}

// HardwareRefresher re-reads the hardware description.
type HardwareRefresher interface {
	Refresh(ctx context.Context) hardware.Info
}

// Persister replaces the snapshot file with the current store contents.
type Persister struct {
	path     string
	store    *telemetry.Store
	hardware HardwareRefresher
}

// NewPersister creates a persister writing to path.
func NewPersister(path string, store *telemetry.Store, hw HardwareRefresher) *Persister {
	return &Persister{path: path, store: store, hardware: hw}
}

// Path returns the snapshot file location.
func (p *Persister) Path() string {
	return p.path
}

// Persist refreshes the hardware description once and writes a new snapshot
// stamped with now. The previous file is replaced atomically.
func (p *Persister) Persist(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info := p.hardware.Refresh(ctx)
	doc := Document{
		HardwareInfo: info,
		RealTimeData: p.store.Current(now),
		DiskUsage:    info.Disks,
	}
	if doc.DiskUsage == nil {
		doc.DiskUsage = []hardware.Disk{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return writeFileAtomic(p.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load returns the raw snapshot document. A missing or unreadable file
// reports ErrSnapshotUnavailable.
func Load(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, hserrors.ErrSnapshotUnavailable
		}
		return nil, fmt.Errorf("%w: %v", hserrors.ErrSnapshotUnavailable, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: corrupt snapshot file", hserrors.ErrSnapshotUnavailable)
	}
	return json.RawMessage(data), nil
}
