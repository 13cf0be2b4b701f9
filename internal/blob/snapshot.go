package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const snapshotVersion = 1

// Snapshot is the mirrored state of one panel.
type Snapshot struct {
	Version      int       `json:"version"`
	Panel        string    `json:"panel"`
	Brightness   int       `json:"brightness"`
	IsOn         bool      `json:"is_on"`
	Reachability string    `json:"reachability"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SaveSnapshot stamps and encodes snap, then stores it under snap.Panel.
func SaveSnapshot(ctx context.Context, store Store, snap Snapshot) error {
	snap.Version = snapshotVersion
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", snap.Panel, err)
	}
	return store.Save(ctx, snap.Panel, data)
}

// LoadSnapshot returns ErrBlobNotFound when the panel was never mirrored.
func LoadSnapshot(ctx context.Context, store Store, panel string) (Snapshot, error) {
	data, err := store.Load(ctx, panel)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s snapshot: %w", panel, err)
	}
	if snap.Version != snapshotVersion {
		return Snapshot{}, fmt.Errorf("%s snapshot: unsupported version %d", panel, snap.Version)
	}
	return snap, nil
}
