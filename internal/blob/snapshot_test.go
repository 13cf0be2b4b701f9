package blob

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mapStore map[string][]byte

func (m mapStore) Load(_ context.Context, panel string) ([]byte, error) {
	data, ok := m[panel]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return data, nil
}

func (m mapStore) Save(_ context.Context, panel string, data []byte) error {
	m[panel] = data
	return nil
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := mapStore{}
	ctx := context.Background()

	if err := SaveSnapshot(ctx, store, Snapshot{Panel: "lobby", Brightness: 40, IsOn: true, Reachability: "reachable"}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	snap, err := LoadSnapshot(ctx, store, "lobby")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.Version != 1 || snap.Brightness != 40 || !snap.IsOn || snap.UpdatedAt.IsZero() {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if time.Since(snap.UpdatedAt) > time.Minute {
		t.Fatalf("UpdatedAt not stamped: %s", snap.UpdatedAt)
	}
}

func TestLoadSnapshotErrors(t *testing.T) {
	store := mapStore{
		"garbled": []byte("{"),
		"future":  []byte(`{"version": 9, "panel": "future"}`),
	}
	ctx := context.Background()

	if _, err := LoadSnapshot(ctx, store, "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
	if _, err := LoadSnapshot(ctx, store, "garbled"); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := LoadSnapshot(ctx, store, "future"); err == nil {
		t.Fatalf("expected version error")
	}
}
