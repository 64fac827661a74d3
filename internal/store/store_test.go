package store_test

import (
	"path/filepath"
	"testing"

	"github.com/livelyrics/bandlink/internal/db"
	"github.com/livelyrics/bandlink/internal/store"
)

func openTestDB(t *testing.T) *store.DeviceStore {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "bandlink.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return store.NewDeviceStore(conn)
}

func TestDeviceStoreEmpty(t *testing.T) {
	ds := openTestDB(t)

	device, err := ds.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if device != nil {
		t.Errorf("Expected no device, got %+v", device)
	}
}

func TestDeviceStoreCreateAndGet(t *testing.T) {
	ds := openTestDB(t)

	created, err := ds.Create("uid-1", "Jordan's Phone")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.UID != "uid-1" {
		t.Errorf("Expected uid-1, got %s", created.UID)
	}

	device, err := ds.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if device == nil {
		t.Fatal("Expected a device row")
	}
	if device.UID != "uid-1" || device.DisplayName != "Jordan's Phone" {
		t.Errorf("Unexpected device: %+v", device)
	}
}

func TestDeviceStoreSetDisplayName(t *testing.T) {
	ds := openTestDB(t)

	if _, err := ds.Create("uid-1", "Old Name"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := ds.SetDisplayName("New Name"); err != nil {
		t.Fatalf("SetDisplayName failed: %v", err)
	}

	device, err := ds.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if device.DisplayName != "New Name" {
		t.Errorf("Expected New Name, got %s", device.DisplayName)
	}
}

func TestTransferStoreRecentOrder(t *testing.T) {
	conn, err := db.Open(filepath.Join(t.TempDir(), "bandlink.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	ts := store.NewTransferStore(conn)

	if err := ts.Record("JOIN1", "band", "u1", store.DirectionSent, "Drummer's Tablet"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := ts.Record("JOIN2", "band", "u2", store.DirectionReceived, "Bassist's Phone"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := ts.Record("JOIN3", "band", "u1", store.DirectionSent, "Drummer's Tablet"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	transfers, err := ts.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(transfers) != 2 {
		t.Fatalf("Expected 2 transfers, got %d", len(transfers))
	}
	if transfers[0].ContentID != "JOIN3" {
		t.Errorf("Expected newest first, got %s", transfers[0].ContentID)
	}
	if transfers[1].ContentID != "JOIN2" {
		t.Errorf("Expected JOIN2 second, got %s", transfers[1].ContentID)
	}
}
