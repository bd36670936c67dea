package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func runBackendSuite(t *testing.T, db Database) {
	t.Helper()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	if err := db.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err := db.Get([]byte("k1"))
	if err != nil || string(value) != "v1" {
		t.Fatalf("get: %q %v", value, err)
	}

	if err := db.Put([]byte("k1"), []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, _ = db.Get([]byte("k1"))
	if string(value) != "v2" {
		t.Fatalf("expected overwrite to win, got %q", value)
	}

	if err := db.Delete([]byte("k1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k1")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}

	// Deleting an absent key is not an error.
	if err := db.Delete([]byte("never")); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	runBackendSuite(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'x'
	stored, _ := db.Get([]byte("k"))
	if string(stored) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", stored)
	}
	stored[0] = 'y'
	again, _ := db.Get([]byte("k"))
	if string(again) != "abc" {
		t.Fatalf("returned value aliased stored buffer: %q", again)
	}
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	runBackendSuite(t, db)
}

func TestBoltDB(t *testing.T) {
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "state.bolt"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	runBackendSuite(t, db)
}

func TestOverlayReadThrough(t *testing.T) {
	base := NewMemDB()
	base.Put([]byte("a"), []byte("base"))

	overlay := NewOverlay(base)
	value, err := overlay.Get([]byte("a"))
	if err != nil || string(value) != "base" {
		t.Fatalf("read-through failed: %q %v", value, err)
	}

	overlay.Put([]byte("a"), []byte("staged"))
	value, _ = overlay.Get([]byte("a"))
	if string(value) != "staged" {
		t.Fatalf("staged write not visible: %q", value)
	}
	value, _ = base.Get([]byte("a"))
	if string(value) != "base" {
		t.Fatalf("staged write leaked to base: %q", value)
	}
}

func TestOverlayDeleteShadowsBase(t *testing.T) {
	base := NewMemDB()
	base.Put([]byte("a"), []byte("base"))

	overlay := NewOverlay(base)
	overlay.Delete([]byte("a"))
	if _, err := overlay.Get([]byte("a")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("deleted key still readable: %v", err)
	}
	if _, err := base.Get([]byte("a")); err != nil {
		t.Fatalf("staged delete leaked to base: %v", err)
	}

	// A later Put revives the key inside the overlay.
	overlay.Put([]byte("a"), []byte("revived"))
	value, err := overlay.Get([]byte("a"))
	if err != nil || string(value) != "revived" {
		t.Fatalf("revived key unreadable: %q %v", value, err)
	}
}

func TestOverlayCommit(t *testing.T) {
	base := NewMemDB()
	base.Put([]byte("keep"), []byte("old"))
	base.Put([]byte("gone"), []byte("old"))

	overlay := NewOverlay(base)
	overlay.Put([]byte("keep"), []byte("new"))
	overlay.Put([]byte("fresh"), []byte("value"))
	overlay.Delete([]byte("gone"))

	if err := overlay.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	value, _ := base.Get([]byte("keep"))
	if string(value) != "new" {
		t.Fatalf("overwrite not committed: %q", value)
	}
	value, _ = base.Get([]byte("fresh"))
	if string(value) != "value" {
		t.Fatalf("insert not committed: %q", value)
	}
	if _, err := base.Get([]byte("gone")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("delete not committed: %v", err)
	}
}

func TestOverlayDiscard(t *testing.T) {
	base := NewMemDB()
	base.Put([]byte("a"), []byte("base"))

	overlay := NewOverlay(base)
	overlay.Put([]byte("a"), []byte("staged"))
	overlay.Put([]byte("b"), []byte("staged"))
	overlay.Delete([]byte("a"))
	// Overlay dropped without Commit.

	value, err := base.Get([]byte("a"))
	if err != nil || string(value) != "base" {
		t.Fatalf("base mutated by discarded overlay: %q %v", value, err)
	}
	if _, err := base.Get([]byte("b")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("staged insert leaked to base: %v", err)
	}
}
