package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, encrypted bool) *Registry {
	t.Helper()
	r, err := New(filepath.Join(t.TempDir(), "face_templates.json"), encrypted)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	if err := r.Load(); err != nil {
		t.Fatalf("failed to load empty registry: %v", err)
	}
	return r
}

func testTemplate(id string, seed float32) FaceTemplate {
	var d Descriptor
	for i := range d {
		d[i] = seed + float32(i)/DescriptorSize
	}
	return FaceTemplate{
		StudentID:    id,
		Name:         "Student " + id,
		Descriptor:   d,
		CaptureCount: 3,
		TrainedAt:    time.Now(),
	}
}

func TestRegistry_LoadMissingFile(t *testing.T) {
	r := newTestRegistry(t, false)
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d templates", r.Len())
	}
}

func TestRegistry_ReplaceAndGet(t *testing.T) {
	r := newTestRegistry(t, false)

	if err := r.Replace(testTemplate("S1", 0.1)); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	got, err := r.Get("S1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Student S1" {
		t.Errorf("unexpected name: %s", got.Name)
	}
	if got.CaptureCount != 3 {
		t.Errorf("unexpected capture count: %d", got.CaptureCount)
	}

	_, err = r.Get("S2")
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestRegistry_ReplaceOverwrites(t *testing.T) {
	r := newTestRegistry(t, false)

	if err := r.Replace(testTemplate("S1", 0.1)); err != nil {
		t.Fatal(err)
	}
	updated := testTemplate("S1", 0.9)
	updated.CaptureCount = 5
	if err := r.Replace(updated); err != nil {
		t.Fatal(err)
	}

	if r.Len() != 1 {
		t.Errorf("expected 1 template after overwrite, got %d", r.Len())
	}
	got, err := r.Get("S1")
	if err != nil {
		t.Fatal(err)
	}
	if got.CaptureCount != 5 {
		t.Errorf("overwrite not applied, capture count %d", got.CaptureCount)
	}
}

func TestRegistry_SnapshotInsertionOrder(t *testing.T) {
	r := newTestRegistry(t, false)

	ids := []string{"S3", "S1", "S2"}
	for i, id := range ids {
		if err := r.Replace(testTemplate(id, float32(i))); err != nil {
			t.Fatal(err)
		}
	}

	// Re-training must not change insertion order.
	if err := r.Replace(testTemplate("S3", 0.7)); err != nil {
		t.Fatal(err)
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 templates, got %d", len(snap))
	}
	for i, id := range ids {
		if snap[i].StudentID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, snap[i].StudentID)
		}
	}
}

func TestRegistry_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "face_templates.json")

	r, err := New(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Load(); err != nil {
		t.Fatal(err)
	}
	for i, id := range []string{"S2", "S1"} {
		if err := r.Replace(testTemplate(id, float32(i))); err != nil {
			t.Fatal(err)
		}
	}

	r2, err := New(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := r2.Load(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	snap := r2.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 templates after reload, got %d", len(snap))
	}
	if snap[0].StudentID != "S2" || snap[1].StudentID != "S1" {
		t.Errorf("insertion order lost across reload: %s, %s", snap[0].StudentID, snap[1].StudentID)
	}
}

func TestRegistry_Encrypted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "face_templates.enc")

	r, err := New(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Load(); err != nil {
		t.Fatal(err)
	}
	if err := r.Replace(testTemplate("S1", 0.2)); err != nil {
		t.Fatal(err)
	}

	// The file on disk must not be readable JSON.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 || raw[0] == '{' {
		t.Error("encrypted registry looks like plaintext JSON")
	}

	r2, err := New(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := r2.Load(); err != nil {
		t.Fatalf("encrypted reload failed: %v", err)
	}
	if _, err := r2.Get("S1"); err != nil {
		t.Errorf("template lost through encryption roundtrip: %v", err)
	}
}

func TestRegistry_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "face_templates.json")
	if err := os.WriteFile(path, []byte("not json at all"), 0600); err != nil {
		t.Fatal(err)
	}

	r, err := New(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Load(); !errors.Is(err, ErrCorruptRegistry) {
		t.Errorf("expected ErrCorruptRegistry, got %v", err)
	}
}

func TestRegistry_ReplaceRollsBackOnSaveFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "templates")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	r, err := New(filepath.Join(dir, "face_templates.json"), false)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	if err := r.Load(); err != nil {
		t.Fatalf("failed to load empty registry: %v", err)
	}

	prior := testTemplate("S1", 0.1)
	if err := r.Replace(prior); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	// Make every subsequent save fail.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	t.Run("overwrite failure keeps prior entry", func(t *testing.T) {
		if err := r.Replace(testTemplate("S1", 0.9)); err == nil {
			t.Fatal("expected Replace to fail with the registry directory gone")
		}

		got, err := r.Get("S1")
		if err != nil {
			t.Fatalf("prior template not served after failed replace: %v", err)
		}
		if got.Descriptor[0] != prior.Descriptor[0] {
			t.Errorf("descriptor[0] = %v, want prior %v", got.Descriptor[0], prior.Descriptor[0])
		}

		snap := r.Snapshot()
		if len(snap) != 1 || snap[0].Descriptor[0] != prior.Descriptor[0] {
			t.Errorf("snapshot does not serve the prior entry: %+v", snap)
		}
	})

	t.Run("new-entry failure leaves registry unchanged", func(t *testing.T) {
		if err := r.Replace(testTemplate("S2", 0.5)); err == nil {
			t.Fatal("expected Replace to fail with the registry directory gone")
		}
		if _, err := r.Get("S2"); !errors.Is(err, ErrTemplateNotFound) {
			t.Errorf("Get(S2) error = %v, want ErrTemplateNotFound", err)
		}
		if r.Len() != 1 {
			t.Errorf("Len = %d, want 1", r.Len())
		}
		if len(r.Snapshot()) != 1 {
			t.Errorf("snapshot length = %d, want 1", len(r.Snapshot()))
		}
	})
}

func TestRegistry_Remove(t *testing.T) {
	r := newTestRegistry(t, false)

	if err := r.Replace(testTemplate("S1", 0.1)); err != nil {
		t.Fatal(err)
	}
	if err := r.Replace(testTemplate("S2", 0.2)); err != nil {
		t.Fatal(err)
	}

	if err := r.Remove("S1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := r.Get("S1"); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected template gone, got %v", err)
	}

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].StudentID != "S2" {
		t.Errorf("unexpected snapshot after remove: %+v", snap)
	}

	// Removing an absent template is a no-op.
	if err := r.Remove("S1"); err != nil {
		t.Errorf("removing absent template should succeed, got %v", err)
	}
}
