package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempRoot(t)
	content := []byte("0 HEAD\n0 TRLR\n")
	if err := s.Write("tree.ged", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("tree.ged")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempRoot(t)
	if err := s.Write("runs/a/result.json", []byte("{}")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("runs/a/result.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "{}" {
		t.Errorf("content = %q", got)
	}
}

func TestDeleteAndMove(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("old.json", []byte("data"))
	if err := s.Move("old.json", "sub/new.json"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := s.Read("old.json"); err == nil {
		t.Error("old path should not exist")
	}
	if err := s.Delete("sub/new.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("sub/new.json"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestList_FiltersByExtension(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("b.ged", []byte("b"))
	_ = s.Write("sub/a.JSON", []byte("a"))
	_ = s.Write("readme.txt", []byte("not a tree"))

	items, err := s.List("", ".ged", ".json")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 || items[0].Path != "b.ged" || items[1].Path != filepath.Join("sub", "a.JSON") {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Checksum == "" || items[0].Size != 1 {
		t.Errorf("metadata = %+v", items[0])
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)
	for _, p := range []string{"../../etc/passwd", "../outside.json", "/etc/shadow"} {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
		if _, err := s.Abs(p); err == nil {
			t.Errorf("expected error resolving %q", p)
		}
	}
}

func TestWriteJSON_NoLeftovers(t *testing.T) {
	s := tempRoot(t)
	if err := WriteJSON(s, "out/report.json", map[string]int{"mapped": 3}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := WriteJSON(s, "out/report.json", map[string]int{"mapped": 4}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	data, _ := s.Read("out/report.json")
	var got map[string]int
	if err := json.Unmarshal(data, &got); err != nil || got["mapped"] != 4 {
		t.Errorf("report = %s (%v)", data, err)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), "out", tmpPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_Errors(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for non-existent dir")
	}
	f, _ := os.CreateTemp(t.TempDir(), "treesync-test-*")
	_ = f.Close()
	if _, err := NewFS(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestEnsureFS(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b")
	s, err := EnsureFS(root)
	if err != nil {
		t.Fatalf("EnsureFS: %v", err)
	}
	if err := s.Write("x.json", []byte("1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
}
