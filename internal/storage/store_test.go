package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestDisk(t *testing.T) *Disk {
	t.Helper()
	disk, err := NewDisk(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to create disk: %v", err)
	}
	return disk
}

func TestNewDiskCreatesLayout(t *testing.T) {
	root := t.TempDir()
	if _, err := NewDisk(root, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, dir := range []string{"uploads", "edited", "temp"} {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory: %v", dir, err)
		}
	}
}

func TestNewDiskRequiresRoot(t *testing.T) {
	if _, err := NewDisk("", nil); err == nil {
		t.Fatalf("expected an error for empty root")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	disk := newTestDisk(t)
	path := disk.UploadPath("doc-1", "contract.pdf")

	if err := disk.Write(path, []byte("payload")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	data, err := disk.Read(path)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected content %q", data)
	}
	if !disk.Exists(path) {
		t.Fatalf("expected file to exist")
	}
	if disk.Size(path) != int64(len("payload")) {
		t.Fatalf("unexpected size %d", disk.Size(path))
	}
}

func TestWriteCreatesIntermediateDirectories(t *testing.T) {
	disk := newTestDisk(t)
	path := disk.SessionImagePath("sess-1", "img-1", "logo.png")
	if err := disk.Write(path, []byte("png")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if !disk.Exists(path) {
		t.Fatalf("expected nested file to exist")
	}
}

func TestDeleteMissingFileIsNoOp(t *testing.T) {
	disk := newTestDisk(t)
	if disk.Delete(disk.UploadPath("doc-x", "gone.pdf")) {
		t.Fatalf("deleting a missing file should report false")
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	disk := newTestDisk(t)
	path := disk.EditedPath("sess-1", "edited.pdf")
	if err := disk.Write(path, []byte("out")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if !disk.Delete(path) {
		t.Fatalf("expected delete to report true")
	}
	if disk.Exists(path) {
		t.Fatalf("file should be gone")
	}
}

func TestListSessionDirs(t *testing.T) {
	disk := newTestDisk(t)
	empty, err := disk.ListSessionDirs()
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no session dirs, got %v", empty)
	}

	for _, sessionID := range []string{"sess-1", "sess-2"} {
		path := disk.SessionImagePath(sessionID, "img-1", "a.png")
		if err := disk.Write(path, []byte("x")); err != nil {
			t.Fatalf("unexpected write error: %v", err)
		}
	}

	dirs, err := disk.ListSessionDirs()
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("expected 2 session dirs, got %v", dirs)
	}
}

func TestListEditedFiles(t *testing.T) {
	disk := newTestDisk(t)
	path := disk.EditedPath("sess-1", "edited_contract.pdf")
	if err := disk.Write(path, []byte("out")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	files, err := disk.ListEditedFiles()
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(files) != 1 || files[0] != path {
		t.Fatalf("expected [%s], got %v", path, files)
	}
}

func TestRemoveSessionDir(t *testing.T) {
	disk := newTestDisk(t)
	first := disk.SessionImagePath("sess-1", "img-1", "a.png")
	second := disk.SessionImagePath("sess-1", "img-2", "b.png")
	for _, path := range []string{first, second} {
		if err := disk.Write(path, []byte("x")); err != nil {
			t.Fatalf("unexpected write error: %v", err)
		}
	}

	if !disk.RemoveSessionDir("sess-1") {
		t.Fatalf("expected removal to report true")
	}
	if disk.Exists(first) || disk.Exists(second) {
		t.Fatalf("session files should be gone")
	}
	if disk.RemoveSessionDir("sess-1") {
		t.Fatalf("second removal should be a no-op")
	}
}
