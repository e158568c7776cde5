package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/phpdave11/gofpdf"
	"gorm.io/gorm"

	"github.com/overprint/overprint/internal/storage"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestService(t *testing.T, ids []string) (*Service, *storage.Disk, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:overprint_doc_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Document{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := storage.NewDisk(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:      db,
		Store:         store,
		Clock:         clockwork.NewFakeClockAt(time.Unix(1700000000, 0).UTC()),
		IDProvider:    &staticIDGenerator{ids: ids},
		MaxUploadSize: 1 << 20,
	})
	if err != nil {
		t.Fatalf("failed to construct document service: %v", err)
	}
	return service, store, db
}

func pdfBytes(t *testing.T, pages int) []byte {
	t.Helper()
	pdf := gofpdf.New("P", "pt", "A4", "")
	for i := 0; i < pages; i++ {
		pdf.AddPage()
	}
	path := filepath.Join(t.TempDir(), "fixture.pdf")
	if err := pdf.OutputFileAndClose(path); err != nil {
		t.Fatalf("failed to build fixture pdf: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture pdf: %v", err)
	}
	return data
}

func TestUploadRegistersDocumentWithPageCount(t *testing.T) {
	service, store, _ := newTestService(t, []string{"doc-1"})

	doc, err := service.Upload(context.Background(), "contract.pdf", pdfBytes(t, 3))
	if err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}
	if doc.ID != "doc-1" {
		t.Fatalf("unexpected id %q", doc.ID)
	}
	if doc.PageCount != 3 {
		t.Fatalf("expected 3 pages, got %d", doc.PageCount)
	}
	if doc.MimeType != "application/pdf" {
		t.Fatalf("unexpected mime type %q", doc.MimeType)
	}
	if !store.Exists(doc.FilePath) {
		t.Fatalf("expected stored bytes at %s", doc.FilePath)
	}
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	service, _, _ := newTestService(t, []string{"doc-1"})
	_, err := service.Upload(context.Background(), "contract.docx", pdfBytes(t, 1))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	service, _, _ := newTestService(t, []string{"doc-1"})
	_, err := service.Upload(context.Background(), "big.pdf", make([]byte, 2<<20))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestUploadRejectsNonPDFContentAndLeavesNothingBehind(t *testing.T) {
	service, store, db := newTestService(t, []string{"doc-1"})

	_, err := service.Upload(context.Background(), "fake.pdf", []byte("plain text"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if store.Exists(store.UploadPath("doc-1", "fake.pdf")) {
		t.Fatalf("rejected upload must not leave bytes behind")
	}
	var count int64
	db.Model(&Document{}).Count(&count)
	if count != 0 {
		t.Fatalf("rejected upload must not leave a record, found %d", count)
	}
}

func TestGetUnknownDocument(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	_, err := service.Get(context.Background(), "doc-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesRecordAndBytes(t *testing.T) {
	service, store, _ := newTestService(t, []string{"doc-1"})

	doc, err := service.Upload(context.Background(), "contract.pdf", pdfBytes(t, 1))
	if err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}
	if err := service.Delete(context.Background(), doc.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if store.Exists(doc.FilePath) {
		t.Fatalf("stored bytes should be removed")
	}
	_, err = service.Get(context.Background(), doc.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
