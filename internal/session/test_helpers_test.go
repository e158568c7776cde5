package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"github.com/overprint/overprint/internal/compose"
	"github.com/overprint/overprint/internal/document"
	"github.com/overprint/overprint/internal/storage"
	"github.com/overprint/overprint/internal/webhook"
)

type sequentialIDs struct {
	prefix string
	next   int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

type sequentialTokens struct {
	next int
}

func (g *sequentialTokens) NewToken() (string, error) {
	g.next++
	return fmt.Sprintf("token-%d", g.next), nil
}

// stubAssembler records what it was asked to composite and writes a
// placeholder output so size accounting has something to measure.
type stubAssembler struct {
	store     *storage.Disk
	calls     int
	lastPages map[int][]compose.Placement
	warnings  []compose.Warning
	fail      error
}

func (a *stubAssembler) Assemble(_ context.Context, _, outputPath string, pages map[int][]compose.Placement) ([]compose.Warning, error) {
	a.calls++
	a.lastPages = pages
	if a.fail != nil {
		return nil, a.fail
	}
	if err := a.store.Write(outputPath, []byte("%PDF-stub")); err != nil {
		return nil, err
	}
	return a.warnings, nil
}

type stubNotifier struct {
	deliver  bool
	payloads chan webhook.Payload
}

func newStubNotifier(deliver bool) *stubNotifier {
	return &stubNotifier{deliver: deliver, payloads: make(chan webhook.Payload, 4)}
}

func (n *stubNotifier) Retry(_ context.Context, _ string, payload webhook.Payload) bool {
	n.payloads <- payload
	return n.deliver
}

type testEnv struct {
	db        *gorm.DB
	store     *storage.Disk
	clock     *clockwork.FakeClock
	documents *document.Service
	assembler *stubAssembler
	notifier  *stubNotifier
	service   *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:overprint_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&document.Document{}, &Session{}, &Operation{}, &Image{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	// Same single-writer setting the production opener uses; sequence
	// assignment relies on it.
	sqlDB.SetMaxOpenConns(1)

	store, err := storage.NewDisk(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0).UTC())

	documents, err := document.NewService(document.ServiceConfig{
		Database:   db,
		Store:      store,
		Clock:      clock,
		IDProvider: &sequentialIDs{prefix: "doc"},
	})
	if err != nil {
		t.Fatalf("failed to construct document service: %v", err)
	}

	assembler := &stubAssembler{store: store}
	notifier := newStubNotifier(true)

	service, err := NewService(ServiceConfig{
		Database:        db,
		Store:           store,
		Documents:       documents,
		Assembler:       assembler,
		Notifier:        notifier,
		Clock:           clock,
		Tokens:          &sequentialTokens{},
		IDs:             &sequentialIDs{prefix: "id"},
		ExpiryDefault:   24 * time.Hour,
		ExpiryMin:       time.Hour,
		ExpiryMax:       168 * time.Hour,
		ImageMaxSize:    1 << 20,
		ImageExtensions: []string{".png", ".jpg", ".jpeg", ".gif"},
		BaseURL:         "http://localhost:8080",
	})
	if err != nil {
		t.Fatalf("failed to construct session service: %v", err)
	}

	return &testEnv{
		db:        db,
		store:     store,
		clock:     clock,
		documents: documents,
		assembler: assembler,
		notifier:  notifier,
		service:   service,
	}
}

// seedDocument inserts a document record directly, bypassing PDF probing.
func seedDocument(t *testing.T, env *testEnv, id string, pageCount int) document.Document {
	t.Helper()
	path := env.store.UploadPath(id, "source.pdf")
	if err := env.store.Write(path, []byte("%PDF-seed")); err != nil {
		t.Fatalf("failed to write seed document: %v", err)
	}
	doc := document.Document{
		ID:                id,
		Filename:          "source.pdf",
		OriginalFilename:  "source.pdf",
		FilePath:          path,
		FileSize:          9,
		PageCount:         pageCount,
		MimeType:          "application/pdf",
		UploadedAtSeconds: env.clock.Now().Unix(),
	}
	if err := env.db.Create(&doc).Error; err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
	return doc
}

func mustCreateSession(t *testing.T, env *testEnv, documentID string, params CreateParams) Session {
	t.Helper()
	sess, err := env.service.Create(context.Background(), documentID, params)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return sess
}

func mustAppend(t *testing.T, env *testEnv, sess Session, kind Kind, payload string) Operation {
	t.Helper()
	op, err := env.service.Append(context.Background(), sess.ID, sess.Token, kind, []byte(payload))
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	return op
}

func mustUploadImage(t *testing.T, env *testEnv, sess Session, filename string) Image {
	t.Helper()
	img, err := env.service.UploadImage(context.Background(), sess.ID, sess.Token, filename, pngBytes(t, 4, 4))
	if err != nil {
		t.Fatalf("unexpected image upload error: %v", err)
	}
	return img
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func assertIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error %v, got %v", target, err)
	}
}
