package document

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/overprint/overprint/internal/compose"
	"github.com/overprint/overprint/internal/storage"
)

var (
	// ErrNotFound indicates no document exists for the given identifier.
	ErrNotFound = errors.New("document: not found")
	// ErrInvalid indicates the uploaded bytes were rejected: wrong
	// extension, over the size limit, or not parseable as a PDF.
	ErrInvalid = errors.New("document: invalid upload")
	// ErrTooLarge indicates the upload exceeds the configured size limit.
	ErrTooLarge = errors.New("document: upload too large")

	errMissingDatabase = errors.New("database handle is required")
	errMissingStore    = errors.New("storage is required")

	noOpLogger = zap.NewNop()
)

// IDProvider issues identifiers for new documents.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig carries the collaborators for a document Service.
type ServiceConfig struct {
	Database          *gorm.DB
	Store             *storage.Disk
	Clock             clockwork.Clock
	IDProvider        IDProvider
	Logger            *zap.Logger
	MaxUploadSize     int64
	AllowedExtensions []string
}

// Service registers, serves, and removes source documents.
type Service struct {
	db            *gorm.DB
	store         *storage.Disk
	clock         clockwork.Clock
	idProvider    IDProvider
	logger        *zap.Logger
	maxUploadSize int64
	extensions    []string
}

// NewService validates the configuration and returns a document Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.IDProvider == nil {
		return nil, errors.New("id provider is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	extensions := cfg.AllowedExtensions
	if len(extensions) == 0 {
		extensions = []string{".pdf"}
	}
	return &Service{
		db:            cfg.Database,
		store:         cfg.Store,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		logger:        logger,
		maxUploadSize: cfg.MaxUploadSize,
		extensions:    extensions,
	}, nil
}

// Upload stores a PDF, probes its page count, and persists the record.
// Rejected uploads leave no bytes and no record behind.
func (s *Service) Upload(ctx context.Context, filename string, content []byte) (Document, error) {
	extension := strings.ToLower(filepath.Ext(filename))
	if !s.extensionAllowed(extension) {
		return Document{}, fmt.Errorf("%w: extension %q not allowed", ErrInvalid, extension)
	}
	if s.maxUploadSize > 0 && int64(len(content)) > s.maxUploadSize {
		return Document{}, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrTooLarge, len(content), s.maxUploadSize)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, err
	}

	safeName := filepath.Base(filename)
	path := s.store.UploadPath(id, safeName)
	if err := s.store.Write(path, content); err != nil {
		return Document{}, err
	}

	pageCount, err := compose.ProbePageCount(path)
	if err != nil {
		s.store.Delete(path)
		return Document{}, fmt.Errorf("%w: not a readable PDF: %v", ErrInvalid, err)
	}

	doc := Document{
		ID:                id,
		Filename:          safeName,
		OriginalFilename:  filename,
		FilePath:          path,
		FileSize:          int64(len(content)),
		PageCount:         pageCount,
		MimeType:          "application/pdf",
		UploadedAtSeconds: s.clock.Now().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		s.store.Delete(path)
		return Document{}, err
	}

	s.logger.Info("document registered",
		zap.String("document_id", doc.ID),
		zap.Int("page_count", doc.PageCount),
		zap.Int64("size", doc.FileSize))
	return doc, nil
}

// Get loads a document record by identifier.
func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Delete removes a document record and its stored bytes. Session records
// referencing the document are purged by the caller beforehand.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	s.store.Delete(doc.FilePath)
	return s.db.WithContext(ctx).Delete(&Document{}, "id = ?", id).Error
}

func (s *Service) extensionAllowed(extension string) bool {
	for _, allowed := range s.extensions {
		if extension == allowed {
			return true
		}
	}
	return false
}
