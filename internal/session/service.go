package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/overprint/overprint/internal/compose"
	"github.com/overprint/overprint/internal/document"
	"github.com/overprint/overprint/internal/storage"
	"github.com/overprint/overprint/internal/webhook"
)

const (
	opServiceNew      = "session.service.new"
	opCreate          = "session.create"
	opAuthorize       = "session.authorize"
	opCommit          = "session.commit"
	opAppend          = "session.append_operation"
	opListOps         = "session.list_operations"
	opDeleteOp        = "session.delete_operation"
	opClearOps        = "session.clear_operations"
	opUploadImage     = "session.upload_image"
	opDeleteImage     = "session.delete_image"
	opPurge           = "session.purge"
	opPurgeOrphans    = "session.purge_orphans"
	opMarkExpired     = "session.mark_expired"
	webhookStatusCompleted = "completed"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingStore     = errors.New("storage is required")
	errMissingDocuments = errors.New("document service is required")
	errMissingAssembler = errors.New("assembler is required")
	errMissingTokens    = errors.New("token source is required")
	errMissingIDs       = errors.New("id provider is required")

	noOpLogger = zap.NewNop()
)

// Assembler renders reconciled placements onto the source document. The
// concrete implementation lives in internal/compose.
type Assembler interface {
	Assemble(ctx context.Context, sourcePath, outputPath string, pages map[int][]compose.Placement) ([]compose.Warning, error)
}

// Notifier delivers the post-commit webhook with retries.
type Notifier interface {
	Retry(ctx context.Context, callbackURL string, payload webhook.Payload) bool
}

// ServiceConfig carries the collaborators and tuning for a session Service.
type ServiceConfig struct {
	Database  *gorm.DB
	Store     *storage.Disk
	Documents *document.Service
	Assembler Assembler
	Notifier  Notifier
	Clock     clockwork.Clock
	Tokens    TokenSource
	IDs       IDProvider
	Logger    *zap.Logger

	ExpiryDefault time.Duration
	ExpiryMin     time.Duration
	ExpiryMax     time.Duration

	ImageMaxSize    int64
	ImageExtensions []string
	BaseURL         string
}

// Service owns the session lifecycle state machine and the operation log.
type Service struct {
	db        *gorm.DB
	store     *storage.Disk
	documents *document.Service
	assembler Assembler
	notifier  Notifier
	clock     clockwork.Clock
	tokens    TokenSource
	ids       IDProvider
	logger    *zap.Logger

	expiryDefault time.Duration
	expiryMin     time.Duration
	expiryMax     time.Duration

	imageMaxSize    int64
	imageExtensions []string
	baseURL         string

	deliveries sync.WaitGroup
}

// NewService validates the configuration and returns a session Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Documents == nil {
		return nil, newServiceError(opServiceNew, "missing_documents", errMissingDocuments)
	}
	if cfg.Assembler == nil {
		return nil, newServiceError(opServiceNew, "missing_assembler", errMissingAssembler)
	}
	if cfg.Tokens == nil {
		return nil, newServiceError(opServiceNew, "missing_tokens", errMissingTokens)
	}
	if cfg.IDs == nil {
		return nil, newServiceError(opServiceNew, "missing_ids", errMissingIDs)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	expiryDefault := cfg.ExpiryDefault
	if expiryDefault <= 0 {
		expiryDefault = 24 * time.Hour
	}
	expiryMin := cfg.ExpiryMin
	if expiryMin <= 0 {
		expiryMin = time.Hour
	}
	expiryMax := cfg.ExpiryMax
	if expiryMax <= 0 {
		expiryMax = 168 * time.Hour
	}
	extensions := cfg.ImageExtensions
	if len(extensions) == 0 {
		extensions = []string{".png", ".jpg", ".jpeg", ".gif"}
	}

	return &Service{
		db:              cfg.Database,
		store:           cfg.Store,
		documents:       cfg.Documents,
		assembler:       cfg.Assembler,
		notifier:        cfg.Notifier,
		clock:           clock,
		tokens:          cfg.Tokens,
		ids:             cfg.IDs,
		logger:          logger,
		expiryDefault:   expiryDefault,
		expiryMin:       expiryMin,
		expiryMax:       expiryMax,
		imageMaxSize:    cfg.ImageMaxSize,
		imageExtensions: extensions,
		baseURL:         cfg.BaseURL,
	}, nil
}

// CreateParams are the caller-supplied knobs for opening a session.
// Permission flags default to true when nil.
type CreateParams struct {
	ExpiresInHours int
	CallbackURL    string
	CanEdit        *bool
	CanDownload    *bool
}

// Create opens an editing session against an existing document.
func (s *Service) Create(ctx context.Context, documentID string, params CreateParams) (Session, error) {
	if _, err := s.documents.Get(ctx, documentID); err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return Session{}, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
		}
		return Session{}, newServiceError(opCreate, "document_lookup_failed", err)
	}

	expiry := s.expiryDefault
	if params.ExpiresInHours != 0 {
		expiry = time.Duration(params.ExpiresInHours) * time.Hour
		if expiry < s.expiryMin || expiry > s.expiryMax {
			return Session{}, fmt.Errorf("%w: expires_in_hours must be between %d and %d",
				ErrValidation, int(s.expiryMin.Hours()), int(s.expiryMax.Hours()))
		}
	}

	id, err := s.ids.NewID()
	if err != nil {
		return Session{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	token, err := s.tokens.NewToken()
	if err != nil {
		return Session{}, newServiceError(opCreate, "token_generation_failed", err)
	}

	now := s.clock.Now().UTC()
	sess := Session{
		ID:                    id,
		DocumentID:            documentID,
		Token:                 token,
		Status:                StatusActive,
		CreatedAtSeconds:      now.Unix(),
		ExpiresAtSeconds:      now.Add(expiry).Unix(),
		LastActivityAtSeconds: now.Unix(),
		CanEdit:               boolOrDefault(params.CanEdit, true),
		CanDownload:           boolOrDefault(params.CanDownload, true),
		CallbackURL:           params.CallbackURL,
	}
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		return Session{}, newServiceError(opCreate, "insert_failed", err)
	}

	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("document_id", documentID),
		zap.Int64("expires_at_s", sess.ExpiresAtSeconds))
	return sess, nil
}

// Authorize loads a session by identifier and bearer token. If the expiry
// has passed while the session is still active, the expired status is
// persisted before the access is rejected; repeated checks after that are
// side-effect free.
func (s *Service) Authorize(ctx context.Context, sessionID, token string) (Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).
		Where("id = ? AND token = ?", sessionID, token).
		Take(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, newServiceError(opAuthorize, "query_failed", err)
	}

	now := s.clock.Now().UTC()
	if sess.Status == StatusExpired {
		return Session{}, ErrExpired
	}
	if sess.Status == StatusActive && now.Unix() > sess.ExpiresAtSeconds {
		if err := s.db.WithContext(ctx).Model(&Session{}).
			Where("id = ? AND status = ?", sess.ID, StatusActive).
			Update("status", StatusExpired).Error; err != nil {
			return Session{}, newServiceError(opAuthorize, "expire_failed", err)
		}
		s.logger.Info("session expired", zap.String("session_id", sess.ID))
		return Session{}, ErrExpired
	}

	if sess.Status == StatusActive {
		sess.LastActivityAtSeconds = now.Unix()
		if err := s.db.WithContext(ctx).Model(&Session{}).
			Where("id = ?", sess.ID).
			Update("last_activity_at_s", sess.LastActivityAtSeconds).Error; err != nil {
			return Session{}, newServiceError(opAuthorize, "touch_failed", err)
		}
	}
	return sess, nil
}

// Info returns an authorized session together with its source document.
func (s *Service) Info(ctx context.Context, sessionID, token string) (Session, document.Document, error) {
	sess, err := s.Authorize(ctx, sessionID, token)
	if err != nil {
		return Session{}, document.Document{}, err
	}
	doc, err := s.documents.Get(ctx, sess.DocumentID)
	if err != nil {
		return Session{}, document.Document{}, err
	}
	return sess, doc, nil
}

// EditorURL builds the browser URL for a session.
func (s *Service) EditorURL(sess Session) string {
	return fmt.Sprintf("%s/edit/%s?token=%s", s.baseURL, sess.ID, sess.Token)
}

// DownloadURL builds the output download URL for a session.
func (s *Service) DownloadURL(sess Session) string {
	return fmt.Sprintf("%s/api/v1/sessions/%s/download?session_token=%s", s.baseURL, sess.ID, sess.Token)
}

// Commit reconciles the session's operation log, composites the result
// onto the source document, and transitions the session to completed.
// The session must belong to the named document; a mismatch reads as not
// found so the route never confirms a foreign session's existence.
// Compositing failures leave the session active and retryable. Commit is
// not idempotent: a second commit observes a state error. The webhook, if
// configured, is delivered on a tracked background goroutine and only its
// recorded delivery status depends on the outcome.
func (s *Service) Commit(ctx context.Context, documentID, sessionID, token string) (Session, error) {
	sess, err := s.Authorize(ctx, sessionID, token)
	if err != nil {
		return Session{}, err
	}
	if sess.DocumentID != documentID {
		return Session{}, fmt.Errorf("%w: session %s not found under document %s", ErrNotFound, sessionID, documentID)
	}
	if sess.Status != StatusActive {
		return Session{}, fmt.Errorf("%w: commit requires an active session, got %s", ErrState, sess.Status)
	}
	if !sess.CanEdit {
		return Session{}, fmt.Errorf("%w: session lacks edit permission", ErrPermission)
	}

	doc, err := s.documents.Get(ctx, sess.DocumentID)
	if err != nil {
		return Session{}, newServiceError(opCommit, "document_lookup_failed", err)
	}

	ops, err := s.operationsBySeq(ctx, sess.ID)
	if err != nil {
		return Session{}, newServiceError(opCommit, "operations_load_failed", err)
	}
	images, err := s.imagesByID(ctx, sess.ID)
	if err != nil {
		return Session{}, newServiceError(opCommit, "images_load_failed", err)
	}

	reconciled := Reconcile(ops, images, doc.PageCount)
	for _, warning := range reconciled.Warnings {
		s.logger.Warn("operation dropped during reconciliation",
			zap.String("session_id", sess.ID),
			zap.Int("page", warning.Page),
			zap.String("image_id", warning.ImageID),
			zap.String("reason", warning.Reason))
	}

	outputPath := s.store.EditedPath(sess.ID, "edited_"+doc.Filename)
	if _, err := s.assembler.Assemble(ctx, doc.FilePath, outputPath, reconciled.Pages); err != nil {
		s.logError(opCommit, "compositing_failed", err, zap.String("session_id", sess.ID))
		return Session{}, fmt.Errorf("%s.compositing_failed: %w", opCommit, err)
	}

	completedAt := s.clock.Now().UTC().Unix()
	outputSize := s.store.Size(outputPath)

	// Conditional transition: only one concurrent committer can move the
	// row out of active; the rest observe a state error.
	transition := s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND status = ?", sess.ID, StatusActive).
		Updates(map[string]any{
			"status":         StatusCompleted,
			"completed_at_s": completedAt,
			"output_path":    outputPath,
			"output_size":    outputSize,
		})
	if transition.Error != nil {
		return Session{}, newServiceError(opCommit, "transition_failed", transition.Error)
	}
	if transition.RowsAffected == 0 {
		return Session{}, fmt.Errorf("%w: session is no longer active", ErrState)
	}

	sess.Status = StatusCompleted
	sess.CompletedAtSeconds = &completedAt
	sess.OutputPath = outputPath
	sess.OutputSize = outputSize

	s.logger.Info("session committed",
		zap.String("session_id", sess.ID),
		zap.Int("operations", len(ops)),
		zap.Int64("output_size", outputSize))

	if sess.CallbackURL != "" && s.notifier != nil {
		s.dispatchWebhook(sess, doc)
		sess.CallbackStatus = CallbackPending
	}

	return sess, nil
}

// dispatchWebhook records pending status and delivers on a tracked
// goroutine, detached from the request context so an early client
// disconnect cannot cancel delivery.
func (s *Service) dispatchWebhook(sess Session, doc document.Document) {
	if err := s.db.Model(&Session{}).
		Where("id = ?", sess.ID).
		Update("callback_status", CallbackPending).Error; err != nil {
		s.logError(opCommit, "callback_status_update_failed", err, zap.String("session_id", sess.ID))
		return
	}

	completedAt := ""
	if sess.CompletedAtSeconds != nil {
		completedAt = time.Unix(*sess.CompletedAtSeconds, 0).UTC().Format(time.RFC3339)
	}
	payload := webhook.Payload{
		SessionID:   sess.ID,
		FileID:      doc.ID,
		Status:      webhookStatusCompleted,
		DownloadURL: s.DownloadURL(sess),
		CompletedAt: completedAt,
	}

	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		delivered := s.notifier.Retry(context.Background(), sess.CallbackURL, payload)
		status := CallbackSuccess
		if !delivered {
			status = CallbackFailed
		}
		if err := s.db.Model(&Session{}).
			Where("id = ?", sess.ID).
			Update("callback_status", status).Error; err != nil {
			s.logError(opCommit, "callback_status_update_failed", err, zap.String("session_id", sess.ID))
		}
	}()
}

// WaitForDeliveries blocks until in-flight webhook deliveries settle.
// Used on shutdown so delivery outcomes are always recorded.
func (s *Service) WaitForDeliveries() {
	s.deliveries.Wait()
}

// Download returns an authorized, completed session and its output path.
func (s *Service) Download(ctx context.Context, sessionID, token string) (Session, document.Document, error) {
	sess, err := s.Authorize(ctx, sessionID, token)
	if err != nil {
		return Session{}, document.Document{}, err
	}
	if sess.Status != StatusCompleted {
		return Session{}, document.Document{}, fmt.Errorf("%w: session not completed", ErrState)
	}
	if !sess.CanDownload {
		return Session{}, document.Document{}, fmt.Errorf("%w: session lacks download permission", ErrPermission)
	}
	if sess.OutputPath == "" || !s.store.Exists(sess.OutputPath) {
		return Session{}, document.Document{}, fmt.Errorf("%w: output document missing", ErrNotFound)
	}
	doc, err := s.documents.Get(ctx, sess.DocumentID)
	if err != nil && !errors.Is(err, document.ErrNotFound) {
		return Session{}, document.Document{}, err
	}
	return sess, doc, nil
}

// MarkOverdueExpired flips active sessions whose expiry predates cutoff
// to expired. Lazy on-access expiry alone never reclaims abandoned
// sessions, so the cleanup sweep calls this first.
func (s *Service) MarkOverdueExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Session{}).
		Where("status = ? AND expires_at_s < ?", StatusActive, cutoff.Unix()).
		Update("status", StatusExpired)
	if result.Error != nil {
		return 0, newServiceError(opMarkExpired, "update_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeDeadSessions removes terminal sessions whose expiry predates the
// cutoff, along with their artifacts. Safe to re-run: deleting an
// already-deleted artifact is a no-op.
func (s *Service) PurgeDeadSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	var dead []Session
	err := s.db.WithContext(ctx).
		Where("status IN ? AND expires_at_s < ?", []Status{StatusExpired, StatusCompleted}, cutoff.Unix()).
		Find(&dead).Error
	if err != nil {
		return 0, newServiceError(opPurge, "query_failed", err)
	}

	var purged int64
	for _, sess := range dead {
		if err := s.purgeSession(ctx, sess); err != nil {
			s.logError(opPurge, "session_purge_failed", err, zap.String("session_id", sess.ID))
			continue
		}
		purged++
	}
	return purged, nil
}

// PurgeOrphanedArtifacts reclaims disk artifacts whose session row no
// longer exists: temp image directories and committed outputs left behind
// when a purge deleted the record but a file removal failed. Artifact
// ownership is recovered from the path layout (temp/<session_id>/ and
// edited/<session_id>_<filename>), so a later sweep can always finish the
// job.
func (s *Service) PurgeOrphanedArtifacts(ctx context.Context) (int64, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&Session{}).Pluck("id", &ids).Error; err != nil {
		return 0, newServiceError(opPurgeOrphans, "query_failed", err)
	}
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
	}

	var reclaimed int64

	dirs, err := s.store.ListSessionDirs()
	if err != nil {
		return reclaimed, newServiceError(opPurgeOrphans, "list_temp_failed", err)
	}
	for _, sessionID := range dirs {
		if live[sessionID] {
			continue
		}
		if s.store.RemoveSessionDir(sessionID) {
			reclaimed++
			s.logger.Info("orphaned session images reclaimed", zap.String("session_id", sessionID))
		}
	}

	outputs, err := s.store.ListEditedFiles()
	if err != nil {
		return reclaimed, newServiceError(opPurgeOrphans, "list_edited_failed", err)
	}
	for _, path := range outputs {
		owner, _, found := strings.Cut(filepath.Base(path), "_")
		if found && live[owner] {
			continue
		}
		if s.store.Delete(path) {
			reclaimed++
			s.logger.Info("orphaned output reclaimed", zap.String("path", path))
		}
	}

	return reclaimed, nil
}

// PurgeByDocument removes every session owned by a document, regardless
// of state. Used when the document itself is deleted.
func (s *Service) PurgeByDocument(ctx context.Context, documentID string) error {
	var owned []Session
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Find(&owned).Error; err != nil {
		return newServiceError(opPurge, "query_failed", err)
	}
	for _, sess := range owned {
		if err := s.purgeSession(ctx, sess); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) purgeSession(ctx context.Context, sess Session) error {
	if sess.OutputPath != "" {
		s.store.Delete(sess.OutputPath)
	}
	s.store.RemoveSessionDir(sess.ID)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Operation{}, "session_id = ?", sess.ID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Image{}, "session_id = ?", sess.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&Session{}, "id = ?", sess.ID).Error
	})
}

func (s *Service) operationsBySeq(ctx context.Context, sessionID string) ([]Operation, error) {
	var ops []Operation
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Find(&ops).Error
	return ops, err
}

func (s *Service) imagesByID(ctx context.Context, sessionID string) (map[string]Image, error) {
	var records []Image
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&records).Error
	if err != nil {
		return nil, err
	}
	images := make(map[string]Image, len(records))
	for _, record := range records {
		images[record.ID] = record
	}
	return images, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("session service error", attrs...)
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}
