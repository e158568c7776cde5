package session

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"
)

var imageMimeTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
}

// UploadImage stores a raster asset scoped to the session and records its
// detected dimensions and MIME type. Rejected uploads leave no bytes and
// no record behind.
func (s *Service) UploadImage(ctx context.Context, sessionID, token, filename string, content []byte) (Image, error) {
	sess, err := s.Authorize(ctx, sessionID, token)
	if err != nil {
		return Image{}, err
	}
	if sess.Status != StatusActive {
		return Image{}, fmt.Errorf("%w: cannot upload to a %s session", ErrState, sess.Status)
	}
	if !sess.CanEdit {
		return Image{}, fmt.Errorf("%w: session lacks edit permission", ErrPermission)
	}

	extension := strings.ToLower(filepath.Ext(filename))
	if !s.imageExtensionAllowed(extension) {
		return Image{}, fmt.Errorf("%w: image extension %q not allowed", ErrValidation, extension)
	}
	if s.imageMaxSize > 0 && int64(len(content)) > s.imageMaxSize {
		return Image{}, fmt.Errorf("%w: image exceeds size limit %d", ErrValidation, s.imageMaxSize)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return Image{}, newServiceError(opUploadImage, "id_generation_failed", err)
	}

	safeName := filepath.Base(filename)
	path := s.store.SessionImagePath(sess.ID, id, safeName)
	if err := s.store.Write(path, content); err != nil {
		return Image{}, newServiceError(opUploadImage, "write_failed", err)
	}

	width, height, mimeType, err := probeImage(content)
	if err != nil {
		s.store.Delete(path)
		return Image{}, fmt.Errorf("%w: not a readable image: %v", ErrValidation, err)
	}

	record := Image{
		ID:                id,
		SessionID:         sess.ID,
		OriginalFilename:  filename,
		StoredFilename:    fmt.Sprintf("%s_%s", id, safeName),
		FilePath:          path,
		FileSize:          int64(len(content)),
		MimeType:          mimeType,
		Width:             width,
		Height:            height,
		UploadedAtSeconds: s.clock.Now().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.store.Delete(path)
		return Image{}, newServiceError(opUploadImage, "insert_failed", err)
	}

	s.logger.Info("session image stored",
		zap.String("session_id", sess.ID),
		zap.String("image_id", record.ID),
		zap.Int("width", width),
		zap.Int("height", height))
	return record, nil
}

// GetImage returns one session image record.
func (s *Service) GetImage(ctx context.Context, sessionID, token, imageID string) (Image, error) {
	sess, err := s.Authorize(ctx, sessionID, token)
	if err != nil {
		return Image{}, err
	}
	return s.imageInSession(ctx, sess.ID, imageID)
}

// DeleteImage removes a session image and its stored bytes. Operations
// already referencing the image stay in the log; reconciliation drops
// them with a warning.
func (s *Service) DeleteImage(ctx context.Context, sessionID, token, imageID string) error {
	sess, err := s.Authorize(ctx, sessionID, token)
	if err != nil {
		return err
	}
	if !sess.CanEdit {
		return fmt.Errorf("%w: session lacks edit permission", ErrPermission)
	}

	image, err := s.imageInSession(ctx, sess.ID, imageID)
	if err != nil {
		return err
	}
	s.store.Delete(image.FilePath)

	if err := s.db.WithContext(ctx).
		Delete(&Image{}, "id = ? AND session_id = ?", imageID, sess.ID).Error; err != nil {
		return newServiceError(opDeleteImage, "delete_failed", err)
	}
	return nil
}

// ListImages returns all images uploaded to the session.
func (s *Service) ListImages(ctx context.Context, sessionID, token string) ([]Image, error) {
	sess, err := s.Authorize(ctx, sessionID, token)
	if err != nil {
		return nil, err
	}
	var records []Image
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sess.ID).
		Order("uploaded_at_s ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) imageExtensionAllowed(extension string) bool {
	for _, allowed := range s.imageExtensions {
		if extension == allowed {
			return true
		}
	}
	return false
}

// probeImage resolves (width, height, mime type) from raw image bytes.
func probeImage(content []byte) (int, int, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return 0, 0, "", err
	}
	mimeType, ok := imageMimeTypes[format]
	if !ok {
		return 0, 0, "", fmt.Errorf("unsupported image format %q", format)
	}
	return cfg.Width, cfg.Height, mimeType, nil
}
