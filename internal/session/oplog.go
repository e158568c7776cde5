package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Append validates an edit and assigns it the next sequence number in the
// session's log. Sequence assignment happens in a transaction so numbers
// are unique and strictly increasing even under concurrent callers; the
// unique index on (session_id, seq) backstops the invariant. Entries are
// never mutated after this point.
func (s *Service) Append(ctx context.Context, sessionID, token string, kind Kind, rawPayload []byte) (Operation, error) {
	sess, err := s.Authorize(ctx, sessionID, token)
	if err != nil {
		return Operation{}, err
	}
	if sess.Status != StatusActive {
		return Operation{}, fmt.Errorf("%w: log is closed on a %s session", ErrState, sess.Status)
	}
	if !sess.CanEdit {
		return Operation{}, fmt.Errorf("%w: session lacks edit permission", ErrPermission)
	}

	payload, err := DecodePayload(kind, rawPayload)
	if err != nil {
		return Operation{}, err
	}

	doc, err := s.documents.Get(ctx, sess.DocumentID)
	if err != nil {
		return Operation{}, newServiceError(opAppend, "document_lookup_failed", err)
	}
	if err := ValidatePayload(payload, doc.PageCount); err != nil {
		return Operation{}, err
	}

	// add_image entries capture the stored path of the referenced image
	// at append time; the reference must resolve within the same session.
	if add, ok := payload.(AddImagePayload); ok {
		image, err := s.imageInSession(ctx, sess.ID, add.ImageID)
		if err != nil {
			return Operation{}, err
		}
		add.ImagePath = image.FilePath
		payload = add
	}

	encoded, err := EncodePayload(payload)
	if err != nil {
		return Operation{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Operation{}, newServiceError(opAppend, "id_generation_failed", err)
	}

	entry := Operation{
		ID:               id,
		SessionID:        sess.ID,
		Kind:             kind,
		PayloadJSON:      encoded,
		CreatedAtSeconds: s.clock.Now().UTC().Unix(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&Operation{}).
			Where("session_id = ?", sess.ID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		entry.Seq = maxSeq + 1
		return tx.Create(&entry).Error
	})
	if txErr != nil {
		s.logError(opAppend, "insert_failed", txErr, zap.String("session_id", sess.ID))
		return Operation{}, newServiceError(opAppend, "insert_failed", txErr)
	}

	return entry, nil
}

// List returns the session's full operation log ordered by sequence.
func (s *Service) List(ctx context.Context, sessionID, token string) ([]Operation, error) {
	sess, err := s.Authorize(ctx, sessionID, token)
	if err != nil {
		return nil, err
	}
	ops, err := s.operationsBySeq(ctx, sess.ID)
	if err != nil {
		return nil, newServiceError(opListOps, "query_failed", err)
	}
	return ops, nil
}

// DeleteOperation removes a single log entry (undo semantics). Sequence
// numbers of surviving entries are left untouched, so the log stays
// monotonic but gap-tolerant.
func (s *Service) DeleteOperation(ctx context.Context, sessionID, token, operationID string) error {
	sess, err := s.Authorize(ctx, sessionID, token)
	if err != nil {
		return err
	}
	if !sess.CanEdit {
		return fmt.Errorf("%w: session lacks edit permission", ErrPermission)
	}

	result := s.db.WithContext(ctx).
		Delete(&Operation{}, "id = ? AND session_id = ?", operationID, sess.ID)
	if result.Error != nil {
		return newServiceError(opDeleteOp, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: operation %s", ErrNotFound, operationID)
	}
	return nil
}

// ClearOperations removes the whole log, resetting the session to the
// original document.
func (s *Service) ClearOperations(ctx context.Context, sessionID, token string) error {
	sess, err := s.Authorize(ctx, sessionID, token)
	if err != nil {
		return err
	}
	if !sess.CanEdit {
		return fmt.Errorf("%w: session lacks edit permission", ErrPermission)
	}

	if err := s.db.WithContext(ctx).
		Delete(&Operation{}, "session_id = ?", sess.ID).Error; err != nil {
		return newServiceError(opClearOps, "delete_failed", err)
	}
	return nil
}

func (s *Service) imageInSession(ctx context.Context, sessionID, imageID string) (Image, error) {
	var image Image
	err := s.db.WithContext(ctx).
		Where("id = ? AND session_id = ?", imageID, sessionID).
		Take(&image).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Image{}, fmt.Errorf("%w: image %s not in session", ErrNotFound, imageID)
	}
	if err != nil {
		return Image{}, err
	}
	return image, nil
}
