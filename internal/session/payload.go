package session

import (
	"encoding/json"
	"fmt"
)

// Kind enumerates the recognized edit operation kinds.
type Kind string

const (
	KindAddImage    Kind = "add_image"
	KindMoveImage   Kind = "move_image"
	KindResizeImage Kind = "resize_image"
	KindRotateImage Kind = "rotate_image"
	KindDeleteImage Kind = "delete_image"
)

// Kinds lists every recognized operation kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindAddImage, KindMoveImage, KindResizeImage, KindRotateImage, KindDeleteImage}
}

// Valid reports whether the kind is one of the five recognized kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindAddImage, KindMoveImage, KindResizeImage, KindRotateImage, KindDeleteImage:
		return true
	}
	return false
}

// Position is a placement rectangle in top-left-origin, y-down page units.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Payload is the decoded, kind-specific body of an operation. Each kind
// has one concrete shape; payloads are validated at append time so a
// malformed edit is rejected before it reaches the log.
type Payload interface {
	// PageIndex is the 0-based target page.
	PageIndex() int
	// TargetImage is the logical image identifier the operation acts on.
	TargetImage() string

	validate(pageCount int) error
}

// AddImagePayload seeds or replaces the full placement state for an image.
type AddImagePayload struct {
	Page      int      `json:"page"`
	ImageID   string   `json:"image_id"`
	ImagePath string   `json:"image_path,omitempty"`
	Position  Position `json:"position"`
	Rotation  float64  `json:"rotation"`
	Opacity   float64  `json:"opacity"`
}

func (p AddImagePayload) PageIndex() int      { return p.Page }
func (p AddImagePayload) TargetImage() string { return p.ImageID }

func (p AddImagePayload) validate(pageCount int) error {
	if err := validateCommon(p.Page, p.ImageID, pageCount); err != nil {
		return err
	}
	if p.Position.Width <= 0 || p.Position.Height <= 0 {
		return fmt.Errorf("%w: position width and height must be positive", ErrValidation)
	}
	if p.Opacity <= 0 || p.Opacity > 1 {
		return fmt.Errorf("%w: opacity must be in (0, 1]", ErrValidation)
	}
	return nil
}

// MoveImagePayload updates the position (and optionally rotation) of an
// already-added image.
type MoveImagePayload struct {
	Page        int      `json:"page"`
	ImageID     string   `json:"image_id"`
	NewPosition Position `json:"new_position"`
	Rotation    *float64 `json:"rotation,omitempty"`
}

func (p MoveImagePayload) PageIndex() int      { return p.Page }
func (p MoveImagePayload) TargetImage() string { return p.ImageID }

func (p MoveImagePayload) validate(pageCount int) error {
	return validateCommon(p.Page, p.ImageID, pageCount)
}

// ResizeImagePayload updates the width and height of an already-added
// image. Dimensions may arrive either as bare fields or inside
// new_position; new_position wins when both are present.
type ResizeImagePayload struct {
	Page        int       `json:"page"`
	ImageID     string    `json:"image_id"`
	Width       float64   `json:"width,omitempty"`
	Height      float64   `json:"height,omitempty"`
	NewPosition *Position `json:"new_position,omitempty"`
}

func (p ResizeImagePayload) PageIndex() int      { return p.Page }
func (p ResizeImagePayload) TargetImage() string { return p.ImageID }

// Dimensions resolves the effective target width and height.
func (p ResizeImagePayload) Dimensions() (float64, float64) {
	if p.NewPosition != nil {
		return p.NewPosition.Width, p.NewPosition.Height
	}
	return p.Width, p.Height
}

func (p ResizeImagePayload) validate(pageCount int) error {
	if err := validateCommon(p.Page, p.ImageID, pageCount); err != nil {
		return err
	}
	width, height := p.Dimensions()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: resize width and height must be positive", ErrValidation)
	}
	return nil
}

// RotateImagePayload updates the rotation of an already-added image.
type RotateImagePayload struct {
	Page     int     `json:"page"`
	ImageID  string  `json:"image_id"`
	Rotation float64 `json:"rotation"`
}

func (p RotateImagePayload) PageIndex() int      { return p.Page }
func (p RotateImagePayload) TargetImage() string { return p.ImageID }

func (p RotateImagePayload) validate(pageCount int) error {
	return validateCommon(p.Page, p.ImageID, pageCount)
}

// DeleteImagePayload removes an image's placement, discarding all prior
// state for its identifier.
type DeleteImagePayload struct {
	Page    int    `json:"page"`
	ImageID string `json:"image_id"`
}

func (p DeleteImagePayload) PageIndex() int      { return p.Page }
func (p DeleteImagePayload) TargetImage() string { return p.ImageID }

func (p DeleteImagePayload) validate(pageCount int) error {
	return validateCommon(p.Page, p.ImageID, pageCount)
}

func validateCommon(page int, imageID string, pageCount int) error {
	if page < 0 {
		return fmt.Errorf("%w: page must not be negative", ErrValidation)
	}
	if pageCount > 0 && page >= pageCount {
		return fmt.Errorf("%w: page %d out of range (document has %d pages)", ErrValidation, page, pageCount)
	}
	if imageID == "" {
		return fmt.Errorf("%w: image_id is required", ErrValidation)
	}
	return nil
}

// DecodePayload parses the raw JSON body of an operation into its
// kind-specific shape. Defaults are applied here (rotation 0, opacity 1);
// range validation happens separately so stored log entries can still be
// decoded after the source document is gone.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown operation kind %q", ErrValidation, kind)
	}
	switch kind {
	case KindAddImage:
		payload := AddImagePayload{Opacity: 1}
		if err := decodeInto(raw, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	case KindMoveImage:
		var payload MoveImagePayload
		if err := decodeInto(raw, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	case KindResizeImage:
		var payload ResizeImagePayload
		if err := decodeInto(raw, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	case KindRotateImage:
		var payload RotateImagePayload
		if err := decodeInto(raw, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	default:
		var payload DeleteImagePayload
		if err := decodeInto(raw, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

// ValidatePayload checks a decoded payload against the source document's
// page count. A pageCount of 0 skips the upper-bound check.
func ValidatePayload(payload Payload, pageCount int) error {
	return payload.validate(pageCount)
}

// EncodePayload serializes a payload for storage in the log.
func EncodePayload(payload Payload) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return string(encoded), nil
}

// DecodeOperation parses a stored log entry's payload.
func DecodeOperation(op Operation) (Payload, error) {
	return DecodePayload(op.Kind, []byte(op.PayloadJSON))
}

func decodeInto(raw []byte, target any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", ErrValidation, err)
	}
	return nil
}
