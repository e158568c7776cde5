package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/overprint/overprint/internal/session"
)

type imageResponse struct {
	ID               string `json:"id"`
	SessionID        string `json:"session_id"`
	OriginalFilename string `json:"original_filename"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `json:"mime_type"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	UploadedAt       string `json:"uploaded_at"`
}

func imageOf(img session.Image) imageResponse {
	return imageResponse{
		ID:               img.ID,
		SessionID:        img.SessionID,
		OriginalFilename: img.OriginalFilename,
		FileSize:         img.FileSize,
		MimeType:         img.MimeType,
		Width:            img.Width,
		Height:           img.Height,
		UploadedAt:       formatTimestamp(img.UploadedAtSeconds),
	}
}

func (h *httpHandler) handleUploadImage(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": "multipart field 'file' is required"})
		return
	}
	source, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": "unreadable upload"})
		return
	}
	defer source.Close()

	content, err := io.ReadAll(source)
	if err != nil {
		h.renderError(c, err)
		return
	}

	img, err := h.sessions.UploadImage(c.Request.Context(), c.Param("session_id"), sessionToken(c), header.Filename, content)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, imageOf(img))
}

func (h *httpHandler) handleListImages(c *gin.Context) {
	images, err := h.sessions.ListImages(c.Request.Context(), c.Param("session_id"), sessionToken(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	responses := make([]imageResponse, 0, len(images))
	for _, img := range images {
		responses = append(responses, imageOf(img))
	}
	c.JSON(http.StatusOK, gin.H{"images": responses, "count": len(responses)})
}

// handleGetImage streams the raster bytes so the editor can render a
// preview of what it placed.
func (h *httpHandler) handleGetImage(c *gin.Context) {
	img, err := h.sessions.GetImage(c.Request.Context(), c.Param("session_id"), sessionToken(c), c.Param("image_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.Header("Content-Type", img.MimeType)
	c.File(img.FilePath)
}

func (h *httpHandler) handleDeleteImage(c *gin.Context) {
	err := h.sessions.DeleteImage(c.Request.Context(), c.Param("session_id"), sessionToken(c), c.Param("image_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
