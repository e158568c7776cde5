package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fileResponse struct {
	ID               string `json:"id"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	FileSize         int64  `json:"file_size"`
	PageCount        int    `json:"page_count"`
	MimeType         string `json:"mime_type"`
	UploadedAt       string `json:"uploaded_at"`
}

func (h *httpHandler) handleUploadFile(c *gin.Context) {
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

	doc, err := h.documents.Upload(c.Request.Context(), header.Filename, content)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, fileResponse{
		ID:               doc.ID,
		Filename:         doc.Filename,
		OriginalFilename: doc.OriginalFilename,
		FileSize:         doc.FileSize,
		PageCount:        doc.PageCount,
		MimeType:         doc.MimeType,
		UploadedAt:       formatTimestamp(doc.UploadedAtSeconds),
	})
}

func (h *httpHandler) handleGetFile(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("file_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, fileResponse{
		ID:               doc.ID,
		Filename:         doc.Filename,
		OriginalFilename: doc.OriginalFilename,
		FileSize:         doc.FileSize,
		PageCount:        doc.PageCount,
		MimeType:         doc.MimeType,
		UploadedAt:       formatTimestamp(doc.UploadedAtSeconds),
	})
}

func (h *httpHandler) handleDownloadFile(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("file_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.FileAttachment(doc.FilePath, doc.OriginalFilename)
}

// handleDeleteFile removes a document and every session built on top of
// it. Sessions go first so a failure cannot strand session artifacts
// against a missing document.
func (h *httpHandler) handleDeleteFile(c *gin.Context) {
	documentID := c.Param("file_id")
	if _, err := h.documents.Get(c.Request.Context(), documentID); err != nil {
		h.renderError(c, err)
		return
	}
	if err := h.sessions.PurgeByDocument(c.Request.Context(), documentID); err != nil {
		h.renderError(c, err)
		return
	}
	if err := h.documents.Delete(c.Request.Context(), documentID); err != nil {
		h.renderError(c, err)
		return
	}
	h.logger.Info("document deleted", zap.String("document_id", documentID))
	c.Status(http.StatusNoContent)
}
