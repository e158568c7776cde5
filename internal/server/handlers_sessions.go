package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/overprint/overprint/internal/document"
	"github.com/overprint/overprint/internal/session"
)

type createSessionRequest struct {
	ExpiresInHours int                 `json:"expires_in_hours"`
	CallbackURL    string              `json:"callback_url"`
	Permissions    *sessionPermissions `json:"permissions"`
}

type sessionPermissions struct {
	CanEdit     *bool `json:"can_edit"`
	CanDownload *bool `json:"can_download"`
}

type createSessionResponse struct {
	SessionID    string             `json:"session_id"`
	FileID       string             `json:"file_id"`
	SessionToken string             `json:"session_token"`
	EditorURL    string             `json:"editor_url"`
	Status       string             `json:"status"`
	ExpiresAt    string             `json:"expires_at"`
	Permissions  sessionPermissions `json:"permissions"`
}

type sessionInfoResponse struct {
	SessionID      string             `json:"session_id"`
	FileID         string             `json:"file_id"`
	Filename       string             `json:"filename"`
	PageCount      int                `json:"page_count"`
	Status         string             `json:"status"`
	CreatedAt      string             `json:"created_at"`
	ExpiresAt      string             `json:"expires_at"`
	LastActivityAt string             `json:"last_activity_at"`
	Permissions    sessionPermissions `json:"permissions"`
}

type commitResponse struct {
	SessionID      string `json:"session_id"`
	FileID         string `json:"file_id"`
	Status         string `json:"status"`
	OutputSize     int64  `json:"output_size"`
	DownloadURL    string `json:"download_url"`
	CompletedAt    string `json:"completed_at"`
	CallbackStatus string `json:"callback_status,omitempty"`
}

func permissionsOf(sess session.Session) sessionPermissions {
	canEdit := sess.CanEdit
	canDownload := sess.CanDownload
	return sessionPermissions{CanEdit: &canEdit, CanDownload: &canDownload}
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request createSessionRequest
	if err := c.ShouldBindJSON(&request); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": "malformed request body"})
		return
	}

	params := session.CreateParams{
		ExpiresInHours: request.ExpiresInHours,
		CallbackURL:    request.CallbackURL,
	}
	if request.Permissions != nil {
		params.CanEdit = request.Permissions.CanEdit
		params.CanDownload = request.Permissions.CanDownload
	}

	sess, err := h.sessions.Create(c.Request.Context(), c.Param("file_id"), params)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, createSessionResponse{
		SessionID:    sess.ID,
		FileID:       sess.DocumentID,
		SessionToken: sess.Token,
		EditorURL:    h.sessions.EditorURL(sess),
		Status:       string(sess.Status),
		ExpiresAt:    formatTimestamp(sess.ExpiresAtSeconds),
		Permissions:  permissionsOf(sess),
	})
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	sess, doc, err := h.sessions.Info(c.Request.Context(), c.Param("session_id"), sessionToken(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	if doc.ID != c.Param("file_id") {
		h.renderError(c, session.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, sessionInfo(sess, doc))
}

func (h *httpHandler) handleSessionInfo(c *gin.Context) {
	sess, doc, err := h.sessions.Info(c.Request.Context(), c.Param("session_id"), sessionToken(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionInfo(sess, doc))
}

func sessionInfo(sess session.Session, doc document.Document) sessionInfoResponse {
	return sessionInfoResponse{
		SessionID:      sess.ID,
		FileID:         doc.ID,
		Filename:       doc.OriginalFilename,
		PageCount:      doc.PageCount,
		Status:         string(sess.Status),
		CreatedAt:      formatTimestamp(sess.CreatedAtSeconds),
		ExpiresAt:      formatTimestamp(sess.ExpiresAtSeconds),
		LastActivityAt: formatTimestamp(sess.LastActivityAtSeconds),
		Permissions:    permissionsOf(sess),
	}
}

func (h *httpHandler) handleCommitSession(c *gin.Context) {
	sess, err := h.sessions.Commit(c.Request.Context(), c.Param("file_id"), c.Param("session_id"), sessionToken(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, commitResponse{
		SessionID:      sess.ID,
		FileID:         sess.DocumentID,
		Status:         string(sess.Status),
		OutputSize:     sess.OutputSize,
		DownloadURL:    h.sessions.DownloadURL(sess),
		CompletedAt:    formatOptionalTimestamp(sess.CompletedAtSeconds),
		CallbackStatus: string(sess.CallbackStatus),
	})
}

func (h *httpHandler) handleSessionDownload(c *gin.Context) {
	sess, doc, err := h.sessions.Download(c.Request.Context(), c.Param("session_id"), sessionToken(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	filename := "edited_" + doc.OriginalFilename
	if doc.OriginalFilename == "" {
		filename = "edited.pdf"
	}
	c.FileAttachment(sess.OutputPath, filename)
}
