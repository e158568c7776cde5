package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/overprint/overprint/internal/compose"
	"github.com/overprint/overprint/internal/document"
	"github.com/overprint/overprint/internal/session"
)

var (
	errMissingDocumentService = errors.New("document service dependency required")
	errMissingSessionService  = errors.New("session service dependency required")
	errMissingAPISecret       = errors.New("api secret key required")
)

// Dependencies wires the HTTP layer to the core services.
type Dependencies struct {
	Documents    *document.Service
	Sessions     *session.Service
	Logger       *zap.Logger
	APISecretKey string
}

// NewHTTPHandler builds the Gin router with both authentication gates:
// an API key for service-to-service endpoints and per-session bearer
// tokens for browser endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Documents == nil {
		return nil, errMissingDocumentService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionService
	}
	if strings.TrimSpace(deps.APISecretKey) == "" {
		return nil, errMissingAPISecret
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-API-Key", "X-Session-Token"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		documents: deps.Documents,
		sessions:  deps.Sessions,
		logger:    logger,
		apiSecret: deps.APISecretKey,
	}

	api := router.Group("/api/v1")

	files := api.Group("/files")
	files.POST("/upload", handler.requireAPIKey, handler.handleUploadFile)
	files.GET("/:file_id", handler.requireAPIKey, handler.handleGetFile)
	files.GET("/:file_id/download", handler.requireAPIKey, handler.handleDownloadFile)
	files.DELETE("/:file_id", handler.requireAPIKey, handler.handleDeleteFile)
	files.POST("/:file_id/sessions", handler.requireAPIKey, handler.handleCreateSession)
	files.GET("/:file_id/sessions/:session_id", handler.handleGetSession)
	files.POST("/:file_id/sessions/:session_id/commit", handler.handleCommitSession)

	sessions := api.Group("/sessions")
	sessions.GET("/:session_id/info", handler.handleSessionInfo)
	sessions.GET("/:session_id/download", handler.handleSessionDownload)
	sessions.POST("/:session_id/operations", handler.handleAppendOperation)
	sessions.GET("/:session_id/operations", handler.handleListOperations)
	sessions.DELETE("/:session_id/operations/:operation_id", handler.handleDeleteOperation)
	sessions.DELETE("/:session_id/operations", handler.handleClearOperations)
	sessions.POST("/:session_id/images", handler.handleUploadImage)
	sessions.GET("/:session_id/images", handler.handleListImages)
	sessions.GET("/:session_id/images/:image_id", handler.handleGetImage)
	sessions.DELETE("/:session_id/images/:image_id", handler.handleDeleteImage)

	return router, nil
}

type httpHandler struct {
	documents *document.Service
	sessions  *session.Service
	logger    *zap.Logger
	apiSecret string
}

// requireAPIKey gates service-to-service endpoints on the X-API-Key header.
func (h *httpHandler) requireAPIKey(c *gin.Context) {
	key := c.GetHeader("X-API-Key")
	if key == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "api_key_required"})
		return
	}
	if key != h.apiSecret {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid_api_key"})
		return
	}
	c.Next()
}

// sessionToken extracts the bearer token from the query string or the
// X-Session-Token header.
func sessionToken(c *gin.Context) string {
	if token := c.Query("session_token"); token != "" {
		return token
	}
	return c.GetHeader("X-Session-Token")
}

// renderError maps the core error taxonomy onto HTTP status codes.
func (h *httpHandler) renderError(c *gin.Context, err error) {
	var (
		compositing *compose.CompositingError
		service     *session.ServiceError
	)

	switch {
	case errors.Is(err, session.ErrValidation), errors.Is(err, document.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": err.Error()})
	case errors.Is(err, document.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload_too_large", "detail": err.Error()})
	case errors.Is(err, session.ErrPermission):
		c.JSON(http.StatusForbidden, gin.H{"error": "permission_denied", "detail": err.Error()})
	case errors.Is(err, session.ErrNotFound), errors.Is(err, document.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "detail": err.Error()})
	case errors.Is(err, session.ErrState):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "detail": err.Error()})
	case errors.Is(err, session.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "session_expired", "detail": err.Error()})
	case errors.As(err, &compositing):
		h.logger.Error("commit compositing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "compositing_failed"})
	case errors.As(err, &service):
		h.logger.Error("request failed", zap.String("code", service.Code()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": service.Code()})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func formatTimestamp(seconds int64) string {
	return time.Unix(seconds, 0).UTC().Format(time.RFC3339)
}

func formatOptionalTimestamp(seconds *int64) string {
	if seconds == nil {
		return ""
	}
	return formatTimestamp(*seconds)
}
