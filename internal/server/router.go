package server

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/creatorlab/socialstudio/backend/internal/artifacts"
	"github.com/creatorlab/socialstudio/backend/internal/assistant"
	"github.com/creatorlab/socialstudio/backend/internal/calendar"
	"github.com/creatorlab/socialstudio/backend/internal/pipeline"
	"github.com/creatorlab/socialstudio/backend/internal/users"
)

const (
	userIDContextKey = "studio_user_id"
	maxUploadBytes   = 64 << 20
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUserService   = errors.New("user service dependency required")
	errMissingRunner        = errors.New("pipeline runner dependency required")
	errMissingArtifactStore = errors.New("artifact store dependency required")
	errMissingCalendarStore = errors.New("calendar store dependency required")
	errMissingAssistant     = errors.New("assistant registry dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates the bearer tokens protecting every
// route except session creation.
type SessionTokenManager interface {
	IssueToken(userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the application services.
type Dependencies struct {
	TokenManager  SessionTokenManager
	UserService   *users.Service
	Runner        *pipeline.Runner
	Features      map[string]pipeline.Feature
	ArtifactStore *artifacts.Store
	CalendarStore *calendar.Store
	Assistant     *assistant.Registry
	Logger        *zap.Logger
}

// NewHTTPHandler builds the API router. All generation, artifact, calendar,
// and assistant routes require a valid bearer token; the owner id is always
// taken from the token, never from the request body.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UserService == nil {
		return nil, errMissingUserService
	}
	if deps.Runner == nil {
		return nil, errMissingRunner
	}
	if deps.ArtifactStore == nil {
		return nil, errMissingArtifactStore
	}
	if deps.CalendarStore == nil {
		return nil, errMissingCalendarStore
	}
	if deps.Assistant == nil {
		return nil, errMissingAssistant
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	features := deps.Features
	if features == nil {
		features = pipeline.Features()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	router.MaxMultipartMemory = maxUploadBytes

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		users:     deps.UserService,
		runner:    deps.Runner,
		features:  features,
		artifacts: deps.ArtifactStore,
		calendar:  deps.CalendarStore,
		assistant: deps.Assistant,
		logger:    logger,
	}

	router.POST("/auth/session", handler.handleCreateSession)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/generate/:feature", handler.handleGenerate)

	protected.POST("/thumbnails", handler.handleSaveThumbnail)
	protected.GET("/thumbnails", handler.handleListThumbnails)
	protected.POST("/captions", handler.handleSaveCaptions)
	protected.GET("/captions", handler.handleListCaptions)
	protected.GET("/metadata", handler.handleListMetadata)

	protected.GET("/calendar/events", handler.handleListEvents)
	protected.POST("/calendar/events", handler.handleAddEvent)
	protected.PATCH("/calendar/events/:id", handler.handleUpdateEvent)
	protected.DELETE("/calendar/events/:id", handler.handleDeleteEvent)

	protected.GET("/assistant/tools", handler.handleListTools)
	protected.POST("/assistant/tools/:name", handler.handleInvokeTool)

	return router, nil
}

type httpHandler struct {
	tokens    SessionTokenManager
	users     *users.Service
	runner    *pipeline.Runner
	features  map[string]pipeline.Feature
	artifacts *artifacts.Store
	calendar  *calendar.Store
	assistant *assistant.Registry
	logger    *zap.Logger
}

type sessionRequestPayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.ResolveOrCreate(c.Request.Context(), request.Email, request.Name)
	if err != nil {
		if errors.Is(err, users.ErrInvalidEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
			return
		}
		h.logger.Error("account resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account_resolution_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(user.ID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		UserID:      user.ID,
	})
}

func (h *httpHandler) handleGenerate(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	featureName := strings.TrimSpace(c.Param("feature"))
	feature, ok := h.features[featureName]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_feature"})
		return
	}

	input, err := h.readInput(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	result, err := h.runner.Run(c.Request.Context(), feature, input, owner)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, generationPayload(result))
}

// readInput accepts either a JSON object of string fields or a multipart form
// with fields plus file attachments.
func (h *httpHandler) readInput(c *gin.Context) (pipeline.Input, error) {
	contentType := c.GetHeader("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		fields := map[string]string{}
		if c.Request.Body != nil && c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&fields); err != nil {
				return pipeline.Input{}, pipeline.NewValidationError("body", "request body must be a JSON object of string fields")
			}
		}
		return pipeline.Input{Fields: fields}, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return pipeline.Input{}, pipeline.NewValidationError("body", "invalid multipart form")
	}

	fields := map[string]string{}
	for name, values := range form.Value {
		if len(values) > 0 {
			fields[name] = values[0]
		}
	}

	files := map[string]pipeline.File{}
	for name, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		header := headers[0]
		if header.Size > maxUploadBytes {
			return pipeline.Input{}, pipeline.NewValidationError(name, "file exceeds the upload limit")
		}
		opened, err := header.Open()
		if err != nil {
			return pipeline.Input{}, pipeline.NewValidationError(name, "unreadable file upload")
		}
		data, err := io.ReadAll(opened)
		opened.Close()
		if err != nil {
			return pipeline.Input{}, pipeline.NewValidationError(name, "unreadable file upload")
		}
		files[name] = pipeline.File{
			Name:  header.Filename,
			Bytes: data,
			Mime:  header.Header.Get("Content-Type"),
		}
	}

	return pipeline.Input{Fields: fields, Files: files}, nil
}

func generationPayload(result pipeline.Result) gin.H {
	payload := gin.H{"feature": result.Feature}
	switch result.Normalized.Kind {
	case pipeline.ShapeFreeText:
		payload["text"] = result.Normalized.Text
	case pipeline.ShapeJSONObject:
		payload["result"] = result.Normalized.Object
	case pipeline.ShapeStringArray:
		payload["items"] = result.Normalized.List
	case pipeline.ShapeBinaryImage:
		payload["image_b64"] = base64.StdEncoding.EncodeToString(result.Normalized.Bytes)
		payload["mime"] = result.Normalized.Mime
	}
	if result.Record != nil {
		payload["record"] = gin.H{
			"table": result.Record.Table,
			"id":    result.Record.ID,
			"url":   result.Record.URL,
		}
	}
	if result.SaveErr != nil {
		payload["save_error"] = result.SaveErr.Error()
		var partial *pipeline.PartialFailure
		if errors.As(result.SaveErr, &partial) {
			payload["blob_url"] = partial.BlobURL
		}
	}
	return payload
}

func (h *httpHandler) handleSaveThumbnail(c *gin.Context) {
	owner := c.GetString(userIDContextKey)

	input, err := h.readInput(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var imageBytes []byte
	mime := "image/png"
	if file, ok := input.FileNamed("image"); ok {
		imageBytes = file.Bytes
		if file.Mime != "" {
			mime = file.Mime
		}
	} else if encoded := input.Field("image_b64", ""); encoded != "" {
		decoded, decodeErr := base64.StdEncoding.DecodeString(encoded)
		if decodeErr != nil {
			h.writeError(c, pipeline.NewValidationError("image_b64", "not valid base64"))
			return
		}
		imageBytes = decoded
	}
	if len(imageBytes) == 0 {
		h.writeError(c, pipeline.NewValidationError("image", "an image file or image_b64 field is required"))
		return
	}
	if _, err := imaging.Decode(bytes.NewReader(imageBytes)); err != nil {
		h.writeError(c, pipeline.NewValidationError("image", "not a decodable image"))
		return
	}

	kind := input.Field("kind", "thumbnail")
	if kind != "thumbnail" && kind != "logo" {
		h.writeError(c, pipeline.NewValidationError("kind", "must be thumbnail or logo"))
		return
	}

	record, err := h.artifacts.SaveArtifact(c.Request.Context(), pipeline.SaveRequest{
		Bytes:  imageBytes,
		Mime:   mime,
		Table:  artifacts.TableThumbnails,
		Fields: map[string]any{"kind": kind},
		Owner:  owner,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":   record.ID,
		"url":  record.URL,
		"kind": kind,
	})
}

func (h *httpHandler) handleListThumbnails(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	rows, err := h.artifacts.ListThumbnails(c.Request.Context(), owner)
	if err != nil {
		h.writeError(c, err)
		return
	}
	items := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		items = append(items, gin.H{
			"id":           row.ID,
			"kind":         row.Kind,
			"url":          row.ThumbnailURL,
			"created_at_s": row.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"thumbnails": items})
}

func (h *httpHandler) handleSaveCaptions(c *gin.Context) {
	owner := c.GetString(userIDContextKey)

	input, err := h.readInput(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	video, ok := input.FileNamed("video")
	if !ok {
		h.writeError(c, pipeline.NewValidationError("video", "file is required"))
		return
	}
	transcript := input.Field("srt", "")
	if transcript == "" {
		h.writeError(c, pipeline.NewValidationError("srt", "must not be blank"))
		return
	}

	bundle, err := h.artifacts.SaveCaptionBundle(c.Request.Context(), owner, video.Name, video.Bytes, video.Mime, transcript)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video": gin.H{
			"id":  bundle.Video.ID,
			"url": bundle.Video.URL,
		},
		"caption": gin.H{
			"id":  bundle.Caption.ID,
			"url": bundle.Caption.URL,
		},
	})
}

func (h *httpHandler) handleListCaptions(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	rows, err := h.artifacts.ListCaptions(c.Request.Context(), owner)
	if err != nil {
		h.writeError(c, err)
		return
	}
	items := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		items = append(items, gin.H{
			"id":           row.ID,
			"video_id":     row.VideoID,
			"url":          row.CaptionURL,
			"created_at_s": row.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"captions": items})
}

func (h *httpHandler) handleListMetadata(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	rows, err := h.artifacts.ListMetadata(c.Request.Context(), owner)
	if err != nil {
		h.writeError(c, err)
		return
	}
	items := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		items = append(items, gin.H{
			"id":           row.ID,
			"description":  row.Description,
			"hashtags":     row.Hashtags(),
			"created_at_s": row.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metadata": items})
}

type eventRequestPayload struct {
	Title *string `json:"title"`
	Note  *string `json:"note"`
	Date  *string `json:"date"`
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	events, err := h.calendar.List(c.Request.Context(), owner)
	if err != nil {
		h.writeError(c, err)
		return
	}
	items := make([]gin.H, 0, len(events))
	for _, event := range events {
		items = append(items, eventJSON(event))
	}
	c.JSON(http.StatusOK, gin.H{"events": items})
}

func (h *httpHandler) handleAddEvent(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	var request eventRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	event, err := h.calendar.Add(c.Request.Context(), owner,
		stringOrEmpty(request.Title),
		stringOrEmpty(request.Note),
		stringOrEmpty(request.Date))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": eventJSON(event)})
}

func (h *httpHandler) handleUpdateEvent(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	var request eventRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	event, err := h.calendar.Update(c.Request.Context(), owner, c.Param("id"), calendar.Patch{
		Title: request.Title,
		Note:  request.Note,
		Date:  request.Date,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": eventJSON(event)})
}

func (h *httpHandler) handleDeleteEvent(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	if err := h.calendar.Remove(c.Request.Context(), owner, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleListTools(c *gin.Context) {
	tools := h.assistant.Tools()
	items := make([]gin.H, 0, len(tools))
	for _, tool := range tools {
		items = append(items, gin.H{
			"name":         tool.Name,
			"description":  tool.Description,
			"input_schema": tool.InputSchema,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": items})
}

func (h *httpHandler) handleInvokeTool(c *gin.Context) {
	owner := c.GetString(userIDContextKey)
	args := map[string]any{}
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	payload, err := h.assistant.Invoke(c.Request.Context(), owner, c.Param("name"), args)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// writeError maps the typed pipeline errors onto HTTP statuses: bad input is
// the caller's fault, provider failures and malformed provider output are
// upstream faults, storage failures are ours.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	var validation *pipeline.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": validation.Error()})
		return
	}

	var format *pipeline.FormatError
	if errors.As(err, &format) {
		h.logger.Warn("provider returned malformed output", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "malformed_provider_output", "detail": format.Reason})
		return
	}

	var provider *pipeline.ProviderError
	if errors.As(err, &provider) {
		h.logger.Warn("provider call failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_error", "detail": provider.Message})
		return
	}

	var partial *pipeline.PartialFailure
	if errors.As(err, &partial) {
		h.logger.Error("artifact partially saved", zap.String("blob_url", partial.BlobURL), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "partial_save",
			"blob_url": partial.BlobURL,
		})
		return
	}

	if errors.Is(err, calendar.ErrEventNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if errors.Is(err, assistant.ErrUnknownTool) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_tool"})
		return
	}

	h.logger.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func eventJSON(event calendar.Event) gin.H {
	return gin.H{
		"id":           event.ID,
		"title":        event.Title,
		"note":         event.Note,
		"date":         event.Date,
		"created_at_s": event.CreatedAtSeconds,
	}
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
