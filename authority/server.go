package authority

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/tradedocs/config"
	"github.com/mmdatafocus/tradedocs/models"
	"github.com/mmdatafocus/tradedocs/remote"
	"github.com/mmdatafocus/tradedocs/utils"
	"github.com/sirupsen/logrus"
)

type RouterOption func(*routerConfig)

type routerConfig struct {
	requireAuth bool
	logger      *logrus.Logger
}

// WithAuth requires a valid bearer token on every document route.
func WithAuth() RouterOption {
	return func(c *routerConfig) { c.requireAuth = true }
}

func WithLogger(l *logrus.Logger) RouterOption {
	return func(c *routerConfig) { c.logger = l }
}

// NewRouter exposes the store over the JSON document API.
func NewRouter(store *Store, opts ...RouterOption) *gin.Engine {
	cfg := routerConfig{logger: config.GetLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader(remote.HeaderCorrelationId)
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(requestLogger(cfg.logger))

	corsConfig := cors.DefaultConfig()
	if origins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); origins != "" {
		corsConfig.AllowOrigins = splitAndTrim(origins)
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", remote.HeaderIdempotency, remote.HeaderCorrelationId)
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	h := &handlers{store: store, logger: cfg.logger}
	api := r.Group("/api/v1")
	api.Use(authMiddleware(cfg.requireAuth))
	api.GET("/documents/:collection", h.list)
	api.POST("/documents/:collection", h.create)
	api.GET("/documents/:collection/:id", h.get)
	api.PATCH("/documents/:collection/:id", h.update)
	api.DELETE("/documents/:collection/:id", h.delete)
	api.POST("/documents/:collection/:id/convert", h.createAndLink)
	api.POST("/catalog/names", h.resolveNames)
	return r
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        time.Since(start).String(),
			"correlation_id": cid,
		}).Debug("request")
	}
}

// authMiddleware validates the bearer token and puts its claims on the request context.
func authMiddleware(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			if required {
				writeError(c, &remote.APIError{StatusCode: http.StatusUnauthorized, Code: remote.CodeUnauthorized, Message: "Unauthorized"})
				c.Abort()
				return
			}
			c.Next()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		validated, err := utils.JwtValidate(token)
		if err != nil || !validated.Valid {
			writeError(c, &remote.APIError{StatusCode: http.StatusUnauthorized, Code: remote.CodeUnauthorized, Message: "Unauthorized"})
			c.Abort()
			return
		}
		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		if claim, ok := validated.Claims.(*utils.JwtCustomClaim); ok {
			ctx = utils.SetBusinessIdInContext(ctx, claim.Business)
			ctx = utils.SetUserIdInContext(ctx, claim.ID)
			ctx = utils.SetUsernameInContext(ctx, "user-"+strconv.Itoa(claim.ID))
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type handlers struct {
	store  *Store
	logger *logrus.Logger
}

func collectionParam(c *gin.Context) (models.DocumentType, bool) {
	t, err := models.ParseDocumentType(c.Param("collection"))
	if err != nil {
		writeError(c, &remote.APIError{StatusCode: http.StatusNotFound, Code: remote.CodeNotFound, Message: "unknown collection"})
		return "", false
	}
	return t, true
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, &remote.APIError{StatusCode: http.StatusBadRequest, Code: "invalid_id", Message: "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *handlers) list(c *gin.Context) {
	t, ok := collectionParam(c)
	if !ok {
		return
	}
	docs, err := h.store.List(c.Request.Context(), t)
	if err != nil {
		h.fail(c, "list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": docs})
}

func (h *handlers) get(c *gin.Context) {
	t, ok := collectionParam(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	doc, err := h.store.Get(c.Request.Context(), t, id)
	if err != nil {
		h.fail(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": doc})
}

func (h *handlers) create(c *gin.Context) {
	t, ok := collectionParam(c)
	if !ok {
		return
	}
	var draft models.DocumentDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		writeError(c, &models.ValidationError{Message: err.Error()})
		return
	}
	doc, err := h.store.Create(c.Request.Context(), t, draft, c.GetHeader(remote.HeaderIdempotency))
	if err != nil {
		h.fail(c, "create", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": doc})
}

func (h *handlers) update(c *gin.Context) {
	t, ok := collectionParam(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	var patch models.DocumentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, &models.ValidationError{Message: err.Error()})
		return
	}
	doc, err := h.store.Update(c.Request.Context(), t, id, patch)
	if err != nil {
		h.fail(c, "update", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": doc})
}

func (h *handlers) delete(c *gin.Context) {
	t, ok := collectionParam(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), t, id); err != nil {
		h.fail(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) createAndLink(c *gin.Context) {
	t, ok := collectionParam(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	var draft models.DocumentDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		writeError(c, &models.ValidationError{Message: err.Error()})
		return
	}
	res, err := h.store.CreateAndLink(c.Request.Context(), t, id, draft, c.GetHeader(remote.HeaderIdempotency))
	if err != nil {
		h.fail(c, "createAndLink", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": res})
}

func (h *handlers) resolveNames(c *gin.Context) {
	var req struct {
		Kind string  `json:"kind"`
		Ids  []int64 `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &models.ValidationError{Message: err.Error()})
		return
	}
	names, err := h.store.ResolveNames(c.Request.Context(), req.Kind, req.Ids)
	if err != nil {
		h.fail(c, "resolveNames", err)
		return
	}
	out := make(map[string]string, len(names))
	for id, name := range names {
		out[strconv.FormatInt(id, 10)] = name
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *handlers) fail(c *gin.Context, funcName string, err error) {
	status := writeError(c, err)
	if status >= http.StatusInternalServerError {
		config.LogError(h.logger, "authority", funcName, c.Request.URL.Path, nil, err)
	}
}

// writeError renders err in the API error envelope and returns the status used.
func writeError(c *gin.Context, err error) int {
	status, code := http.StatusInternalServerError, "internal"
	var (
		apiErr *remote.APIError
		na     *models.NotAllowedError
		ve     *models.ValidationError
	)
	switch {
	case errors.As(err, &na):
		status, code = http.StatusConflict, remote.CodeNotAllowed
	case errors.As(err, &ve):
		status, code = http.StatusBadRequest, remote.CodeValidationFailed
	case errors.As(err, &apiErr):
		status, code = apiErr.StatusCode, apiErr.Code
	case errors.Is(err, ErrUnknownType):
		status, code = http.StatusNotFound, remote.CodeNotFound
	}
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": err.Error()}})
	return status
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
