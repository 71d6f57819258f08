package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/blobstore"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/integrity"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/transmission"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "kore_user_id"
	actorContextKey  = "kore_actor"

	defaultSignedURLTTL      = 15 * time.Minute
	defaultHeartbeatInterval = 25 * time.Second
	maxUploadBytes           = 64 << 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingProfileResolver  = errors.New("profile resolver dependency required")
	errMissingDocumentsService = errors.New("documents service dependency required")
	errMissingExporter         = errors.New("exporter dependency required")
	errMissingTransmission     = errors.New("transmission service dependency required")
	errMissingBlobStore        = errors.New("blob store dependency required")
)

// SessionValidator authenticates a request from its TAuth session cookie or bearer token.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// ProfileResolver maps session claims onto the canonical user profile.
type ProfileResolver interface {
	ResolveProfile(ctx context.Context, claims auth.SessionClaims) (users.Profile, error)
}

// SignedBlobReader serves blobs behind locally signed URLs.
type SignedBlobReader interface {
	VerifySignedPath(objectPath, token string) error
	Get(ctx context.Context, objectPath string) ([]byte, error)
}

type Dependencies struct {
	SessionValidator SessionValidator
	Profiles         ProfileResolver
	Documents        *documents.Service
	Exporter         *integrity.Exporter
	Transmission     *transmission.Service
	Blobs            blobstore.Store
	// SignedBlobs is set when the blob store signs URLs served by this API.
	SignedBlobs       SignedBlobReader
	MetricsHandler    http.Handler
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	SignedURLTTL      time.Duration
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Profiles == nil {
		return nil, errMissingProfileResolver
	}
	if deps.Documents == nil {
		return nil, errMissingDocumentsService
	}
	if deps.Exporter == nil {
		return nil, errMissingExporter
	}
	if deps.Transmission == nil {
		return nil, errMissingTransmission
	}
	if deps.Blobs == nil {
		return nil, errMissingBlobStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	signedURLTTL := deps.SignedURLTTL
	if signedURLTTL <= 0 {
		signedURLTTL = defaultSignedURLTTL
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.MaxMultipartMemory = maxUploadBytes

	handler := &httpHandler{
		sessions:          deps.SessionValidator,
		profiles:          deps.Profiles,
		documents:         deps.Documents,
		exporter:          deps.Exporter,
		transmission:      deps.Transmission,
		blobs:             deps.Blobs,
		signedBlobs:       deps.SignedBlobs,
		realtime:          deps.Realtime,
		logger:            logger,
		signedURLTTL:      signedURLTTL,
		heartbeatInterval: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}
	if deps.SignedBlobs != nil {
		router.GET(blobstore.SignedPathPrefix+"*objectPath", handler.handleSignedBlob)
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/documents", handler.handleListDocuments)
	protected.POST("/documents", handler.handleCreateDocument)
	protected.GET("/documents/similar", handler.handleSimilarTitles)
	protected.GET("/documents/number-preview", handler.handleNumberPreview)
	protected.GET("/documents/:documentID", handler.handleGetDocument)
	protected.GET("/documents/:documentID/revisions", handler.handleListRevisions)
	protected.POST("/documents/:documentID/revisions", handler.handleAppendRevision)

	protected.GET("/revisions/:revisionID/workflow", handler.handleWorkflow)
	protected.POST("/revisions/:revisionID/signatures", handler.handleSign)
	protected.GET("/revisions/:revisionID/download", handler.handleDownload)
	protected.GET("/revisions/:revisionID/file-url", handler.handleFileURL)

	protected.GET("/bordereaux", handler.handleListBordereaux)
	protected.POST("/bordereaux", handler.handleCreateBordereau)
	protected.GET("/bordereaux/next-number", handler.handleNextBordereauNumber)
	protected.GET("/bordereaux/:bordereauID", handler.handleGetBordereau)
	protected.GET("/bordereaux/:bordereauID/pdf", handler.handleBordereauPDF)

	if deps.Realtime != nil {
		protected.GET("/events", handler.handleEventStream)
	}

	return router, nil
}

type httpHandler struct {
	sessions          SessionValidator
	profiles          ProfileResolver
	documents         *documents.Service
	exporter          *integrity.Exporter
	transmission      *transmission.Service
	blobs             blobstore.Store
	signedBlobs       SignedBlobReader
	realtime          *RealtimeDispatcher
	logger            *zap.Logger
	signedURLTTL      time.Duration
	heartbeatInterval time.Duration
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	profile, err := h.profiles.ResolveProfile(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve user profile", zap.String("subject", claims.Subject), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, profile.UserID)
	c.Set(actorContextKey, documents.Actor{
		UserID:      profile.UserID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
	})
	c.Next()
}

func actorFromContext(c *gin.Context) (documents.Actor, bool) {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return documents.Actor{}, false
	}
	actor, ok := value.(documents.Actor)
	return actor, ok && actor.UserID != ""
}

func statusForKind(kind documents.ErrorKind) int {
	switch kind {
	case documents.KindDuplicateDocumentNumber, documents.KindAlreadySigned:
		return http.StatusConflict
	case documents.KindRoleNotApplicable, documents.KindMissingRequiredField, documents.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case documents.KindNotFound:
		return http.StatusNotFound
	case documents.KindStorageFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps service errors onto their HTTP status. Internal failures are logged by the
// services themselves and reported without detail.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := documents.KindOf(err)
	body := gin.H{"error": string(kind)}
	var serviceErr *documents.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else if status != http.StatusNotFound {
		body["message"] = err.Error()
	}
	c.JSON(status, body)
}

func (h *httpHandler) handleSignedBlob(c *gin.Context) {
	objectPath := strings.TrimPrefix(c.Param("objectPath"), "/")
	token := c.Query(blobstore.SignedTokenParam)
	if err := h.signedBlobs.VerifySignedPath(objectPath, token); err != nil {
		h.logger.Warn("signed blob url rejected", zap.String("path", objectPath), zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	data, err := h.signedBlobs.Get(c.Request.Context(), objectPath)
	if errors.Is(err, blobstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to read signed blob", zap.String("path", objectPath), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": string(documents.KindStorageFailure)})
		return
	}
	c.Data(http.StatusOK, contentTypeForName(objectPath), data)
}
