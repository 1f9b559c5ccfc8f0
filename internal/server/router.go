package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sloth-meeplo/meeplo/backend/internal/auth"
	"github.com/sloth-meeplo/meeplo/backend/internal/kakao"
	"github.com/sloth-meeplo/meeplo/backend/internal/members"
	"github.com/sloth-meeplo/meeplo/backend/internal/metrics"
	"github.com/sloth-meeplo/meeplo/backend/internal/schedules"
	"go.uber.org/zap"
)

const (
	memberIDContextKey       = "meeplo_member_id"
	refreshHeader            = "Refresh"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingMemberService   = errors.New("member service dependency required")
	errMissingScheduleService = errors.New("schedule service dependency required")
)

// MemberService is the member-facing surface of members.Service.
type MemberService interface {
	Login(ctx context.Context, authorization string) (members.LoginResult, error)
	Refresh(ctx context.Context, authorization, refreshToken string) (auth.TokenPair, error)
	Profile(ctx context.Context, authorization string) (members.MemberDetail, error)
	UpdateProfile(ctx context.Context, authorization string, update members.ProfileUpdate) error
	Deactivate(ctx context.Context, authorization string) error
	ListStartLocations(ctx context.Context, authorization string) ([]members.LocationSummary, error)
	AddStartLocation(ctx context.Context, authorization string, request members.LocationRequest) (members.LocationSummary, error)
	DeleteStartLocation(ctx context.Context, authorization string, locationID uint64) error
	MemberIDFromAuthorization(authorization string) (uint64, error)
}

// ScheduleService is the surface of schedules.Service used by the handlers.
type ScheduleService interface {
	CreateSchedule(ctx context.Context, memberID uint64, request schedules.ScheduleRequest) (schedules.ScheduleSummary, error)
	GetSchedule(ctx context.Context, memberID, scheduleID uint64) (schedules.ScheduleDetail, error)
	ListSchedules(ctx context.Context, memberID uint64) ([]schedules.ScheduleSummary, error)
	Join(ctx context.Context, memberID, scheduleID uint64) error
	Leave(ctx context.Context, memberID, scheduleID uint64) error
	SetStartLocation(ctx context.Context, memberID, scheduleID, locationID uint64) error
	CloseSchedule(ctx context.Context, memberID, scheduleID uint64) error
	IsParticipant(ctx context.Context, memberID, scheduleID uint64) (bool, error)
}

type Dependencies struct {
	Members           MemberService
	Schedules         ScheduleService
	Events            *ScheduleEventDispatcher
	Metrics           *metrics.Metrics
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Members == nil {
		return nil, errMissingMemberService
	}
	if deps.Schedules == nil {
		return nil, errMissingScheduleService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = NewScheduleEventDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	handler := &httpHandler{
		members:           deps.Members,
		schedules:         deps.Schedules,
		events:            events,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	member := router.Group("/member")
	member.POST("/kakao", handler.handleLogin)
	member.POST("/refresh", handler.handleRefresh)
	member.GET("", handler.handleProfile)
	member.PUT("", handler.handleUpdateProfile)
	member.DELETE("", handler.handleDeactivate)
	member.GET("/location", handler.handleListLocations)
	member.POST("/location", handler.handleAddLocation)
	member.DELETE("/location/:id", handler.handleDeleteLocation)

	schedule := router.Group("/schedule")
	schedule.GET("/:id/stream", handler.authorizeStream, handler.handleScheduleStream)
	schedule.Use(handler.authorizeRequest)
	schedule.POST("", handler.handleCreateSchedule)
	schedule.GET("", handler.handleListSchedules)
	schedule.GET("/:id", handler.handleGetSchedule)
	schedule.POST("/:id/member", handler.handleJoinSchedule)
	schedule.DELETE("/:id/member", handler.handleLeaveSchedule)
	schedule.PUT("/:id/member/location", handler.handleSetScheduleLocation)
	schedule.POST("/:id/close", handler.handleCloseSchedule)

	return router, nil
}

type httpHandler struct {
	members           MemberService
	schedules         ScheduleService
	events            *ScheduleEventDispatcher
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", refreshHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

// authorizeRequest resolves the bearer access token into a member id for schedule routes.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !auth.HasBearerPrefix(header) || strings.TrimSpace(auth.StripBearer(header)) == "" {
		h.writeError(c, members.ErrInvalidCredentialFormat)
		return
	}
	memberID, err := h.members.MemberIDFromAuthorization(header)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	c.Set(memberIDContextKey, memberID)
	c.Next()
}

// authorizeStream also accepts the token as an access_token query parameter,
// since EventSource cannot send headers.
func (h *httpHandler) authorizeStream(c *gin.Context) {
	if c.GetHeader("Authorization") == "" {
		if token := strings.TrimSpace(c.Query("access_token")); token != "" {
			c.Request.Header.Set("Authorization", auth.BearerPrefix+token)
		}
	}
	h.authorizeRequest(c)
}

// writeError maps service errors onto status codes and aborts the request.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, members.ErrInvalidCredentialFormat):
		return http.StatusBadRequest, "invalid_credential_format"
	case errors.Is(err, members.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, members.ErrResourceNotFound), errors.Is(err, schedules.ErrResourceNotFound):
		return http.StatusNotFound, "resource_not_found"
	case errors.Is(err, members.ErrUnauthorized), errors.Is(err, schedules.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, schedules.ErrScheduleClosed):
		return http.StatusConflict, "schedule_closed"
	case errors.Is(err, schedules.ErrLeaderHasMembers):
		return http.StatusConflict, "leader_has_members"
	case errors.Is(err, schedules.ErrInvalidSchedule):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, kakao.ErrAddressNotFound):
		return http.StatusUnprocessableEntity, "address_not_found"
	case errors.Is(err, kakao.ErrProviderRejected):
		return http.StatusUnauthorized, "provider_rejected"
	case errors.Is(err, kakao.ErrUpstream):
		return http.StatusBadGateway, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return 0, false
	}
	return id, true
}
