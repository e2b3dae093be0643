package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/Monthlyaway/shortlinkd/internal/middleware"
	"github.com/Monthlyaway/shortlinkd/internal/model"
	"github.com/Monthlyaway/shortlinkd/internal/quota"
	"github.com/Monthlyaway/shortlinkd/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// LinkHandler handles HTTP requests for link operations
type LinkHandler struct {
	service *service.LinkService
	health  Pinger
	baseURL string
	logger  *zap.Logger
}

// NewLinkHandler creates a new link handler instance
func NewLinkHandler(svc *service.LinkService, health Pinger, baseURL string, logger *zap.Logger) *LinkHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkHandler{
		service: svc,
		health:  health,
		baseURL: baseURL,
		logger:  logger.With(zap.String("component", "link_handler")),
	}
}

// Register mounts the link routes. The catch-all redirect is registered last.
func (h *LinkHandler) Register(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/links", h.CreateLink)
		v1.GET("/links", h.ListLinks)
		v1.GET("/links/:code", h.GetLinkInfo)
		v1.POST("/links/:code/deactivate", h.DeactivateLink)
		v1.DELETE("/links/:code", h.DeleteLink)
	}

	router.GET("/:code", h.Redirect)
}

// CreateLinkRequest represents the request body for creating a short link
type CreateLinkRequest struct {
	URL         string `json:"url" binding:"required"`
	CustomAlias string `json:"custom_alias,omitempty"`
	Title       string `json:"title,omitempty" binding:"max=255"`
	Description string `json:"description,omitempty" binding:"max=1024"`
}

// LinkResponse represents a link as returned to its creator
type LinkResponse struct {
	ShortCode      string           `json:"short_code"`
	ShortURL       string           `json:"short_url"`
	DestinationURL string           `json:"destination_url"`
	Title          string           `json:"title,omitempty"`
	Description    string           `json:"description,omitempty"`
	ClickCount     uint64           `json:"click_count"`
	Status         model.LinkStatus `json:"status"`
	CustomAlias    bool             `json:"custom_alias"`
	CreatedAt      time.Time        `json:"created_at"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	Existing       bool             `json:"existing,omitempty"`
}

// ListLinksResponse is one page of links
type ListLinksResponse struct {
	Links    []LinkResponse `json:"links"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// Response represents a generic API response
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateLink handles POST /api/v1/links
func (h *LinkHandler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: "Invalid request: " + err.Error(),
			Error:   "BAD_REQUEST",
		})
		return
	}

	creator, _ := middleware.Caller(c)
	res, err := h.service.Create(c.Request.Context(), service.CreateInput{
		Creator:     creator,
		URL:         req.URL,
		Alias:       req.CustomAlias,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	body := h.toResponse(res.Link)
	body.Existing = res.Existing
	c.JSON(status, Response{Code: status, Data: body})
}

// Redirect handles GET /:code
func (h *LinkHandler) Redirect(c *gin.Context) {
	dest, err := h.service.Resolve(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Redirect(http.StatusFound, dest)
}

// GetLinkInfo handles GET /api/v1/links/:code
func (h *LinkHandler) GetLinkInfo(c *gin.Context) {
	creator, admin := middleware.Caller(c)
	link, err := h.service.Info(c.Request.Context(), c.Param("code"), creator, admin)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Data: h.toResponse(link)})
}

// ListLinks handles GET /api/v1/links?page=&page_size=
func (h *LinkHandler) ListLinks(c *gin.Context) {
	creator, _ := middleware.Caller(c)
	if creator.IsAnonymous() {
		c.JSON(http.StatusUnauthorized, Response{
			Code:    http.StatusUnauthorized,
			Message: "Listing links requires an identified caller",
			Error:   "UNAUTHORIZED",
		})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(service.DefaultPageSize)))

	res, err := h.service.List(c.Request.Context(), creator, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	out := ListLinksResponse{
		Links:    make([]LinkResponse, 0, len(res.Links)),
		Total:    res.Total,
		Page:     res.Page,
		PageSize: res.PageSize,
	}
	for i := range res.Links {
		out.Links = append(out.Links, h.toResponse(&res.Links[i]))
	}
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Data: out})
}

// DeactivateLink handles POST /api/v1/links/:code/deactivate
func (h *LinkHandler) DeactivateLink(c *gin.Context) {
	creator, admin := middleware.Caller(c)
	if err := h.service.Deactivate(c.Request.Context(), c.Param("code"), creator, admin); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteLink handles DELETE /api/v1/links/:code
func (h *LinkHandler) DeleteLink(c *gin.Context) {
	creator, admin := middleware.Caller(c)
	if err := h.service.Delete(c.Request.Context(), c.Param("code"), creator, admin); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HealthCheck handles GET /health
func (h *LinkHandler) HealthCheck(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Ping(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, Response{
				Code:    http.StatusServiceUnavailable,
				Message: "Link store unavailable",
				Error:   "STORE_UNAVAILABLE",
			})
			return
		}
	}
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Message: "OK"})
}

// fail writes the error envelope for a service error
func (h *LinkHandler) fail(c *gin.Context, err error) {
	code := service.ErrorCode(err)
	status := statusFor(code)

	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(exceeded.RetryAfter.Seconds()))))
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("error_code", code), zap.Error(err))
	}
	_ = c.Error(err)

	c.JSON(status, Response{
		Code:    status,
		Message: messageFor(code),
		Error:   code,
	})
}

func statusFor(code string) int {
	switch code {
	case "INVALID_URL", "ALIAS_BAD_FORMAT", "ALIAS_RESERVED":
		return http.StatusBadRequest
	case "ALIAS_TAKEN":
		return http.StatusConflict
	case "QUOTA_EXCEEDED":
		return http.StatusTooManyRequests
	case "LINK_NOT_FOUND":
		return http.StatusNotFound
	case "LINK_EXPIRED":
		return http.StatusGone
	case "NOT_OWNER":
		return http.StatusForbidden
	case "STORE_UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(code string) string {
	switch code {
	case "INVALID_URL":
		return "Destination URL is invalid"
	case "ALIAS_BAD_FORMAT":
		return "Custom alias must be 3-32 characters of letters, digits, '-' or '_'"
	case "ALIAS_RESERVED":
		return "Custom alias is reserved"
	case "ALIAS_TAKEN":
		return "Custom alias is already taken"
	case "QUOTA_EXCEEDED":
		return "Link creation quota exceeded"
	case "LINK_NOT_FOUND":
		return "Short link not found"
	case "LINK_EXPIRED":
		return "Short link has expired"
	case "NOT_OWNER":
		return "You do not own this link"
	case "STORE_UNAVAILABLE":
		return "Service temporarily unavailable"
	case "CODE_SPACE_EXHAUSTED":
		return "Could not allocate a short code"
	default:
		return "Internal server error"
	}
}

func (h *LinkHandler) toResponse(link *model.Link) LinkResponse {
	return LinkResponse{
		ShortCode:      link.Code,
		ShortURL:       h.buildShortURL(link.Code),
		DestinationURL: link.DestinationURL,
		Title:          link.Title,
		Description:    link.Description,
		ClickCount:     link.ClickCount,
		Status:         link.Status(h.service.Now()),
		CustomAlias:    link.IsCustomAlias,
		CreatedAt:      link.CreatedAt,
		ExpiresAt:      link.ExpiresAt,
	}
}

// buildShortURL builds the full short URL
func (h *LinkHandler) buildShortURL(code string) string {
	return fmt.Sprintf("%s/%s", h.baseURL, code)
}
