package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jobdeck/backend/internal/domain/shared"
	"github.com/jobdeck/backend/internal/interfaces/http/dto"
	"github.com/jobdeck/backend/internal/interfaces/http/middleware"
)

// UserIDHeader carries the authenticated user's ID, set by the API edge
// after token verification
const UserIDHeader = "X-User-ID"

// ActorIDHeader carries the acting admin's ID on admin endpoints
const ActorIDHeader = "X-Actor-ID"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getUserID extracts the authenticated user's ID from the request
func getUserID(c *gin.Context) (uuid.UUID, error) {
	raw := c.GetHeader(UserIDHeader)
	if raw == "" {
		return uuid.Nil, errors.New("missing " + UserIDHeader + " header")
	}
	return uuid.Parse(raw)
}

// getActorID extracts the acting admin's ID from the request
func getActorID(c *gin.Context) (uuid.UUID, error) {
	raw := c.GetHeader(ActorIDHeader)
	if raw == "" {
		return uuid.Nil, errors.New("missing " + ActorIDHeader + " header")
	}
	return uuid.Parse(raw)
}

// Success sends a 200 response with the standard envelope
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 response with the standard envelope
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// BadRequest sends a 400 response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeBadRequest, message, middleware.GetRequestID(c)))
}

// BindError sends a 400 response for a failed request binding, with
// per-field messages when the failure came from validation tags
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	h.BadRequest(c, middleware.ValidationMessage(err))
}

// Unauthorized sends a 401 response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
		"UNAUTHORIZED", message, middleware.GetRequestID(c)))
}

// HandleError maps domain errors onto the HTTP taxonomy; anything else
// becomes an opaque 500
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	requestID := middleware.GetRequestID(c)

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		status := dto.GetHTTPStatus(domainErr.Code)
		c.JSON(status, dto.NewErrorResponseWithRequestID(domainErr.Code, domainErr.Message, requestID))
		return
	}

	c.JSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeInternal, "An unexpected error occurred", requestID))
}
