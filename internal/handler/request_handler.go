package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agrocert/agrocert-api/internal/dto"
	"github.com/agrocert/agrocert-api/internal/models"
	"github.com/agrocert/agrocert-api/internal/workflow"
	appErrors "github.com/agrocert/agrocert-api/pkg/errors"
	"github.com/agrocert/agrocert-api/pkg/response"
)

type requestService interface {
	Create(ctx context.Context, req dto.CreateRequestRequest, actor *models.JWTClaims) (*models.CertificationRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.CertificationRequest, error)
	List(ctx context.Context, query dto.RequestQuery, actor *models.JWTClaims) ([]models.CertificationRequest, error)
	NextStatuses(ctx context.Context, id string, actor *models.JWTClaims) ([]workflow.Status, error)
	Transition(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.CertificationRequest, error)
	SpecialTransition(ctx context.Context, id string, caseName string, req dto.SpecialTransitionRequest, actor *models.JWTClaims) (*models.CertificationRequest, error)
	History(ctx context.Context, id string, actor *models.JWTClaims) ([]models.HistoryEntry, error)
	Integrity(ctx context.Context, id string, actor *models.JWTClaims) (*dto.IntegrityResponse, error)
}

type auditReader interface {
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]models.AuditLog, error)
}

// RequestHandler exposes certification request endpoints.
type RequestHandler struct {
	service requestService
	audit   auditReader
}

// NewRequestHandler builds a new handler.
func NewRequestHandler(service requestService, audit auditReader) *RequestHandler {
	return &RequestHandler{service: service, audit: audit}
}

// Create godoc
// @Summary Open a new certification request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateRequestRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	var req dto.CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}
	created, err := h.service.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, created, nil)
}

// List godoc
// @Summary List certification requests
// @Tags Requests
// @Produce json
// @Param status query string false "Comma-separated status filter"
// @Param subject_id query string false "Filter by subject"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	var query dto.RequestQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid list query"))
		return
	}
	list, err := h.service.List(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}

// Get godoc
// @Summary Get one certification request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	request, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// NextStatuses godoc
// @Summary Statuses the caller can move the request to
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/next-statuses [get]
func (h *RequestHandler) NextStatuses(c *gin.Context) {
	claims := claimsFromContext(c)
	request, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	next, err := h.service.NextStatuses(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NextStatusesResponse{
		RequestID:     request.ID,
		CurrentStatus: request.Status,
		NextStatuses:  next,
	}, nil)
}

// Transition godoc
// @Summary Move a request to its next status
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.TransitionRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /requests/{id}/transition [post]
func (h *RequestHandler) Transition(c *gin.Context) {
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transition payload"))
		return
	}
	updated, err := h.service.Transition(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// SpecialTransition godoc
// @Summary Apply a special-case transition
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param case path string true "Special case name"
// @Param payload body dto.SpecialTransitionRequest false "Optional note"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /requests/{id}/special/{case} [post]
func (h *RequestHandler) SpecialTransition(c *gin.Context) {
	var req dto.SpecialTransitionRequest
	// The note body is optional.
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid special transition payload"))
			return
		}
	}
	updated, err := h.service.SpecialTransition(c.Request.Context(), c.Param("id"), c.Param("case"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// History godoc
// @Summary Transition history of a request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/history [get]
func (h *RequestHandler) History(c *gin.Context) {
	history, err := h.service.History(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// AuditTrail godoc
// @Summary Audit log entries recorded for a request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Param limit query int false "Maximum entries to return"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/audit [get]
func (h *RequestHandler) AuditTrail(c *gin.Context) {
	if _, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	entries, err := h.audit.ListByEntity(c.Request.Context(), "certification_request", c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Integrity godoc
// @Summary Audit a request's history for gaps and illegal transitions
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/integrity [get]
func (h *RequestHandler) Integrity(c *gin.Context) {
	report, err := h.service.Integrity(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
