package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agrocert/agrocert-api/internal/dto"
	"github.com/agrocert/agrocert-api/internal/models"
	appErrors "github.com/agrocert/agrocert-api/pkg/errors"
	"github.com/agrocert/agrocert-api/pkg/response"
)

type credentialService interface {
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Credential, error)
	GetByRequestID(ctx context.Context, requestID string, actor *models.JWTClaims) (*models.Credential, error)
	List(ctx context.Context, query dto.CredentialQuery, actor *models.JWTClaims) ([]models.Credential, error)
	Revoke(ctx context.Context, id string, req dto.RevokeCredentialRequest, actor *models.JWTClaims) (*models.Credential, error)
}

// CredentialHandler exposes credential endpoints.
type CredentialHandler struct {
	service credentialService
}

// NewCredentialHandler builds a new handler.
func NewCredentialHandler(service credentialService) *CredentialHandler {
	return &CredentialHandler{service: service}
}

// List godoc
// @Summary List credentials
// @Tags Credentials
// @Produce json
// @Param status query string false "Comma-separated status filter"
// @Param subject_id query string false "Filter by subject"
// @Success 200 {object} response.Envelope
// @Router /credentials [get]
func (h *CredentialHandler) List(c *gin.Context) {
	var query dto.CredentialQuery
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
// @Summary Get one credential
// @Tags Credentials
// @Produce json
// @Param id path string true "Credential ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /credentials/{id} [get]
func (h *CredentialHandler) Get(c *gin.Context) {
	credential, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, credential, nil)
}

// GetByRequest godoc
// @Summary Credential issued for one request
// @Tags Credentials
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id}/credential [get]
func (h *CredentialHandler) GetByRequest(c *gin.Context) {
	credential, err := h.service.GetByRequestID(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, credential, nil)
}

// Revoke godoc
// @Summary Revoke an active credential
// @Tags Credentials
// @Accept json
// @Produce json
// @Param id path string true "Credential ID"
// @Param payload body dto.RevokeCredentialRequest true "Revocation reason"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /credentials/{id}/revoke [post]
func (h *CredentialHandler) Revoke(c *gin.Context) {
	var req dto.RevokeCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid revoke payload"))
		return
	}
	credential, err := h.service.Revoke(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, credential, nil)
}
