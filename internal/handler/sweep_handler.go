package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agrocert/agrocert-api/internal/dto"
	"github.com/agrocert/agrocert-api/pkg/response"
)

type sweeper interface {
	CheckExpiringSoonCredentials(ctx context.Context) error
	ProcessExpiredCredentials(ctx context.Context) error
}

// SweepHandler lets admins trigger the expiry sweeps on demand, outside the
// periodic schedule.
type SweepHandler struct {
	orchestrator sweeper
}

// NewSweepHandler builds a new handler.
func NewSweepHandler(orchestrator sweeper) *SweepHandler {
	return &SweepHandler{orchestrator: orchestrator}
}

// RunExpiring godoc
// @Summary Run the expiring-soon sweep now
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/sweeps/expiring [post]
func (h *SweepHandler) RunExpiring(c *gin.Context) {
	if err := h.orchestrator.CheckExpiringSoonCredentials(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SweepResponse{Sweep: "expiring"}, nil)
}

// RunExpired godoc
// @Summary Run the expired sweep now
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/sweeps/expired [post]
func (h *SweepHandler) RunExpired(c *gin.Context) {
	if err := h.orchestrator.ProcessExpiredCredentials(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SweepResponse{Sweep: "expired"}, nil)
}
