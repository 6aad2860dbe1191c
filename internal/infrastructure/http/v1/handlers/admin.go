package handlers

import (
	"github.com/gin-gonic/gin"

	"conseq/internal/domain/sequence"
	"conseq/internal/infrastructure/http/v1/dto"
)

// AdminHandler exposes maintenance operations normally run by the sweeper.
type AdminHandler struct {
	*BaseHandler
	service *sequence.Service
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(base *BaseHandler, service *sequence.Service) *AdminHandler {
	return &AdminHandler{BaseHandler: base, service: service}
}

// RegisterRoutes registers admin endpoints.
func (h *AdminHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/maintenance/expire-reservations", h.ExpireReservations)
}

// ExpireReservations handles POST /admin/maintenance/expire-reservations.
// Manual trigger for the sweep the background worker runs on a schedule.
func (h *AdminHandler) ExpireReservations(c *gin.Context) {
	expired, err := h.service.ExpireReservations(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ExpireSweepResponse{Expired: expired})
}
