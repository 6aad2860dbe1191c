package handlers

import (
	"github.com/gin-gonic/gin"

	"conseq/internal/core/apperror"
	"conseq/internal/core/id"
	"conseq/internal/domain/sequence"
	"conseq/internal/infrastructure/http/v1/dto"
)

// BlockHandler handles block reservation endpoints.
type BlockHandler struct {
	*BaseHandler
	service *sequence.Service
}

// NewBlockHandler creates a new block handler.
func NewBlockHandler(base *BaseHandler, service *sequence.Service) *BlockHandler {
	return &BlockHandler{BaseHandler: base, service: service}
}

// RegisterRoutes registers block endpoints.
// Reservation and settlement live under the owning sequence; consumption and
// inspection address the block directly by its id.
func (h *BlockHandler) RegisterRoutes(sequences, blocks *gin.RouterGroup) {
	sequences.POST("/:idOrName/blocks", h.Reserve)
	sequences.POST("/:idOrName/blocks/:blockId/commit", h.Commit)
	sequences.POST("/:idOrName/blocks/:blockId/cancel", h.Cancel)

	blocks.GET("/:blockId", h.Info)
	blocks.GET("/:blockId/availability", h.Availability)
	blocks.POST("/:blockId/next", h.Next)
}

func (h *BlockHandler) blockID(c *gin.Context) (id.ID, bool) {
	blockID, err := id.Parse(c.Param("blockId"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid block id").
			WithDetail("blockId", c.Param("blockId")))
		return id.Nil(), false
	}
	return blockID, true
}

// Reserve handles POST /sequences/:idOrName/blocks.
func (h *BlockHandler) Reserve(c *gin.Context) {
	var req dto.ReserveBlockRequest
	if !h.BindJSON(c, &req) {
		return
	}

	receipt, err := h.service.ReserveBlock(c.Request.Context(), c.Param("idOrName"), req.ToDomain())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromReceipt(receipt))
}

// Commit handles POST /sequences/:idOrName/blocks/:blockId/commit.
func (h *BlockHandler) Commit(c *gin.Context) {
	blockID, ok := h.blockID(c)
	if !ok {
		return
	}
	var req dto.CommitBlockRequest
	if !h.BindJSON(c, &req) {
		return
	}

	err := h.service.CommitReservation(c.Request.Context(), c.Param("idOrName"), blockID, req.Values)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "reservation committed")
}

// Cancel handles POST /sequences/:idOrName/blocks/:blockId/cancel.
// The reserved range stays consumed; cancelling only stops further use.
func (h *BlockHandler) Cancel(c *gin.Context) {
	blockID, ok := h.blockID(c)
	if !ok {
		return
	}

	err := h.service.CancelReservation(c.Request.Context(), c.Param("idOrName"), blockID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "reservation cancelled")
}

// Info handles GET /blocks/:blockId.
func (h *BlockHandler) Info(c *gin.Context) {
	blockID, ok := h.blockID(c)
	if !ok {
		return
	}

	info, err := h.service.GetBlockInfo(c.Request.Context(), blockID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromBlockInfo(info))
}

// Availability handles GET /blocks/:blockId/availability.
func (h *BlockHandler) Availability(c *gin.Context) {
	blockID, ok := h.blockID(c)
	if !ok {
		return
	}

	available, remaining, err := h.service.CheckBlockAvailability(c.Request.Context(), blockID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.AvailabilityResponse{Available: available, Remaining: remaining})
}

// Next handles POST /blocks/:blockId/next.
func (h *BlockHandler) Next(c *gin.Context) {
	blockID, ok := h.blockID(c)
	if !ok {
		return
	}

	value, err := h.service.UseFromBlock(c.Request.Context(), blockID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ValueResponse{Value: value})
}
