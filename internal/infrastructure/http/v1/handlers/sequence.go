package handlers

import (
	"github.com/gin-gonic/gin"

	"conseq/internal/core/apperror"
	"conseq/internal/domain/sequence"
	"conseq/internal/infrastructure/http/v1/dto"
)

// SequenceHandler handles sequence definition, issuance and audit endpoints.
type SequenceHandler struct {
	*BaseHandler
	service *sequence.Service
}

// NewSequenceHandler creates a new sequence handler.
func NewSequenceHandler(base *BaseHandler, service *sequence.Service) *SequenceHandler {
	return &SequenceHandler{BaseHandler: base, service: service}
}

// RegisterRoutes registers sequence endpoints on the group.
func (h *SequenceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:idOrName", h.Get)
	rg.PUT("/:idOrName", h.Update)
	rg.DELETE("/:idOrName", h.Delete)
	rg.POST("/:idOrName/next", h.Next)
	rg.POST("/:idOrName/reset", h.Reset)
	rg.POST("/:idOrName/assignments", h.Assign)
	rg.GET("/:idOrName/metrics", h.Metrics)
	rg.GET("/:idOrName/history", h.History)
}

// Create handles POST /sequences.
func (h *SequenceHandler) Create(c *gin.Context) {
	var req dto.CreateSequenceRequest
	if !h.BindJSON(c, &req) {
		return
	}

	seq := req.ToDomain()
	if err := h.service.Create(c.Request.Context(), seq); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, seq.ID.String())
}

// List handles GET /sequences.
func (h *SequenceHandler) List(c *gin.Context) {
	var req dto.ListSequencesRequest
	if !h.BindQuery(c, &req) {
		return
	}

	result, err := h.service.List(c.Request.Context(), req.ToFilter())
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.SequenceResponse, 0, len(result.Items))
	for _, seq := range result.Items {
		items = append(items, dto.FromSequence(seq))
	}
	h.OK(c, dto.ListResponse{
		Items:      items,
		TotalCount: result.TotalCount,
		Limit:      result.Limit,
		Offset:     result.Offset,
	})
}

// Get handles GET /sequences/:idOrName.
func (h *SequenceHandler) Get(c *gin.Context) {
	seq, err := h.service.Get(c.Request.Context(), c.Param("idOrName"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSequence(seq))
}

// Update handles PUT /sequences/:idOrName.
func (h *SequenceHandler) Update(c *gin.Context) {
	var req dto.UpdateSequenceRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	seq, err := h.service.Get(ctx, c.Param("idOrName"))
	if err != nil {
		h.Error(c, err)
		return
	}

	req.Apply(seq)
	if err := h.service.UpdateDefinition(ctx, seq); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSequence(seq))
}

// Delete handles DELETE /sequences/:idOrName.
func (h *SequenceHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("idOrName")); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// Next handles POST /sequences/:idOrName/next.
// The issued value is final: it is consumed even if the caller discards it.
func (h *SequenceHandler) Next(c *gin.Context) {
	var req dto.NextValueRequest
	if !h.BindQuery(c, &req) {
		return
	}

	value, err := h.service.GetNextValue(c.Request.Context(), c.Param("idOrName"), sequence.NextOptions{
		Segment: req.Segment,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ValueResponse{Value: value})
}

// Reset handles POST /sequences/:idOrName/reset.
func (h *SequenceHandler) Reset(c *gin.Context) {
	var req dto.ResetRequest
	if !h.BindJSON(c, &req) {
		return
	}

	err := h.service.Reset(c.Request.Context(), c.Param("idOrName"), sequence.ResetRequest{
		Segment: req.Segment,
		Value:   req.Value,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "counter reset")
}

// Assign handles POST /sequences/:idOrName/assignments.
func (h *SequenceHandler) Assign(c *gin.Context) {
	var req dto.AssignmentRequest
	if !h.BindJSON(c, &req) {
		return
	}

	if err := h.service.Assign(c.Request.Context(), c.Param("idOrName"), req.ToDomain()); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "assignment saved")
}

// Metrics handles GET /sequences/:idOrName/metrics.
func (h *SequenceHandler) Metrics(c *gin.Context) {
	metrics, err := h.service.GetMetrics(c.Request.Context(), c.Param("idOrName"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromMetrics(metrics))
}

// History handles GET /sequences/:idOrName/history.
func (h *SequenceHandler) History(c *gin.Context) {
	limit := h.ParseIntQuery(c, "limit", 100)
	if limit < 1 || limit > 1000 {
		h.Error(c, apperror.NewValidation("limit must be between 1 and 1000").
			WithDetail("limit", limit))
		return
	}

	entries, err := h.service.GetHistory(c.Request.Context(), c.Param("idOrName"), limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromHistory(entries))
}
