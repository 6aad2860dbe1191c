package dto

import (
	"time"

	"conseq/internal/domain/sequence"
)

// --- Requests ---

// SegmentConfigRequest configures segmentation on create/update.
type SegmentConfigRequest struct {
	Enabled bool   `json:"enabled"`
	Type    string `json:"type"`
	Field   string `json:"field"`
}

// CreateSequenceRequest for registering a new sequence.
type CreateSequenceRequest struct {
	Name         string                `json:"name" binding:"required"`
	Description  string                `json:"description"`
	InitialValue int64                 `json:"initialValue"`
	IncrementBy  int64                 `json:"incrementBy"`
	Prefix       string                `json:"prefix"`
	Suffix       string                `json:"suffix"`
	PadLength    int                   `json:"padLength"`
	PadChar      string                `json:"padChar"`
	Pattern      string                `json:"pattern"`
	Segments     *SegmentConfigRequest `json:"segments"`
	Assignments  []AssignmentRequest   `json:"assignments"`
}

// ToDomain builds the aggregate from the request.
func (r CreateSequenceRequest) ToDomain() *sequence.Sequence {
	seq := sequence.New(r.Name)
	seq.Description = r.Description
	seq.CurrentValue = r.InitialValue
	if r.IncrementBy > 0 {
		seq.IncrementBy = r.IncrementBy
	}
	seq.Prefix = r.Prefix
	seq.Suffix = r.Suffix
	seq.PadLength = r.PadLength
	if r.PadChar != "" {
		seq.PadChar = r.PadChar
	}
	seq.Pattern = r.Pattern
	if r.Segments != nil {
		seq.Segments = sequence.SegmentConfig{
			Enabled: r.Segments.Enabled,
			Type:    sequence.SegmentType(r.Segments.Type),
			Field:   r.Segments.Field,
		}
	}
	for _, a := range r.Assignments {
		seq.UpsertAssignment(a.ToDomain())
	}
	return seq
}

// UpdateSequenceRequest modifies formatting, segmentation and activity.
// Counter values are not updatable here; use reset.
type UpdateSequenceRequest struct {
	Description *string               `json:"description"`
	IncrementBy *int64                `json:"incrementBy"`
	Prefix      *string               `json:"prefix"`
	Suffix      *string               `json:"suffix"`
	PadLength   *int                  `json:"padLength"`
	PadChar     *string               `json:"padChar"`
	Pattern     *string               `json:"pattern"`
	Segments    *SegmentConfigRequest `json:"segments"`
	Active      *bool                 `json:"active"`
}

// Apply overlays the provided fields onto the loaded aggregate.
func (r UpdateSequenceRequest) Apply(seq *sequence.Sequence) {
	if r.Description != nil {
		seq.Description = *r.Description
	}
	if r.IncrementBy != nil {
		seq.IncrementBy = *r.IncrementBy
	}
	if r.Prefix != nil {
		seq.Prefix = *r.Prefix
	}
	if r.Suffix != nil {
		seq.Suffix = *r.Suffix
	}
	if r.PadLength != nil {
		seq.PadLength = *r.PadLength
	}
	if r.PadChar != nil {
		seq.PadChar = *r.PadChar
	}
	if r.Pattern != nil {
		seq.Pattern = *r.Pattern
	}
	if r.Segments != nil {
		seq.Segments = sequence.SegmentConfig{
			Enabled: r.Segments.Enabled,
			Type:    sequence.SegmentType(r.Segments.Type),
			Field:   r.Segments.Field,
		}
	}
	if r.Active != nil {
		seq.Active = *r.Active
	}
}

// ListSequencesRequest filters the sequence list.
type ListSequencesRequest struct {
	Search     string `form:"search"`
	ActiveOnly bool   `form:"activeOnly"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset     int    `form:"offset" binding:"omitempty,min=0"`
}

// ToFilter converts to the domain list filter.
func (r ListSequencesRequest) ToFilter() sequence.ListFilter {
	f := sequence.DefaultListFilter()
	f.Search = r.Search
	f.ActiveOnly = r.ActiveOnly
	if r.Limit > 0 {
		f.Limit = r.Limit
	}
	f.Offset = r.Offset
	return f
}

// NextValueRequest selects an explicit segment for issuance.
type NextValueRequest struct {
	Segment string `form:"segment"`
}

// ResetRequest overwrites a counter.
type ResetRequest struct {
	Segment string `json:"segment"`
	Value   int64  `json:"value" binding:"min=0"`
}

// AssignmentRequest grants operations to an entity.
type AssignmentRequest struct {
	EntityType string   `json:"entityType" binding:"required"`
	EntityID   string   `json:"entityId" binding:"required"`
	Operations []string `json:"allowedOperations" binding:"required,min=1"`
}

// ToDomain converts to a domain assignment.
func (r AssignmentRequest) ToDomain() sequence.Assignment {
	ops := make([]sequence.Operation, 0, len(r.Operations))
	for _, op := range r.Operations {
		ops = append(ops, sequence.Operation(op))
	}
	return sequence.Assignment{
		EntityType: sequence.EntityType(r.EntityType),
		EntityID:   r.EntityID,
		Operations: ops,
	}
}

// --- Responses ---

// SegmentConfigResponse mirrors segmentation settings.
type SegmentConfigResponse struct {
	Enabled bool   `json:"enabled"`
	Type    string `json:"type,omitempty"`
	Field   string `json:"field,omitempty"`
}

// AssignmentResponse mirrors a permission grant.
type AssignmentResponse struct {
	EntityType string   `json:"entityType"`
	EntityID   string   `json:"entityId"`
	Operations []string `json:"allowedOperations"`
}

// SequenceResponse is the external view of a sequence.
type SequenceResponse struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Description   string                `json:"description,omitempty"`
	CurrentValue  int64                 `json:"currentValue"`
	IncrementBy   int64                 `json:"incrementBy"`
	Prefix        string                `json:"prefix,omitempty"`
	Suffix        string                `json:"suffix,omitempty"`
	PadLength     int                   `json:"padLength"`
	PadChar       string                `json:"padChar"`
	Pattern       string                `json:"pattern,omitempty"`
	Segments      SegmentConfigResponse `json:"segments"`
	SegmentValues map[string]int64      `json:"segmentValues,omitempty"`
	Active        bool                  `json:"active"`
	Version       int                   `json:"version"`
	Assignments   []AssignmentResponse  `json:"assignments,omitempty"`
	Blocks        []BlockResponse       `json:"blocks,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// FromSequence creates SequenceResponse from the aggregate.
func FromSequence(s *sequence.Sequence) SequenceResponse {
	resp := SequenceResponse{
		ID:            s.ID.String(),
		Name:          s.Name,
		Description:   s.Description,
		CurrentValue:  s.CurrentValue,
		IncrementBy:   s.IncrementBy,
		Prefix:        s.Prefix,
		Suffix:        s.Suffix,
		PadLength:     s.PadLength,
		PadChar:       s.PadChar,
		Pattern:       s.Pattern,
		Segments: SegmentConfigResponse{
			Enabled: s.Segments.Enabled,
			Type:    string(s.Segments.Type),
			Field:   s.Segments.Field,
		},
		SegmentValues: s.SegmentValues,
		Active:        s.Active,
		Version:       s.Version,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	for _, a := range s.Assignments {
		ops := make([]string, 0, len(a.Operations))
		for _, op := range a.Operations {
			ops = append(ops, string(op))
		}
		resp.Assignments = append(resp.Assignments, AssignmentResponse{
			EntityType: string(a.EntityType),
			EntityID:   a.EntityID,
			Operations: ops,
		})
	}
	for i := range s.Blocks {
		resp.Blocks = append(resp.Blocks, FromBlock(&s.Blocks[i]))
	}
	return resp
}

// ValueResponse carries a single issued value.
type ValueResponse struct {
	Value string `json:"value"`
}

// MetricsResponse summarizes a sequence's operational state.
type MetricsResponse struct {
	SequenceID         string           `json:"sequenceId"`
	Name               string           `json:"name"`
	CurrentValue       int64            `json:"currentValue"`
	SegmentValues      map[string]int64 `json:"segmentValues,omitempty"`
	ActiveReservations int              `json:"activeReservations"`
	IncrementsLast24h  int64            `json:"incrementsLast24h"`
}

// FromMetrics creates MetricsResponse from domain metrics.
func FromMetrics(m *sequence.Metrics) MetricsResponse {
	return MetricsResponse{
		SequenceID:         m.SequenceID.String(),
		Name:               m.Name,
		CurrentValue:       m.CurrentValue,
		SegmentValues:      m.SegmentValues,
		ActiveReservations: m.ActiveReservations,
		IncrementsLast24h:  m.IncrementsLast24h,
	}
}

// HistoryEntryResponse mirrors an audit record.
type HistoryEntryResponse struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Value     int64          `json:"value"`
	Segment   string         `json:"segment,omitempty"`
	ActorID   string         `json:"actorId,omitempty"`
	ActorName string         `json:"actorName,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FromHistory creates history responses from domain entries.
func FromHistory(entries []sequence.HistoryEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntryResponse{
			Timestamp: e.Timestamp,
			Action:    string(e.Action),
			Value:     e.Value,
			Segment:   e.Segment,
			ActorID:   e.ActorID,
			ActorName: e.ActorName,
			Metadata:  e.Metadata,
		})
	}
	return out
}
