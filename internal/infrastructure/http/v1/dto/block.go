package dto

import (
	"time"

	"conseq/internal/domain/sequence"
)

// --- Requests ---

// ReserveBlockRequest asks for a contiguous range of future values.
type ReserveBlockRequest struct {
	Quantity int64  `json:"quantity" binding:"required,min=1"`
	Segment  string `json:"segment"`

	// TTLSeconds overrides the default reservation lifetime.
	TTLSeconds int64 `json:"ttlSeconds" binding:"omitempty,min=1"`

	// OnBehalfOf reserves for another entity (e.g. a document mapping).
	OnBehalfOf *OnBehalfOfRequest `json:"onBehalfOf"`
}

// OnBehalfOfRequest names the entity a reservation is made for.
type OnBehalfOfRequest struct {
	EntityType string `json:"entityType" binding:"required"`
	EntityID   string `json:"entityId" binding:"required"`
}

// ToDomain converts to a domain reserve request.
func (r ReserveBlockRequest) ToDomain() sequence.ReserveRequest {
	req := sequence.ReserveRequest{
		Quantity: r.Quantity,
		Segment:  r.Segment,
		TTL:      time.Duration(r.TTLSeconds) * time.Second,
	}
	if r.OnBehalfOf != nil {
		req.OnBehalfOf = &sequence.EntityRef{
			Type: sequence.EntityType(r.OnBehalfOf.EntityType),
			ID:   r.OnBehalfOf.EntityID,
		}
	}
	return req
}

// CommitBlockRequest confirms consumption of specific values.
type CommitBlockRequest struct {
	Values []int64 `json:"values" binding:"required,min=1"`
}

// --- Responses ---

// BlockReceiptResponse is returned by a successful reservation.
type BlockReceiptResponse struct {
	BlockID    string    `json:"blockId"`
	StartValue int64     `json:"startValue"`
	EndValue   int64     `json:"endValue"`
	Segment    string    `json:"segment,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// FromReceipt creates BlockReceiptResponse from a domain receipt.
func FromReceipt(r *sequence.BlockReceipt) BlockReceiptResponse {
	return BlockReceiptResponse{
		BlockID:    r.BlockID.String(),
		StartValue: r.StartValue,
		EndValue:   r.EndValue,
		Segment:    r.Segment,
		ExpiresAt:  r.ExpiresAt,
	}
}

// BlockResponse mirrors a block attached to a sequence.
type BlockResponse struct {
	BlockID    string    `json:"blockId"`
	StartValue int64     `json:"startValue"`
	EndValue   int64     `json:"endValue"`
	Segment    string    `json:"segment,omitempty"`
	Status     string    `json:"status"`
	Used       int64     `json:"used"`
	Remaining  int64     `json:"remaining"`
	ExpiresAt  time.Time `json:"expiresAt"`

	// TTL is the remaining reservation lifetime; set only while the block
	// is still reserved.
	TTL string `json:"ttl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// FromBlock creates BlockResponse from a domain block.
func FromBlock(b *sequence.Block) BlockResponse {
	resp := BlockResponse{
		BlockID:    b.ID.String(),
		StartValue: b.StartValue,
		EndValue:   b.EndValue,
		Segment:    b.Segment,
		Status:     string(b.Status),
		Used:       int64(len(b.UsedValues)),
		Remaining:  b.Remaining(),
		ExpiresAt:  b.ExpiresAt,
		CreatedAt:  b.CreatedAt,
	}
	if b.Status == sequence.BlockReserved {
		if remaining := time.Until(b.ExpiresAt); remaining > 0 {
			resp.TTL = remaining.Round(time.Second).String()
		}
	}
	return resp
}

// BlockInfoResponse is the read-only view of a reservation.
type BlockInfoResponse struct {
	BlockID    string    `json:"blockId"`
	SequenceID string    `json:"sequenceId"`
	Sequence   string    `json:"sequence"`
	StartValue int64     `json:"startValue"`
	EndValue   int64     `json:"endValue"`
	Segment    string    `json:"segment,omitempty"`
	Status     string    `json:"status"`
	Used       int64     `json:"used"`
	Remaining  int64     `json:"remaining"`
	ExpiresAt  time.Time `json:"expiresAt"`
	TTL        string    `json:"ttl,omitempty"`
}

// FromBlockInfo creates BlockInfoResponse from domain info.
func FromBlockInfo(info *sequence.BlockInfo) BlockInfoResponse {
	return BlockInfoResponse{
		BlockID:    info.BlockID.String(),
		SequenceID: info.SequenceID.String(),
		Sequence:   info.Sequence,
		StartValue: info.StartValue,
		EndValue:   info.EndValue,
		Segment:    info.Segment,
		Status:     string(info.Status),
		Used:       info.Used,
		Remaining:  info.Remaining,
		ExpiresAt:  info.ExpiresAt,
		TTL:        info.TTL,
	}
}

// AvailabilityResponse answers a consumability probe.
type AvailabilityResponse struct {
	Available bool  `json:"available"`
	Remaining int64 `json:"remaining"`
}

// ExpireSweepResponse reports a maintenance sweep result.
type ExpireSweepResponse struct {
	Expired int `json:"expired"`
}
