package sequence

import (
	"context"
	"fmt"
	"math"
	"time"

	"conseq/internal/core/apperror"
	appctx "conseq/internal/core/context"
	"conseq/internal/core/id"
	"conseq/pkg/logger"
)

// MaxReserveQuantity bounds a single reservation. Counters are int64; an
// unbounded quantity could wrap the range end past the maximum and drive
// the counter negative.
const MaxReserveQuantity = 1_000_000

// ReserveRequest asks for a contiguous range of future values.
type ReserveRequest struct {
	// Quantity of values to reserve; must be positive.
	Quantity int64

	// Segment explicitly selects the sub-counter, overriding derivation.
	Segment string

	// TTL overrides the default reservation lifetime.
	TTL time.Duration

	// OnBehalfOf reserves for an entity other than the actor itself
	// (e.g. the ETL engine reserving for a mapping). The caller must be
	// authorized to increment through that entity's assignment, if any.
	OnBehalfOf *EntityRef
}

// BlockReceipt is what a successful reservation returns to the caller.
type BlockReceipt struct {
	BlockID    id.ID     `json:"blockId"`
	StartValue int64     `json:"startValue"`
	EndValue   int64     `json:"endValue"`
	Segment    string    `json:"segment,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// BlockInfo is the read-only view of a reservation.
type BlockInfo struct {
	BlockID    id.ID       `json:"blockId"`
	SequenceID id.ID       `json:"sequenceId"`
	Sequence   string      `json:"sequence"`
	StartValue int64       `json:"startValue"`
	EndValue   int64       `json:"endValue"`
	Segment    string      `json:"segment,omitempty"`
	Status     BlockStatus `json:"status"`
	Used       int64       `json:"used"`
	Remaining  int64       `json:"remaining"`
	ExpiresAt  time.Time   `json:"expiresAt"`
	TTL        string      `json:"ttl,omitempty"`
}

// ReserveBlock atomically carves an exclusive, contiguous range of quantity
// future values out of the (sequence, segment) counter. The counter is
// advanced past the range in the same conditional update that inserts the
// block, so ranges are disjoint from each other and from direct increments.
func (s *Service) ReserveBlock(ctx context.Context, idOrName string, req ReserveRequest) (*BlockReceipt, error) {
	if req.Quantity < 1 {
		return nil, apperror.NewValidation("reserve quantity must be a positive integer").
			WithDetail("quantity", req.Quantity)
	}
	if req.Quantity > MaxReserveQuantity {
		return nil, apperror.NewValidation("reserve quantity exceeds the maximum block size").
			WithDetail("quantity", req.Quantity).
			WithDetail("max", MaxReserveQuantity)
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.blockTTL
	}

	actor := appctx.GetActor(ctx)
	actorID, actorName := s.historyActor(ctx)
	refs := RefsForActor(actor)
	if req.OnBehalfOf != nil {
		refs = append(refs, *req.OnBehalfOf)
	}

	var receipt *BlockReceipt
	err := s.mutate(ctx, func(ctx context.Context) error {
		seq, err := s.load(ctx, idOrName)
		if err != nil {
			return err
		}
		if !seq.Active {
			return apperror.NewSequenceDisabled(seq.Name)
		}
		if err := Authorize(seq, refs, OpIncrement); err != nil {
			return err
		}

		now := s.now()
		segment, err := ResolveSegment(seq, req.Segment, actor, now)
		if err != nil {
			return err
		}

		// The counter can sit anywhere after a reset; refuse any range
		// whose end would wrap past the int64 maximum.
		if req.Quantity > math.MaxInt64-seq.CounterValue(segment) {
			return apperror.NewValidation("reservation would overflow the counter").
				WithDetail("quantity", req.Quantity).
				WithDetail("currentValue", seq.CounterValue(segment))
		}

		start, end := seq.ReserveRange(segment, req.Quantity)
		seq.Touch()

		block := Block{
			ID:         id.New(),
			StartValue: start,
			EndValue:   end,
			Segment:    segment,
			Status:     BlockReserved,
			ExpiresAt:  now.Add(ttl).UTC(),
			CreatedAt:  now.UTC(),
			UpdatedAt:  now.UTC(),
		}
		seq.Blocks = append(seq.Blocks, block)

		if err := s.repo.Update(ctx, seq); err != nil {
			return err
		}
		if err := s.repo.SaveBlock(ctx, seq.ID, &block); err != nil {
			return fmt.Errorf("save block: %w", err)
		}
		if err := s.repo.AppendHistory(ctx, seq.ID, HistoryEntry{
			Timestamp: now.UTC(),
			Action:    ActionReserved,
			Value:     end,
			Segment:   segment,
			ActorID:   actorID,
			ActorName: actorName,
			Metadata: map[string]any{
				"block_id": block.ID.String(),
				"start":    start,
				"end":      end,
			},
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		receipt = &BlockReceipt{
			BlockID:    block.ID,
			StartValue: start,
			EndValue:   end,
			Segment:    segment,
			ExpiresAt:  block.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "block reserved",
		"sequence", idOrName,
		"block_id", receipt.BlockID,
		"start", receipt.StartValue,
		"end", receipt.EndValue)
	return receipt, nil
}

// UseFromBlock consumes the next unused value of a reservation, in ascending
// order. The first consumption transitions the block to active; consuming the
// last value completes it. A block that is cancelled, expired, completed or
// fully consumed cannot yield values.
func (s *Service) UseFromBlock(ctx context.Context, blockID id.ID) (string, error) {
	actor := appctx.GetActor(ctx)
	actorID, actorName := s.historyActor(ctx)

	var formatted string
	err := s.mutate(ctx, func(ctx context.Context) error {
		seq, err := s.repo.GetByBlockID(ctx, blockID)
		if err != nil {
			return err
		}
		if !seq.Active {
			return apperror.NewSequenceDisabled(seq.Name)
		}
		if err := Authorize(seq, RefsForActor(actor), OpIncrement); err != nil {
			return err
		}

		block := seq.FindBlock(blockID)
		if block == nil {
			return apperror.NewNotFound("block", blockID.String())
		}
		// A fully consumed block is exhausted, not merely unconsumable;
		// cancelled and expired blocks report their status instead.
		if block.Status == BlockCompleted {
			return apperror.NewBlockExhausted(blockID.String())
		}
		if !block.Consumable() {
			return apperror.NewBlockNotConsumable(blockID.String(), string(block.Status))
		}
		value, ok := block.NextUnused()
		if !ok {
			return apperror.NewBlockExhausted(blockID.String())
		}

		now := s.now()
		if err := block.MarkUsed(value, now.UTC()); err != nil {
			return err
		}
		seq.Touch()

		if err := s.repo.Update(ctx, seq); err != nil {
			return err
		}
		if err := s.repo.SaveBlock(ctx, seq.ID, block); err != nil {
			return fmt.Errorf("save block: %w", err)
		}
		if err := s.repo.AppendHistory(ctx, seq.ID, HistoryEntry{
			Timestamp: now.UTC(),
			Action:    ActionConsumed,
			Value:     value,
			Segment:   block.Segment,
			ActorID:   actorID,
			ActorName: actorName,
			Metadata:  map[string]any{"block_id": blockID.String()},
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		formatted = seq.FormatValue(value, block.Segment, now)
		return nil
	})
	if err != nil {
		return "", err
	}
	return formatted, nil
}

// CommitReservation finalizes values consumed outside the UseFromBlock path
// (bulk-assign then confirm). Each named value must fall inside the block's
// range; marking is idempotent for values already recorded.
func (s *Service) CommitReservation(ctx context.Context, idOrName string, blockID id.ID, values []int64) error {
	if len(values) == 0 {
		return apperror.NewValidation("commit requires at least one value")
	}
	actor := appctx.GetActor(ctx)
	actorID, actorName := s.historyActor(ctx)

	return s.mutate(ctx, func(ctx context.Context) error {
		seq, err := s.load(ctx, idOrName)
		if err != nil {
			return err
		}
		if err := Authorize(seq, RefsForActor(actor), OpIncrement); err != nil {
			return err
		}

		block := seq.FindBlock(blockID)
		if block == nil {
			return apperror.NewNotFound("block", blockID.String())
		}
		if !block.Consumable() {
			return apperror.NewBlockNotConsumable(blockID.String(), string(block.Status))
		}

		now := s.now()
		for _, v := range values {
			if err := block.MarkUsed(v, now.UTC()); err != nil {
				return err
			}
		}
		seq.Touch()

		if err := s.repo.Update(ctx, seq); err != nil {
			return err
		}
		if err := s.repo.SaveBlock(ctx, seq.ID, block); err != nil {
			return fmt.Errorf("save block: %w", err)
		}
		return s.repo.AppendHistory(ctx, seq.ID, HistoryEntry{
			Timestamp: now.UTC(),
			Action:    ActionCommitted,
			Segment:   block.Segment,
			ActorID:   actorID,
			ActorName: actorName,
			Metadata: map[string]any{
				"block_id": blockID.String(),
				"values":   len(values),
			},
		})
	})
}

// CancelReservation releases a block. The numeric range is NOT reclaimed:
// the counter stays past it forever, so a caller that already read the range
// as reserved can never collide with later issuance. Cancellation only
// changes visibility and audit status.
func (s *Service) CancelReservation(ctx context.Context, idOrName string, blockID id.ID) error {
	actor := appctx.GetActor(ctx)
	actorID, actorName := s.historyActor(ctx)

	return s.mutate(ctx, func(ctx context.Context) error {
		seq, err := s.load(ctx, idOrName)
		if err != nil {
			return err
		}
		if err := Authorize(seq, RefsForActor(actor), OpIncrement); err != nil {
			return err
		}

		block := seq.FindBlock(blockID)
		if block == nil {
			return apperror.NewNotFound("block", blockID.String())
		}
		if !block.Consumable() {
			return apperror.NewBlockNotConsumable(blockID.String(), string(block.Status))
		}

		now := s.now()
		block.Status = BlockCancelled
		block.UpdatedAt = now.UTC()
		seq.Touch()

		if err := s.repo.Update(ctx, seq); err != nil {
			return err
		}
		if err := s.repo.SaveBlock(ctx, seq.ID, block); err != nil {
			return fmt.Errorf("save block: %w", err)
		}
		return s.repo.AppendHistory(ctx, seq.ID, HistoryEntry{
			Timestamp: now.UTC(),
			Action:    ActionCancelled,
			Segment:   block.Segment,
			ActorID:   actorID,
			ActorName: actorName,
			Metadata:  map[string]any{"block_id": blockID.String()},
		})
	})
}

// GetBlockInfo returns the read-only view of a reservation. No retry
// wrapper: reads need no transactional scope.
func (s *Service) GetBlockInfo(ctx context.Context, blockID id.ID) (*BlockInfo, error) {
	seq, err := s.repo.GetByBlockID(ctx, blockID)
	if err != nil {
		return nil, err
	}
	block := seq.FindBlock(blockID)
	if block == nil {
		return nil, apperror.NewNotFound("block", blockID.String())
	}

	info := &BlockInfo{
		BlockID:    block.ID,
		SequenceID: seq.ID,
		Sequence:   seq.Name,
		StartValue: block.StartValue,
		EndValue:   block.EndValue,
		Segment:    block.Segment,
		Status:     block.Status,
		Used:       int64(len(block.UsedValues)),
		Remaining:  block.Remaining(),
		ExpiresAt:  block.ExpiresAt,
	}
	if remaining := block.ExpiresAt.Sub(s.now()); remaining > 0 && block.Status == BlockReserved {
		info.TTL = remaining.Round(time.Second).String()
	}
	return info, nil
}

// CheckBlockAvailability reports whether the block can still yield values
// and how many remain.
func (s *Service) CheckBlockAvailability(ctx context.Context, blockID id.ID) (available bool, remaining int64, err error) {
	seq, err := s.repo.GetByBlockID(ctx, blockID)
	if err != nil {
		return false, 0, err
	}
	block := seq.FindBlock(blockID)
	if block == nil {
		return false, 0, apperror.NewNotFound("block", blockID.String())
	}
	remaining = block.Remaining()
	return block.Consumable() && remaining > 0, remaining, nil
}

// ExpireReservations transitions reserved blocks past their deadline to
// expired across all active sequences. Purely informational bookkeeping:
// the numeric ranges remain permanently excluded from future reservations.
// Returns the number of blocks expired.
func (s *Service) ExpireReservations(ctx context.Context) (int, error) {
	seqs, err := s.repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, listed := range seqs {
		seqID := listed.ID
		n := 0
		err := s.mutate(ctx, func(ctx context.Context) error {
			n = 0
			seq, err := s.repo.GetByID(ctx, seqID)
			if err != nil {
				return err
			}

			now := s.now()
			var stale []*Block
			for i := range seq.Blocks {
				b := &seq.Blocks[i]
				if b.Status == BlockReserved && now.After(b.ExpiresAt) {
					b.Status = BlockExpired
					b.UpdatedAt = now.UTC()
					stale = append(stale, b)
				}
			}
			if len(stale) == 0 {
				return nil
			}
			seq.Touch()

			if err := s.repo.Update(ctx, seq); err != nil {
				return err
			}
			for _, b := range stale {
				if err := s.repo.SaveBlock(ctx, seq.ID, b); err != nil {
					return fmt.Errorf("save block: %w", err)
				}
				if err := s.repo.AppendHistory(ctx, seq.ID, HistoryEntry{
					Timestamp: now.UTC(),
					Action:    ActionExpired,
					Segment:   b.Segment,
					Metadata:  map[string]any{"block_id": b.ID.String()},
				}); err != nil {
					return fmt.Errorf("append history: %w", err)
				}
				n++
			}
			return nil
		})
		if err != nil {
			logger.Warn(ctx, "expire sweep failed for sequence", "sequence_id", seqID, "error", err)
			continue
		}
		expired += n
	}
	return expired, nil
}
