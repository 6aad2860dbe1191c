package sequence

import (
	"context"
	"fmt"
	"math"
	"time"

	"conseq/internal/core/apperror"
	appctx "conseq/internal/core/context"
	"conseq/internal/core/id"
	"conseq/internal/core/retry"
	"conseq/internal/core/tx"
	"conseq/pkg/logger"
)

// Service provides business operations on sequences. Every mutating entry
// point authorizes the caller first, then executes the read-modify-write
// inside the retry coordinator and the transactional scope, so a committed
// operation is all-or-nothing: counter advance, child records and history
// entry persist together or not at all.
type Service struct {
	repo        Repository
	txManager   tx.Manager
	retryPolicy retry.Policy
	blockTTL    time.Duration
	now         func() time.Time
}

// ServiceConfig configures the sequence service.
type ServiceConfig struct {
	Repo      Repository
	TxManager tx.Manager

	// Retry overrides the conflict-retry policy (default: 3 attempts, 200ms).
	Retry retry.Policy

	// BlockTTL is the default reservation lifetime (default: 24h).
	BlockTTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewService creates a new sequence service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.BlockTTL == 0 {
		cfg.BlockTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		repo:        cfg.Repo,
		txManager:   cfg.TxManager,
		retryPolicy: cfg.Retry,
		blockTTL:    cfg.BlockTTL,
		now:         cfg.Now,
	}
}

// load resolves a sequence by id or unique name.
func (s *Service) load(ctx context.Context, idOrName string) (*Sequence, error) {
	if seqID, err := id.Parse(idOrName); err == nil {
		return s.repo.GetByID(ctx, seqID)
	}
	return s.repo.GetByName(ctx, idOrName)
}

// mutate re-executes fn under the retry policy, each attempt in its own
// transactional scope with a freshly loaded aggregate. fn must route all
// writes through the repository so the version check detects races.
func (s *Service) mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.retryPolicy, func(ctx context.Context) error {
		return s.txManager.RunInTransaction(ctx, fn)
	})
}

func (s *Service) historyActor(ctx context.Context) (actorID, actorName string) {
	if actor := appctx.GetActor(ctx); actor != nil {
		return actor.ID, actor.Name
	}
	return "", ""
}

// --- Definition lifecycle ---

// Create registers a new sequence. Names are globally unique; a duplicate
// fails with DUPLICATE_ENTRY from the repository.
func (s *Service) Create(ctx context.Context, seq *Sequence) error {
	if err := seq.Validate(ctx); err != nil {
		return err
	}
	actorID, actorName := s.historyActor(ctx)

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, seq); err != nil {
			return err
		}
		return s.repo.AppendHistory(ctx, seq.ID, HistoryEntry{
			Timestamp: s.now().UTC(),
			Action:    ActionCreated,
			Value:     seq.CurrentValue,
			ActorID:   actorID,
			ActorName: actorName,
		})
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "sequence created", "id", seq.ID, "name", seq.Name)
	return nil
}

// UpdateDefinition modifies formatting, segmentation and activity flags of an
// existing sequence. Counter state is not touched here; use Reset for that.
func (s *Service) UpdateDefinition(ctx context.Context, seq *Sequence) error {
	if err := seq.Validate(ctx); err != nil {
		return err
	}
	actorID, actorName := s.historyActor(ctx)

	return s.mutate(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByID(ctx, seq.ID)
		if err != nil {
			return err
		}

		current.Description = seq.Description
		current.IncrementBy = seq.IncrementBy
		current.Prefix = seq.Prefix
		current.Suffix = seq.Suffix
		current.PadLength = seq.PadLength
		current.PadChar = seq.PadChar
		current.Pattern = seq.Pattern
		current.Segments = seq.Segments
		current.Active = seq.Active
		current.Touch()

		if err := s.repo.Update(ctx, current); err != nil {
			return err
		}
		return s.repo.AppendHistory(ctx, current.ID, HistoryEntry{
			Timestamp: s.now().UTC(),
			Action:    ActionUpdated,
			Value:     current.CurrentValue,
			ActorID:   actorID,
			ActorName: actorName,
		})
	})
}

// Delete is a hard remove. A sequence referenced by live reservations cannot
// be deleted.
func (s *Service) Delete(ctx context.Context, idOrName string) error {
	seq, err := s.load(ctx, idOrName)
	if err != nil {
		return err
	}
	if n := seq.ActiveBlockCount(); n > 0 {
		return apperror.NewConflict("sequence has active block reservations").
			WithDetail("sequence", seq.Name).
			WithDetail("active_blocks", n)
	}
	if err := s.repo.Delete(ctx, seq.ID); err != nil {
		return err
	}
	logger.Info(ctx, "sequence deleted", "id", seq.ID, "name", seq.Name)
	return nil
}

// Get retrieves a sequence by id or unique name.
func (s *Service) Get(ctx context.Context, idOrName string) (*Sequence, error) {
	return s.load(ctx, idOrName)
}

// List returns sequences matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	if f.Limit <= 0 {
		f = DefaultListFilter()
	}
	return s.repo.List(ctx, f)
}

// --- Issuance ---

// NextOptions carries optional parameters for GetNextValue.
type NextOptions struct {
	// Segment explicitly selects the sub-counter, overriding derivation.
	Segment string
}

// GetNextValue issues the next value of a sequence: authorize, resolve the
// segment, atomically advance the counter, append history, format.
//
// Concurrent callers on the same (sequence, segment) never receive the same
// value; losers of the version race are retried against fresh state.
func (s *Service) GetNextValue(ctx context.Context, idOrName string, opts NextOptions) (string, error) {
	actor := appctx.GetActor(ctx)
	actorID, actorName := s.historyActor(ctx)

	var formatted string
	err := s.mutate(ctx, func(ctx context.Context) error {
		seq, err := s.load(ctx, idOrName)
		if err != nil {
			return err
		}
		if !seq.Active {
			return apperror.NewSequenceDisabled(seq.Name)
		}
		if err := Authorize(seq, RefsForActor(actor), OpIncrement); err != nil {
			return err
		}

		now := s.now()
		segment, err := ResolveSegment(seq, opts.Segment, actor, now)
		if err != nil {
			return err
		}

		if seq.IncrementBy > math.MaxInt64-seq.CounterValue(segment) {
			return apperror.NewConflict("counter exhausted").
				WithDetail("segment", segment).
				WithDetail("currentValue", seq.CounterValue(segment))
		}
		next := seq.Advance(segment)
		seq.Touch()

		if err := s.repo.Update(ctx, seq); err != nil {
			return err
		}
		if err := s.repo.AppendHistory(ctx, seq.ID, HistoryEntry{
			Timestamp: now.UTC(),
			Action:    ActionIncremented,
			Value:     next,
			Segment:   segment,
			ActorID:   actorID,
			ActorName: actorName,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		formatted = seq.FormatValue(next, segment, now)
		return nil
	})
	if err != nil {
		return "", err
	}

	logger.Debug(ctx, "value issued", "sequence", idOrName, "value", formatted)
	return formatted, nil
}

// --- Reset ---

// ResetRequest selects the counter to overwrite and its new value.
type ResetRequest struct {
	// Segment targets a sub-counter; empty resets the global counter.
	Segment string
	Value   int64
}

// Reset overwrites a counter with an explicit value. Requires the reset
// permission; increment never implies it. The reset is itself recorded in
// history, preserving the audit trail for the one sanctioned way a counter
// can move backwards.
func (s *Service) Reset(ctx context.Context, idOrName string, req ResetRequest) error {
	if req.Value < 0 {
		return apperror.NewValidation("reset value must not be negative").
			WithDetail("value", req.Value)
	}
	actor := appctx.GetActor(ctx)
	actorID, actorName := s.historyActor(ctx)

	return s.mutate(ctx, func(ctx context.Context) error {
		seq, err := s.load(ctx, idOrName)
		if err != nil {
			return err
		}
		if !seq.Active {
			return apperror.NewSequenceDisabled(seq.Name)
		}
		if err := Authorize(seq, RefsForActor(actor), OpReset); err != nil {
			return err
		}

		seq.Reset(req.Segment, req.Value)
		seq.Touch()

		if err := s.repo.Update(ctx, seq); err != nil {
			return err
		}
		return s.repo.AppendHistory(ctx, seq.ID, HistoryEntry{
			Timestamp: s.now().UTC(),
			Action:    ActionReset,
			Value:     req.Value,
			Segment:   req.Segment,
			ActorID:   actorID,
			ActorName: actorName,
		})
	})
}

// --- Assignments ---

// Assign grants (or replaces) an entity's allowed operations on a sequence.
// Idempotent upsert keyed by (entityType, entityId): re-assigning an existing
// pair replaces its operations rather than duplicating the entry.
//
// The first grant closes an open sequence; from then on changing assignments
// requires the full-control operation, so a caller holding a narrower grant
// cannot widen its own.
func (s *Service) Assign(ctx context.Context, idOrName string, a Assignment) error {
	if err := validateAssignment(a); err != nil {
		return err
	}
	actor := appctx.GetActor(ctx)
	actorID, actorName := s.historyActor(ctx)

	return s.mutate(ctx, func(ctx context.Context) error {
		seq, err := s.load(ctx, idOrName)
		if err != nil {
			return err
		}
		if err := Authorize(seq, RefsForActor(actor), OpAll); err != nil {
			return err
		}

		seq.UpsertAssignment(a)
		seq.Touch()

		if err := s.repo.Update(ctx, seq); err != nil {
			return err
		}
		if err := s.repo.SaveAssignment(ctx, seq.ID, a); err != nil {
			return fmt.Errorf("save assignment: %w", err)
		}
		ops := make([]string, 0, len(a.Operations))
		for _, op := range a.Operations {
			ops = append(ops, string(op))
		}
		return s.repo.AppendHistory(ctx, seq.ID, HistoryEntry{
			Timestamp: s.now().UTC(),
			Action:    ActionUpdated,
			ActorID:   actorID,
			ActorName: actorName,
			Metadata: map[string]any{
				"assignment": string(a.EntityType) + ":" + a.EntityID,
				"operations": ops,
			},
		})
	})
}

// --- Read surface ---

// Metrics summarizes a sequence's operational state for the admin UI.
type Metrics struct {
	SequenceID         id.ID            `json:"sequenceId"`
	Name               string           `json:"name"`
	CurrentValue       int64            `json:"currentValue"`
	SegmentValues      map[string]int64 `json:"segmentValues,omitempty"`
	ActiveReservations int              `json:"activeReservations"`
	IncrementsLast24h  int64            `json:"incrementsLast24h"`
}

// GetMetrics returns the metrics view of a sequence. Read-only: no retry
// wrapper, no transactional scope.
func (s *Service) GetMetrics(ctx context.Context, idOrName string) (*Metrics, error) {
	seq, err := s.load(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	if err := Authorize(seq, RefsForActor(appctx.GetActor(ctx)), OpRead); err != nil {
		return nil, err
	}

	since := s.now().Add(-24 * time.Hour)
	increments, err := s.repo.CountIncrementsSince(ctx, seq.ID, since)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		SequenceID:         seq.ID,
		Name:               seq.Name,
		CurrentValue:       seq.CurrentValue,
		SegmentValues:      seq.SegmentValues,
		ActiveReservations: seq.ActiveBlockCount(),
		IncrementsLast24h:  increments,
	}, nil
}

// GetHistory returns the most recent audit entries for a sequence.
func (s *Service) GetHistory(ctx context.Context, idOrName string, limit int) ([]HistoryEntry, error) {
	seq, err := s.load(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	if err := Authorize(seq, RefsForActor(appctx.GetActor(ctx)), OpRead); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListHistory(ctx, seq.ID, limit)
}
