// Package sequence provides the consecutive number service: named counters
// that issue unique, formatted, monotonically increasing identifiers to
// concurrent callers. A Sequence is the aggregate root; segments, permission
// assignments, block reservations and the audit history all hang off it.
package sequence

import (
	"context"
	"sort"
	"time"

	"conseq/internal/core/apperror"
	"conseq/internal/core/id"
)

// SegmentType defines which dimension splits a sequence into sub-counters.
type SegmentType string

const (
	SegmentYear    SegmentType = "year"
	SegmentMonth   SegmentType = "month"
	SegmentDay     SegmentType = "day"
	SegmentCompany SegmentType = "company"
	SegmentUser    SegmentType = "user"
	SegmentCustom  SegmentType = "custom"
)

// Operation is a permission verb that can be granted on a sequence.
type Operation string

const (
	OpRead      Operation = "read"
	OpIncrement Operation = "increment"
	OpReset     Operation = "reset"
	OpAll       Operation = "all"
)

// EntityType classifies who an assignment is granted to.
type EntityType string

const (
	EntityUser    EntityType = "user"
	EntityCompany EntityType = "company"
	EntityMapping EntityType = "mapping"
	EntityOther   EntityType = "other"
)

// EntityRef identifies a grantee (or a caller acting as one).
type EntityRef struct {
	Type EntityType
	ID   string
}

// Assignment binds an entity to a subset of allowed operations.
// At most one assignment exists per (EntityType, EntityID) pair.
type Assignment struct {
	EntityType EntityType  `db:"entity_type" json:"entityType"`
	EntityID   string      `db:"entity_id" json:"entityId"`
	Operations []Operation `db:"operations" json:"allowedOperations"`
}

// Allows reports whether the assignment grants op.
// OpReset is never implied by OpIncrement; only an exact match or OpAll counts.
func (a Assignment) Allows(op Operation) bool {
	for _, granted := range a.Operations {
		if granted == op || granted == OpAll {
			return true
		}
	}
	return false
}

// BlockStatus is the lifecycle state of a block reservation.
type BlockStatus string

const (
	BlockReserved  BlockStatus = "reserved"
	BlockActive    BlockStatus = "active"
	BlockCompleted BlockStatus = "completed"
	BlockCancelled BlockStatus = "cancelled"
	BlockExpired   BlockStatus = "expired"
)

// Block is a pre-allocated, exclusive, contiguous range of future values.
// Its [StartValue, EndValue] range is carved out of the counter at reservation
// time and is never returned to the counter, regardless of later status
// transitions (cancel and expire only change visibility, not the range).
type Block struct {
	ID         id.ID       `db:"id" json:"blockId"`
	StartValue int64       `db:"start_value" json:"startValue"`
	EndValue   int64       `db:"end_value" json:"endValue"`
	Segment    string      `db:"segment" json:"segment,omitempty"`
	Status     BlockStatus `db:"status" json:"status"`
	UsedValues []int64     `db:"used_values" json:"usedValues"`
	ExpiresAt  time.Time   `db:"expires_at" json:"expiresAt"`
	CreatedAt  time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updatedAt"`
}

// Size returns the number of values the block reserves.
func (b *Block) Size() int64 {
	return b.EndValue - b.StartValue + 1
}

// Remaining returns how many values are still unused.
func (b *Block) Remaining() int64 {
	return b.Size() - int64(len(b.UsedValues))
}

// Consumable reports whether values may still be taken from the block.
func (b *Block) Consumable() bool {
	return b.Status == BlockReserved || b.Status == BlockActive
}

// Contains reports whether v falls inside the reserved range.
func (b *Block) Contains(v int64) bool {
	return v >= b.StartValue && v <= b.EndValue
}

// IsUsed reports whether v has already been consumed.
func (b *Block) IsUsed(v int64) bool {
	for _, used := range b.UsedValues {
		if used == v {
			return true
		}
	}
	return false
}

// NextUnused returns the lowest unconsumed value in the range.
// ok is false when the block is exhausted.
func (b *Block) NextUnused() (v int64, ok bool) {
	for candidate := b.StartValue; candidate <= b.EndValue; candidate++ {
		if !b.IsUsed(candidate) {
			return candidate, true
		}
	}
	return 0, false
}

// MarkUsed records consumption of v and advances the status machine:
// reserved -> active on first consumption, -> completed when the range is
// fully consumed. Marking an already-used value is a no-op (idempotent).
func (b *Block) MarkUsed(v int64, now time.Time) error {
	if !b.Contains(v) {
		return apperror.NewValidation("value outside reserved range").
			WithDetail("value", v).
			WithDetail("start", b.StartValue).
			WithDetail("end", b.EndValue)
	}
	if !b.IsUsed(v) {
		b.UsedValues = append(b.UsedValues, v)
		sort.Slice(b.UsedValues, func(i, j int) bool { return b.UsedValues[i] < b.UsedValues[j] })
	}
	if b.Status == BlockReserved {
		b.Status = BlockActive
	}
	if b.Remaining() == 0 {
		b.Status = BlockCompleted
	}
	b.UpdatedAt = now
	return nil
}

// HistoryAction names an audit event type.
type HistoryAction string

const (
	ActionCreated     HistoryAction = "created"
	ActionUpdated     HistoryAction = "updated"
	ActionIncremented HistoryAction = "incremented"
	ActionReset       HistoryAction = "reset"
	ActionReserved    HistoryAction = "reserved"
	ActionConsumed    HistoryAction = "consumed"
	ActionCommitted   HistoryAction = "committed"
	ActionCancelled   HistoryAction = "cancelled"
	ActionExpired     HistoryAction = "expired"
)

// HistoryEntry is an immutable audit record. Entries are only ever appended,
// in the same transactional scope as the mutation they describe.
type HistoryEntry struct {
	Timestamp time.Time      `db:"ts" json:"timestamp"`
	Action    HistoryAction  `db:"action" json:"action"`
	Value     int64          `db:"value" json:"value"`
	Segment   string         `db:"segment" json:"segment,omitempty"`
	ActorID   string         `db:"actor_id" json:"actorId,omitempty"`
	ActorName string         `db:"actor_name" json:"actorName,omitempty"`
	Metadata  map[string]any `db:"metadata" json:"metadata,omitempty"`
}

// SegmentConfig controls how a sequence is split into sub-counters.
type SegmentConfig struct {
	Enabled bool        `db:"segments_enabled" json:"enabled"`
	Type    SegmentType `db:"segment_type" json:"type,omitempty"`

	// Field names the custom dimension; required iff Type is SegmentCustom.
	Field string `db:"segment_field" json:"field,omitempty"`
}

// Sequence is the aggregate root of the consecutive number service.
type Sequence struct {
	ID          id.ID  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description,omitempty"`

	// CurrentValue is the global counter; segment counters live in SegmentValues.
	CurrentValue int64 `db:"current_value" json:"currentValue"`
	IncrementBy  int64 `db:"increment_by" json:"incrementBy"`

	// Formatting
	Prefix    string `db:"prefix" json:"prefix,omitempty"`
	Suffix    string `db:"suffix" json:"suffix,omitempty"`
	PadLength int    `db:"pad_length" json:"padLength"`
	PadChar   string `db:"pad_char" json:"padChar"`
	Pattern   string `db:"pattern" json:"pattern,omitempty"`

	Segments SegmentConfig `json:"segments"`

	// SegmentValues maps a resolved segment key to that segment's counter.
	// Keys are user-defined (years, company ids, ...), so no schema-level
	// enumeration exists.
	SegmentValues map[string]int64 `db:"segment_values" json:"segmentValues,omitempty"`

	// Active gates all mutating operations; disabled sequences reject them.
	Active bool `db:"active" json:"active"`

	// Version backs optimistic locking; every committed mutation bumps it.
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	// Child collections (separate tables in PostgreSQL, loaded with the root).
	Assignments []Assignment `json:"assignments,omitempty"`
	Blocks      []Block      `json:"blocks,omitempty"`
}

// New creates a sequence with the given unique name and sensible defaults.
func New(name string) *Sequence {
	now := time.Now().UTC()
	return &Sequence{
		ID:          id.New(),
		Name:        name,
		IncrementBy: 1,
		PadChar:     "0",
		Active:      true,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks aggregate invariants (no database access).
func (s *Sequence) Validate(ctx context.Context) error {
	if s.Name == "" {
		return apperror.NewValidation("sequence name is required").
			WithDetail("field", "name")
	}
	if s.CurrentValue < 0 {
		return apperror.NewValidation("current value must not be negative").
			WithDetail("field", "currentValue")
	}
	if s.IncrementBy < 1 {
		return apperror.NewValidation("increment step must be at least 1").
			WithDetail("field", "incrementBy").
			WithDetail("value", s.IncrementBy)
	}
	if s.PadLength < 0 {
		return apperror.NewValidation("pad length must not be negative").
			WithDetail("field", "padLength")
	}
	if len(s.PadChar) > 1 {
		return apperror.NewValidation("pad char must be a single character").
			WithDetail("field", "padChar")
	}
	if s.Segments.Enabled {
		switch s.Segments.Type {
		case SegmentYear, SegmentMonth, SegmentDay, SegmentCompany, SegmentUser:
		case SegmentCustom:
			if s.Segments.Field == "" {
				return apperror.NewValidation("segment field is required for custom segmentation").
					WithDetail("field", "segments.field")
			}
		default:
			return apperror.NewValidation("invalid segment type").
				WithDetail("field", "segments.type").
				WithDetail("value", string(s.Segments.Type))
		}
	}
	for _, a := range s.Assignments {
		if err := validateAssignment(a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssignment(a Assignment) error {
	switch a.EntityType {
	case EntityUser, EntityCompany, EntityMapping, EntityOther:
	default:
		return apperror.NewValidation("invalid assignment entity type").
			WithDetail("field", "entityType").
			WithDetail("value", string(a.EntityType))
	}
	if a.EntityID == "" {
		return apperror.NewValidation("assignment entity id is required").
			WithDetail("field", "entityId")
	}
	if len(a.Operations) == 0 {
		return apperror.NewValidation("assignment must grant at least one operation").
			WithDetail("field", "allowedOperations")
	}
	for _, op := range a.Operations {
		switch op {
		case OpRead, OpIncrement, OpReset, OpAll:
		default:
			return apperror.NewValidation("invalid operation").
				WithDetail("field", "allowedOperations").
				WithDetail("value", string(op))
		}
	}
	return nil
}

// CounterValue returns the current counter for a segment ("" = global).
func (s *Sequence) CounterValue(segment string) int64 {
	if segment == "" {
		return s.CurrentValue
	}
	return s.SegmentValues[segment]
}

// setCounter overwrites the counter for a segment ("" = global).
func (s *Sequence) setCounter(segment string, v int64) {
	if segment == "" {
		s.CurrentValue = v
		return
	}
	if s.SegmentValues == nil {
		s.SegmentValues = make(map[string]int64)
	}
	s.SegmentValues[segment] = v
}

// Advance moves the counter forward by IncrementBy and returns the new value.
func (s *Sequence) Advance(segment string) int64 {
	next := s.CounterValue(segment) + s.IncrementBy
	s.setCounter(segment, next)
	return next
}

// ReserveRange carves quantity consecutive values out of the counter and
// advances it past them. Returns the inclusive range bounds.
func (s *Sequence) ReserveRange(segment string, quantity int64) (start, end int64) {
	start = s.CounterValue(segment) + 1
	end = start + quantity - 1
	s.setCounter(segment, end)
	return start, end
}

// Reset overwrites a counter with an explicit value. The only sanctioned way
// a counter may move backwards.
func (s *Sequence) Reset(segment string, value int64) {
	s.setCounter(segment, value)
}

// FindBlock locates a block by id, or nil.
func (s *Sequence) FindBlock(blockID id.ID) *Block {
	for i := range s.Blocks {
		if s.Blocks[i].ID == blockID {
			return &s.Blocks[i]
		}
	}
	return nil
}

// ActiveBlockCount returns the number of blocks still holding reservations.
func (s *Sequence) ActiveBlockCount() int {
	n := 0
	for i := range s.Blocks {
		if s.Blocks[i].Consumable() {
			n++
		}
	}
	return n
}

// UpsertAssignment adds or replaces the assignment for the (entityType,
// entityId) pair. Re-assigning an existing pair replaces its operations
// instead of duplicating the entry.
func (s *Sequence) UpsertAssignment(a Assignment) {
	for i := range s.Assignments {
		if s.Assignments[i].EntityType == a.EntityType && s.Assignments[i].EntityID == a.EntityID {
			s.Assignments[i].Operations = a.Operations
			return
		}
	}
	s.Assignments = append(s.Assignments, a)
}

// AssignmentFor returns the assignment matching ref, or nil.
func (s *Sequence) AssignmentFor(ref EntityRef) *Assignment {
	for i := range s.Assignments {
		if s.Assignments[i].EntityType == ref.Type && s.Assignments[i].EntityID == ref.ID {
			return &s.Assignments[i]
		}
	}
	return nil
}

// Touch updates the modification timestamp. The version is bumped by the
// repository as part of its conditional update.
func (s *Sequence) Touch() {
	s.UpdatedAt = time.Now().UTC()
}
