package sequence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"conseq/internal/core/apperror"
	"conseq/internal/core/id"
)

// memRepo is an in-memory Repository with the same conditional-update
// semantics as the PostgreSQL implementation: Update persists root state only
// when the stored version matches the one the caller loaded. Safe for
// concurrent use, which is what the contention tests rely on.
type memRepo struct {
	mu      sync.Mutex
	seqs    map[id.ID]*Sequence
	history map[id.ID][]HistoryEntry
}

func newMemRepo() *memRepo {
	return &memRepo{
		seqs:    make(map[id.ID]*Sequence),
		history: make(map[id.ID][]HistoryEntry),
	}
}

// noopTxManager satisfies tx.Manager; the memory repo needs no transactions.
type noopTxManager struct{}

func (noopTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func cloneSequence(s *Sequence) *Sequence {
	out := *s
	if s.SegmentValues != nil {
		out.SegmentValues = make(map[string]int64, len(s.SegmentValues))
		for k, v := range s.SegmentValues {
			out.SegmentValues[k] = v
		}
	}
	out.Assignments = make([]Assignment, len(s.Assignments))
	for i, a := range s.Assignments {
		out.Assignments[i] = a
		out.Assignments[i].Operations = append([]Operation(nil), a.Operations...)
	}
	out.Blocks = make([]Block, len(s.Blocks))
	for i, b := range s.Blocks {
		out.Blocks[i] = b
		out.Blocks[i].UsedValues = append([]int64(nil), b.UsedValues...)
	}
	return &out
}

func (r *memRepo) Create(ctx context.Context, s *Sequence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.seqs {
		if existing.Name == s.Name {
			return apperror.NewDuplicate("sequence", "name", s.Name)
		}
	}
	r.seqs[s.ID] = cloneSequence(s)
	return nil
}

func (r *memRepo) Update(ctx context.Context, s *Sequence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.seqs[s.ID]
	if !ok {
		return apperror.NewNotFound("sequence", s.ID.String())
	}
	if stored.Version != s.Version {
		return apperror.NewConcurrentModification("sequence", s.ID.String())
	}

	// Root state only; child records go through SaveBlock / SaveAssignment.
	next := cloneSequence(s)
	next.Assignments = stored.Assignments
	next.Blocks = stored.Blocks
	next.Version = stored.Version + 1
	r.seqs[s.ID] = next

	s.Version++
	return nil
}

func (r *memRepo) Delete(ctx context.Context, seqID id.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seqs[seqID]; !ok {
		return apperror.NewNotFound("sequence", seqID.String())
	}
	delete(r.seqs, seqID)
	delete(r.history, seqID)
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, seqID id.ID) (*Sequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seqs[seqID]
	if !ok {
		return nil, apperror.NewNotFound("sequence", seqID.String())
	}
	return cloneSequence(s), nil
}

func (r *memRepo) GetByName(ctx context.Context, name string) (*Sequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.seqs {
		if s.Name == name {
			return cloneSequence(s), nil
		}
	}
	return nil, apperror.NewNotFound("sequence", name)
}

func (r *memRepo) GetByBlockID(ctx context.Context, blockID id.ID) (*Sequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.seqs {
		for i := range s.Blocks {
			if s.Blocks[i].ID == blockID {
				return cloneSequence(s), nil
			}
		}
	}
	return nil, apperror.NewNotFound("block", blockID.String())
}

func (r *memRepo) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Sequence
	for _, s := range r.seqs {
		if f.ActiveOnly && !s.Active {
			continue
		}
		if f.Search != "" &&
			!strings.Contains(s.Name, f.Search) &&
			!strings.Contains(s.Description, f.Search) {
			continue
		}
		matched = append(matched, cloneSequence(s))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	total := int64(len(matched))
	if f.Offset < len(matched) {
		matched = matched[f.Offset:]
	} else {
		matched = nil
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}

	return &ListResult{Items: matched, TotalCount: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func (r *memRepo) ListActive(ctx context.Context) ([]*Sequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Sequence
	for _, s := range r.seqs {
		if s.Active {
			out = append(out, cloneSequence(s))
		}
	}
	return out, nil
}

func (r *memRepo) SaveBlock(ctx context.Context, seqID id.ID, b *Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seqs[seqID]
	if !ok {
		return apperror.NewNotFound("sequence", seqID.String())
	}
	saved := *b
	saved.UsedValues = append([]int64(nil), b.UsedValues...)
	for i := range s.Blocks {
		if s.Blocks[i].ID == b.ID {
			s.Blocks[i] = saved
			return nil
		}
	}
	s.Blocks = append(s.Blocks, saved)
	return nil
}

func (r *memRepo) SaveAssignment(ctx context.Context, seqID id.ID, a Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seqs[seqID]
	if !ok {
		return apperror.NewNotFound("sequence", seqID.String())
	}
	s.UpsertAssignment(a)
	return nil
}

func (r *memRepo) AppendHistory(ctx context.Context, seqID id.ID, entry HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[seqID] = append(r.history[seqID], entry)
	return nil
}

func (r *memRepo) ListHistory(ctx context.Context, seqID id.ID, limit int) ([]HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.history[seqID]
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	// Newest first, like the SQL implementation.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) CountIncrementsSince(ctx context.Context, seqID id.ID, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, e := range r.history[seqID] {
		if (e.Action == ActionIncremented || e.Action == ActionConsumed) && !e.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

// historyActions returns the recorded actions, oldest first.
func (r *memRepo) historyActions(seqID id.ID) []HistoryAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HistoryAction, 0, len(r.history[seqID]))
	for _, e := range r.history[seqID] {
		out = append(out, e.Action)
	}
	return out
}
