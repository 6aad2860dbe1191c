package sequence

import (
	"context"
	"time"

	"conseq/internal/core/id"
)

// ListFilter contains filtering options for sequence listing.
type ListFilter struct {
	// Search matches against name and description.
	Search string

	// ActiveOnly excludes disabled sequences.
	ActiveOnly bool

	// Pagination
	Limit  int
	Offset int
}

// DefaultListFilter returns sensible defaults.
func DefaultListFilter() ListFilter {
	return ListFilter{Limit: 50}
}

// ListResult contains paginated results.
type ListResult struct {
	Items      []*Sequence `json:"items"`
	TotalCount int64       `json:"totalCount"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
}

// Repository defines persistence for the Sequence aggregate.
//
// Contract required by the service layer:
//   - Create fails with a DUPLICATE_ENTRY error when the name is taken.
//   - Update is a conditional write on the aggregate version: it persists
//     counters, segment values, formatting and flags, bumps the version, and
//     fails with CONCURRENT_MODIFICATION when the stored version differs
//     from the loaded one. This conditional update is what makes concurrent
//     increments safe without application-level locks.
//   - SaveBlock and SaveAssignment upsert child records; they are always
//     called inside the same transactional scope as the Update that won the
//     version race.
//   - AppendHistory only ever inserts; history rows are never updated or
//     deleted.
type Repository interface {
	Create(ctx context.Context, s *Sequence) error
	Update(ctx context.Context, s *Sequence) error
	Delete(ctx context.Context, seqID id.ID) error

	GetByID(ctx context.Context, seqID id.ID) (*Sequence, error)
	GetByName(ctx context.Context, name string) (*Sequence, error)

	// GetByBlockID resolves the sequence owning a reservation block.
	GetByBlockID(ctx context.Context, blockID id.ID) (*Sequence, error)

	List(ctx context.Context, f ListFilter) (*ListResult, error)

	// ListActive returns every active sequence, used by the expire sweep.
	ListActive(ctx context.Context) ([]*Sequence, error)

	SaveBlock(ctx context.Context, seqID id.ID, b *Block) error
	SaveAssignment(ctx context.Context, seqID id.ID, a Assignment) error

	AppendHistory(ctx context.Context, seqID id.ID, entry HistoryEntry) error
	ListHistory(ctx context.Context, seqID id.ID, limit int) ([]HistoryEntry, error)

	// CountIncrementsSince counts increment/consume history entries newer
	// than the given instant (metrics surface).
	CountIncrementsSince(ctx context.Context, seqID id.ID, since time.Time) (int64, error)
}
