package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"conseq/internal/core/apperror"
	"conseq/internal/core/id"
	"conseq/internal/domain/sequence"
)

// Compile-time check that SequenceRepo implements the domain repository.
var _ sequence.Repository = (*SequenceRepo)(nil)

// Expected table shapes (operators own the DDL):
//
//	sequences            id uuid PK, name text UNIQUE, description, current_value,
//	                     increment_by, prefix, suffix, pad_length, pad_char, pattern,
//	                     segments_enabled, segment_type, segment_field,
//	                     segment_values jsonb, active, version, created_at, updated_at
//	sequence_assignments PK (sequence_id, entity_type, entity_id), operations text[]
//	sequence_blocks      id uuid PK, sequence_id uuid FK, start_value, end_value,
//	                     segment, status, used_values bigint[], expires_at,
//	                     created_at, updated_at
//	sequence_history     id bigserial PK, sequence_id uuid FK, ts, action, value,
//	                     segment, actor_id, actor_name, metadata jsonb
//
// sequence_history.id is assigned by the database and serves as the tie-break
// when ordering entries that share a timestamp.
const (
	sequencesTable   = "sequences"
	assignmentsTable = "sequence_assignments"
	blocksTable      = "sequence_blocks"
	historyTable     = "sequence_history"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// SequenceRepo persists the Sequence aggregate across four tables:
// the root row, assignments, blocks and the append-only history.
//
// Uniqueness of issued values rests on the conditional write in Update: the
// root row is only written when its version still matches the loaded one, so
// two concurrent read-modify-write cycles can never both commit.
type SequenceRepo struct {
	txm *TxManager
}

// NewSequenceRepo creates a new sequence repository.
func NewSequenceRepo(txm *TxManager) *SequenceRepo {
	return &SequenceRepo{txm: txm}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *SequenceRepo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *SequenceRepo) querier(ctx context.Context) Querier {
	return r.txm.GetQuerier(ctx)
}

// --- Row types (scanned with pgxscan) ---

type sequenceRow struct {
	ID              id.ID            `db:"id"`
	Name            string           `db:"name"`
	Description     string           `db:"description"`
	CurrentValue    int64            `db:"current_value"`
	IncrementBy     int64            `db:"increment_by"`
	Prefix          string           `db:"prefix"`
	Suffix          string           `db:"suffix"`
	PadLength       int              `db:"pad_length"`
	PadChar         string           `db:"pad_char"`
	Pattern         string           `db:"pattern"`
	SegmentsEnabled bool             `db:"segments_enabled"`
	SegmentType     string           `db:"segment_type"`
	SegmentField    string           `db:"segment_field"`
	SegmentValues   map[string]int64 `db:"segment_values"`
	Active          bool             `db:"active"`
	Version         int              `db:"version"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
}

var sequenceColumns = []string{
	"id", "name", "description", "current_value", "increment_by",
	"prefix", "suffix", "pad_length", "pad_char", "pattern",
	"segments_enabled", "segment_type", "segment_field", "segment_values",
	"active", "version", "created_at", "updated_at",
}

func (row *sequenceRow) toDomain() *sequence.Sequence {
	return &sequence.Sequence{
		ID:           row.ID,
		Name:         row.Name,
		Description:  row.Description,
		CurrentValue: row.CurrentValue,
		IncrementBy:  row.IncrementBy,
		Prefix:       row.Prefix,
		Suffix:       row.Suffix,
		PadLength:    row.PadLength,
		PadChar:      row.PadChar,
		Pattern:      row.Pattern,
		Segments: sequence.SegmentConfig{
			Enabled: row.SegmentsEnabled,
			Type:    sequence.SegmentType(row.SegmentType),
			Field:   row.SegmentField,
		},
		SegmentValues: row.SegmentValues,
		Active:        row.Active,
		Version:       row.Version,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

type assignmentRow struct {
	EntityType string   `db:"entity_type"`
	EntityID   string   `db:"entity_id"`
	Operations []string `db:"operations"`
}

type blockRow struct {
	ID         id.ID     `db:"id"`
	StartValue int64     `db:"start_value"`
	EndValue   int64     `db:"end_value"`
	Segment    string    `db:"segment"`
	Status     string    `db:"status"`
	UsedValues []int64   `db:"used_values"`
	ExpiresAt  time.Time `db:"expires_at"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type historyRow struct {
	Timestamp time.Time      `db:"ts"`
	Action    string         `db:"action"`
	Value     int64          `db:"value"`
	Segment   string         `db:"segment"`
	ActorID   string         `db:"actor_id"`
	ActorName string         `db:"actor_name"`
	Metadata  map[string]any `db:"metadata"`
}

// --- Writes ---

// Create inserts the root row and any initial assignments.
func (r *SequenceRepo) Create(ctx context.Context, s *sequence.Sequence) error {
	segmentValues := s.SegmentValues
	if segmentValues == nil {
		segmentValues = map[string]int64{}
	}

	q := r.Builder().
		Insert(sequencesTable).
		Columns(sequenceColumns...).
		Values(
			s.ID, s.Name, s.Description, s.CurrentValue, s.IncrementBy,
			s.Prefix, s.Suffix, s.PadLength, s.PadChar, s.Pattern,
			s.Segments.Enabled, string(s.Segments.Type), s.Segments.Field, segmentValues,
			s.Active, s.Version, s.CreatedAt, s.UpdatedAt,
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperror.NewDuplicate("sequence", "name", s.Name)
		}
		return fmt.Errorf("insert sequence: %w", err)
	}

	for _, a := range s.Assignments {
		if err := r.SaveAssignment(ctx, s.ID, a); err != nil {
			return err
		}
	}
	return nil
}

// Update performs the conditional write on the root row. The WHERE clause
// pins the version read by the caller; zero rows affected means another
// writer committed in between, reported as CONCURRENT_MODIFICATION so the
// retry coordinator can re-run the operation.
func (r *SequenceRepo) Update(ctx context.Context, s *sequence.Sequence) error {
	segmentValues := s.SegmentValues
	if segmentValues == nil {
		segmentValues = map[string]int64{}
	}

	q := r.Builder().
		Update(sequencesTable).
		Set("description", s.Description).
		Set("current_value", s.CurrentValue).
		Set("increment_by", s.IncrementBy).
		Set("prefix", s.Prefix).
		Set("suffix", s.Suffix).
		Set("pad_length", s.PadLength).
		Set("pad_char", s.PadChar).
		Set("pattern", s.Pattern).
		Set("segments_enabled", s.Segments.Enabled).
		Set("segment_type", string(s.Segments.Type)).
		Set("segment_field", s.Segments.Field).
		Set("segment_values", segmentValues).
		Set("active", s.Active).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", s.UpdatedAt).
		Where(squirrel.Eq{"id": s.ID}).
		Where(squirrel.Eq{"version": s.Version})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update sequence: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("sequence", s.ID.String())
	}

	s.Version++
	return nil
}

// Delete hard-removes the aggregate and its child records.
func (r *SequenceRepo) Delete(ctx context.Context, seqID id.ID) error {
	querier := r.querier(ctx)
	for _, table := range []string{historyTable, blocksTable, assignmentsTable} {
		sql, args, err := r.Builder().Delete(table).Where(squirrel.Eq{"sequence_id": seqID}).ToSql()
		if err != nil {
			return fmt.Errorf("build delete: %w", err)
		}
		if _, err := querier.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}

	sql, args, err := r.Builder().Delete(sequencesTable).Where(squirrel.Eq{"id": seqID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	result, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete sequence: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound("sequence", seqID.String())
	}
	return nil
}

// SaveBlock upserts a block record.
func (r *SequenceRepo) SaveBlock(ctx context.Context, seqID id.ID, b *sequence.Block) error {
	usedValues := b.UsedValues
	if usedValues == nil {
		usedValues = []int64{}
	}
	_, err := r.querier(ctx).Exec(ctx, `
        INSERT INTO sequence_blocks
            (id, sequence_id, start_value, end_value, segment, status, used_values, expires_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            used_values = EXCLUDED.used_values,
            expires_at = EXCLUDED.expires_at,
            updated_at = EXCLUDED.updated_at
	`, b.ID, seqID, b.StartValue, b.EndValue, b.Segment, string(b.Status), usedValues, b.ExpiresAt, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert block: %w", err)
	}
	return nil
}

// SaveAssignment upserts the assignment for a (entity_type, entity_id) pair.
// The composite primary key enforces at most one row per pair.
func (r *SequenceRepo) SaveAssignment(ctx context.Context, seqID id.ID, a sequence.Assignment) error {
	ops := make([]string, 0, len(a.Operations))
	for _, op := range a.Operations {
		ops = append(ops, string(op))
	}
	_, err := r.querier(ctx).Exec(ctx, `
        INSERT INTO sequence_assignments (sequence_id, entity_type, entity_id, operations)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (sequence_id, entity_type, entity_id) DO UPDATE SET
            operations = EXCLUDED.operations
	`, seqID, string(a.EntityType), a.EntityID, ops)
	if err != nil {
		return fmt.Errorf("upsert assignment: %w", err)
	}
	return nil
}

// AppendHistory inserts an audit entry. Insert-only: history rows are never
// updated or deleted while the sequence lives.
func (r *SequenceRepo) AppendHistory(ctx context.Context, seqID id.ID, entry sequence.HistoryEntry) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := r.querier(ctx).Exec(ctx, `
        INSERT INTO sequence_history (sequence_id, ts, action, value, segment, actor_id, actor_name, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, seqID, entry.Timestamp, string(entry.Action), entry.Value, entry.Segment, entry.ActorID, entry.ActorName, metadata)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// --- Reads ---

// GetByID retrieves the full aggregate by id.
func (r *SequenceRepo) GetByID(ctx context.Context, seqID id.ID) (*sequence.Sequence, error) {
	return r.getOne(ctx, squirrel.Eq{"id": seqID}, seqID.String())
}

// GetByName retrieves the full aggregate by unique name.
func (r *SequenceRepo) GetByName(ctx context.Context, name string) (*sequence.Sequence, error) {
	return r.getOne(ctx, squirrel.Eq{"name": name}, name)
}

// GetByBlockID resolves the sequence owning a reservation block.
func (r *SequenceRepo) GetByBlockID(ctx context.Context, blockID id.ID) (*sequence.Sequence, error) {
	var seqID id.ID
	sql, args, err := r.Builder().
		Select("sequence_id").
		From(blocksTable).
		Where(squirrel.Eq{"id": blockID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Get(ctx, r.querier(ctx), &seqID, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("block", blockID.String())
		}
		return nil, fmt.Errorf("resolve block owner: %w", err)
	}
	return r.GetByID(ctx, seqID)
}

func (r *SequenceRepo) getOne(ctx context.Context, where squirrel.Eq, ident string) (*sequence.Sequence, error) {
	var row sequenceRow
	sql, args, err := r.Builder().
		Select(sequenceColumns...).
		From(sequencesTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	querier := r.querier(ctx)
	if err := pgxscan.Get(ctx, querier, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("sequence", ident)
		}
		return nil, fmt.Errorf("get sequence: %w", err)
	}

	seq := row.toDomain()
	if err := r.loadChildren(ctx, seq); err != nil {
		return nil, err
	}
	return seq, nil
}

func (r *SequenceRepo) loadChildren(ctx context.Context, seq *sequence.Sequence) error {
	querier := r.querier(ctx)

	var assignments []assignmentRow
	sql, args, err := r.Builder().
		Select("entity_type", "entity_id", "operations").
		From(assignmentsTable).
		Where(squirrel.Eq{"sequence_id": seq.ID}).
		OrderBy("entity_type", "entity_id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, querier, &assignments, sql, args...); err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}
	for _, a := range assignments {
		ops := make([]sequence.Operation, 0, len(a.Operations))
		for _, op := range a.Operations {
			ops = append(ops, sequence.Operation(op))
		}
		seq.Assignments = append(seq.Assignments, sequence.Assignment{
			EntityType: sequence.EntityType(a.EntityType),
			EntityID:   a.EntityID,
			Operations: ops,
		})
	}

	var blocks []blockRow
	sql, args, err = r.Builder().
		Select("id", "start_value", "end_value", "segment", "status", "used_values", "expires_at", "created_at", "updated_at").
		From(blocksTable).
		Where(squirrel.Eq{"sequence_id": seq.ID}).
		OrderBy("start_value").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, querier, &blocks, sql, args...); err != nil {
		return fmt.Errorf("load blocks: %w", err)
	}
	for _, b := range blocks {
		seq.Blocks = append(seq.Blocks, sequence.Block{
			ID:         b.ID,
			StartValue: b.StartValue,
			EndValue:   b.EndValue,
			Segment:    b.Segment,
			Status:     sequence.BlockStatus(b.Status),
			UsedValues: b.UsedValues,
			ExpiresAt:  b.ExpiresAt,
			CreatedAt:  b.CreatedAt,
			UpdatedAt:  b.UpdatedAt,
		})
	}
	return nil
}

// List returns sequences matching the filter, children included.
func (r *SequenceRepo) List(ctx context.Context, f sequence.ListFilter) (*sequence.ListResult, error) {
	base := r.Builder().Select(sequenceColumns...).From(sequencesTable)
	countQ := r.Builder().Select("COUNT(*)").From(sequencesTable)

	if f.Search != "" {
		like := "%" + f.Search + "%"
		cond := squirrel.Or{
			squirrel.ILike{"name": like},
			squirrel.ILike{"description": like},
		}
		base = base.Where(cond)
		countQ = countQ.Where(cond)
	}
	if f.ActiveOnly {
		base = base.Where(squirrel.Eq{"active": true})
		countQ = countQ.Where(squirrel.Eq{"active": true})
	}

	querier := r.querier(ctx)

	var total int64
	sql, args, err := countQ.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count: %w", err)
	}
	if err := pgxscan.Get(ctx, querier, &total, sql, args...); err != nil {
		return nil, fmt.Errorf("count sequences: %w", err)
	}

	sql, args, err = base.
		OrderBy("name").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []sequenceRow
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}

	items := make([]*sequence.Sequence, 0, len(rows))
	for i := range rows {
		seq := rows[i].toDomain()
		if err := r.loadChildren(ctx, seq); err != nil {
			return nil, err
		}
		items = append(items, seq)
	}

	return &sequence.ListResult{
		Items:      items,
		TotalCount: total,
		Limit:      f.Limit,
		Offset:     f.Offset,
	}, nil
}

// ListActive returns every active sequence for the expire sweep.
func (r *SequenceRepo) ListActive(ctx context.Context) ([]*sequence.Sequence, error) {
	var rows []sequenceRow
	sql, args, err := r.Builder().
		Select(sequenceColumns...).
		From(sequencesTable).
		Where(squirrel.Eq{"active": true}).
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, r.querier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list active sequences: %w", err)
	}

	items := make([]*sequence.Sequence, 0, len(rows))
	for i := range rows {
		seq := rows[i].toDomain()
		if err := r.loadChildren(ctx, seq); err != nil {
			return nil, err
		}
		items = append(items, seq)
	}
	return items, nil
}

// ListHistory returns the newest entries first.
func (r *SequenceRepo) ListHistory(ctx context.Context, seqID id.ID, limit int) ([]sequence.HistoryEntry, error) {
	var rows []historyRow
	sql, args, err := r.Builder().
		Select("ts", "action", "value", "segment", "actor_id", "actor_name", "metadata").
		From(historyTable).
		Where(squirrel.Eq{"sequence_id": seqID}).
		OrderBy("ts DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, r.querier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	entries := make([]sequence.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, sequence.HistoryEntry{
			Timestamp: row.Timestamp,
			Action:    sequence.HistoryAction(row.Action),
			Value:     row.Value,
			Segment:   row.Segment,
			ActorID:   row.ActorID,
			ActorName: row.ActorName,
			Metadata:  row.Metadata,
		})
	}
	return entries, nil
}

// CountIncrementsSince counts issuance events (direct increments and block
// consumption) newer than the given instant.
func (r *SequenceRepo) CountIncrementsSince(ctx context.Context, seqID id.ID, since time.Time) (int64, error) {
	var count int64
	sql, args, err := r.Builder().
		Select("COUNT(*)").
		From(historyTable).
		Where(squirrel.Eq{"sequence_id": seqID}).
		Where(squirrel.Eq{"action": []string{
			string(sequence.ActionIncremented),
			string(sequence.ActionConsumed),
		}}).
		Where(squirrel.GtOrEq{"ts": since}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Get(ctx, r.querier(ctx), &count, sql, args...); err != nil {
		return 0, fmt.Errorf("count increments: %w", err)
	}
	return count, nil
}
