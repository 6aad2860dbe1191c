package sequence

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"conseq/internal/core/apperror"
)

func TestReserveBlock(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := actorCtx("etl", "")

	seq := New("bulk")
	seq.CurrentValue = 100
	if err := svc.Create(ctx, seq); err != nil {
		t.Fatalf("create: %v", err)
	}

	receipt, err := svc.ReserveBlock(ctx, "bulk", ReserveRequest{Quantity: 50})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if receipt.StartValue != 101 || receipt.EndValue != 150 {
		t.Errorf("range mismatch: want [101,150], got [%d,%d]", receipt.StartValue, receipt.EndValue)
	}

	// Direct issuance continues past the reserved range.
	v, err := svc.GetNextValue(ctx, "bulk", NextOptions{})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if v != "151" {
		t.Errorf("want 151 after reservation, got %s", v)
	}
}

func TestReserveBlock_Validation(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := actorCtx("etl", "")

	if err := svc.Create(ctx, New("strict")); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, quantity := range []int64{0, -5, MaxReserveQuantity + 1, math.MaxInt64} {
		_, err := svc.ReserveBlock(ctx, "strict", ReserveRequest{Quantity: quantity})
		if err == nil || !apperror.IsValidation(err) {
			t.Errorf("quantity %d: expected validation error, got %v", quantity, err)
		}
	}

	// Rejected reservations must not move the counter.
	got, err := svc.GetNextValue(ctx, "strict", NextOptions{})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != "1" {
		t.Errorf("counter moved by rejected reservations: got %s", got)
	}
}

func TestReserveBlock_CounterNearMax(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := actorCtx("etl", "")

	if err := svc.Create(ctx, New("ceiling")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Reset(ctx, "ceiling", ResetRequest{Value: math.MaxInt64 - 5}); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// The range end would wrap past the int64 maximum.
	_, err := svc.ReserveBlock(ctx, "ceiling", ReserveRequest{Quantity: 10})
	if err == nil || !apperror.IsValidation(err) {
		t.Fatalf("expected validation error for wrapping range, got %v", err)
	}

	// A range that still fits is fine and stays positive.
	receipt, err := svc.ReserveBlock(ctx, "ceiling", ReserveRequest{Quantity: 5})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if receipt.StartValue <= 0 || receipt.EndValue < receipt.StartValue {
		t.Errorf("corrupt range: [%d,%d]", receipt.StartValue, receipt.EndValue)
	}
	if receipt.EndValue != math.MaxInt64 {
		t.Errorf("want end %d, got %d", int64(math.MaxInt64), receipt.EndValue)
	}

	// The counter is pinned at the maximum; direct issuance must fail
	// rather than go negative.
	_, err = svc.GetNextValue(ctx, "ceiling", NextOptions{})
	if !apperror.IsConflict(err) {
		t.Errorf("expected conflict for exhausted counter, got %v", err)
	}
}

func TestReserveBlock_DisjointUnderContention(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := actorCtx("etl", "")

	if err := svc.Create(ctx, New("parallel")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const reservers = 10
	var wg sync.WaitGroup
	receipts := make(chan *BlockReceipt, reservers)

	for i := 0; i < reservers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.ReserveBlock(ctx, "parallel", ReserveRequest{Quantity: 100})
			if err != nil {
				t.Errorf("reserve failed: %v", err)
				return
			}
			receipts <- r
		}()
	}
	wg.Wait()
	close(receipts)

	// Ranges must be pairwise disjoint.
	type span struct{ start, end int64 }
	var spans []span
	for r := range receipts {
		spans = append(spans, span{r.StartValue, r.EndValue})
	}
	if len(spans) != reservers {
		t.Fatalf("expected %d receipts, got %d", reservers, len(spans))
	}
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			a, b := spans[i], spans[j]
			if a.start <= b.end && b.start <= a.end {
				t.Errorf("overlapping ranges: [%d,%d] and [%d,%d]", a.start, a.end, b.start, b.end)
			}
		}
	}
}

func TestUseFromBlock(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := actorCtx("etl", "")

	seq := New("drawdown")
	seq.Prefix = "DOC-"
	seq.PadLength = 4
	if err := svc.Create(ctx, seq); err != nil {
		t.Fatalf("create: %v", err)
	}

	receipt, err := svc.ReserveBlock(ctx, "drawdown", ReserveRequest{Quantity: 3})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Values come out in ascending order, formatted.
	for i, want := range []string{"DOC-0001", "DOC-0002", "DOC-0003"} {
		got, err := svc.UseFromBlock(ctx, receipt.BlockID)
		if err != nil {
			t.Fatalf("use %d: %v", i, err)
		}
		if got != want {
			t.Errorf("use %d: want %s, got %s", i, want, got)
		}
	}

	// Exhausted: the block completed on its last value.
	_, err = svc.UseFromBlock(ctx, receipt.BlockID)
	if !apperror.IsBlockExhausted(err) {
		t.Errorf("expected BLOCK_EXHAUSTED for completed block, got %v", err)
	}

	info, err := svc.GetBlockInfo(ctx, receipt.BlockID)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Status != BlockCompleted {
		t.Errorf("want completed, got %s", info.Status)
	}
	if info.Remaining != 0 {
		t.Errorf("want 0 remaining, got %d", info.Remaining)
	}
}

func TestCommitReservation(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := actorCtx("etl", "")

	seq := New("batch")
	if err := svc.Create(ctx, seq); err != nil {
		t.Fatalf("create: %v", err)
	}

	receipt, err := svc.ReserveBlock(ctx, "batch", ReserveRequest{Quantity: 5})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Bulk-commit a subset; re-committing one of them is idempotent.
	if err := svc.CommitReservation(ctx, "batch", receipt.BlockID, []int64{1, 2, 3}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := svc.CommitReservation(ctx, "batch", receipt.BlockID, []int64{3, 4}); err != nil {
		t.Fatalf("idempotent commit: %v", err)
	}

	available, remaining, err := svc.CheckBlockAvailability(ctx, receipt.BlockID)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if !available || remaining != 1 {
		t.Errorf("want available with 1 remaining, got available=%v remaining=%d", available, remaining)
	}

	// Out-of-range values are rejected.
	err = svc.CommitReservation(ctx, "batch", receipt.BlockID, []int64{99})
	if err == nil || !apperror.IsValidation(err) {
		t.Errorf("expected validation error for out-of-range value, got %v", err)
	}
}

func TestCancelReservation(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := actorCtx("etl", "")

	if err := svc.Create(ctx, New("cancellable")); err != nil {
		t.Fatalf("create: %v", err)
	}

	receipt, err := svc.ReserveBlock(ctx, "cancellable", ReserveRequest{Quantity: 10})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.CancelReservation(ctx, "cancellable", receipt.BlockID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Cancelled blocks yield no more values.
	_, err = svc.UseFromBlock(ctx, receipt.BlockID)
	appErr, ok := apperror.AsAppError(err)
	if !ok || appErr.Code != apperror.CodeBlockNotConsumable {
		t.Errorf("expected BLOCK_NOT_CONSUMABLE, got %v", err)
	}

	// The range is never reclaimed: issuance continues past it.
	v, err := svc.GetNextValue(ctx, "cancellable", NextOptions{})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if v != "11" {
		t.Errorf("cancelled range reclaimed: want 11, got %s", v)
	}

	// Cancel is not repeatable.
	if err := svc.CancelReservation(ctx, "cancellable", receipt.BlockID); err == nil {
		t.Error("expected error cancelling a cancelled block")
	}
}

func TestExpireReservations(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := actorCtx("etl", "")

	if err := svc.Create(ctx, New("perishable")); err != nil {
		t.Fatalf("create: %v", err)
	}

	short, err := svc.ReserveBlock(ctx, "perishable", ReserveRequest{Quantity: 5, TTL: time.Nanosecond})
	if err != nil {
		t.Fatalf("reserve short: %v", err)
	}
	long, err := svc.ReserveBlock(ctx, "perishable", ReserveRequest{Quantity: 5, TTL: time.Hour})
	if err != nil {
		t.Fatalf("reserve long: %v", err)
	}

	time.Sleep(time.Millisecond)

	expired, err := svc.ExpireReservations(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Errorf("want 1 expired, got %d", expired)
	}

	shortInfo, err := svc.GetBlockInfo(ctx, short.BlockID)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if shortInfo.Status != BlockExpired {
		t.Errorf("overdue block not expired: %s", shortInfo.Status)
	}

	longInfo, err := svc.GetBlockInfo(ctx, long.BlockID)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if longInfo.Status != BlockReserved {
		t.Errorf("live block touched by sweep: %s", longInfo.Status)
	}

	// A second sweep finds nothing.
	expired, err = svc.ExpireReservations(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if expired != 0 {
		t.Errorf("second sweep expired %d blocks", expired)
	}

	// Expiry is non-destructive: the range stays consumed.
	v, err := svc.GetNextValue(ctx, "perishable", NextOptions{})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if v != "11" {
		t.Errorf("expired range reclaimed: want 11, got %s", v)
	}
}

func TestUseFromBlock_ActiveBlockSurvivesExpirySweep(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := actorCtx("etl", "")

	if err := svc.Create(ctx, New("inflight")); err != nil {
		t.Fatalf("create: %v", err)
	}

	receipt, err := svc.ReserveBlock(ctx, "inflight", ReserveRequest{Quantity: 3, TTL: time.Nanosecond})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// First consumption activates the block before the deadline check runs.
	if _, err := svc.UseFromBlock(ctx, receipt.BlockID); err != nil {
		t.Fatalf("use: %v", err)
	}

	time.Sleep(time.Millisecond)
	if _, err := svc.ExpireReservations(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	// Only reserved blocks expire; active ones keep serving.
	if _, err := svc.UseFromBlock(ctx, receipt.BlockID); err != nil {
		t.Errorf("active block killed by sweep: %v", err)
	}
}

func TestUseFromBlock_ConcurrentConsumers(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := actorCtx("etl", "")

	if err := svc.Create(ctx, New("shared")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const consumers = 12
	receipt, err := svc.ReserveBlock(ctx, "shared", ReserveRequest{Quantity: consumers})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	var wg sync.WaitGroup
	values := make(chan string, consumers)
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.UseFromBlock(ctx, receipt.BlockID)
			if err != nil {
				t.Errorf("concurrent use failed: %v", err)
				return
			}
			values <- v
		}()
	}
	wg.Wait()
	close(values)

	seen := make(map[string]bool)
	for v := range values {
		if seen[v] {
			t.Fatalf("duplicate value consumed: %s", v)
		}
		seen[v] = true
	}
	if len(seen) != consumers {
		t.Fatalf("want %d distinct values, got %d", consumers, len(seen))
	}
}

func TestReserveBlock_OnBehalfOfMapping(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	admin := actorCtx("admin", "")

	seq := New("mapped")
	if err := svc.Create(admin, seq); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Assign(admin, "mapped", Assignment{
		EntityType: EntityMapping,
		EntityID:   "mapping-7",
		Operations: []Operation{OpIncrement},
	}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// The engine itself has no grant but acts for an assigned mapping.
	engine := actorCtx("engine", "")
	_, err := svc.ReserveBlock(engine, "mapped", ReserveRequest{
		Quantity:   10,
		OnBehalfOf: &EntityRef{Type: EntityMapping, ID: "mapping-7"},
	})
	if err != nil {
		t.Fatalf("on-behalf-of reservation rejected: %v", err)
	}

	// Without the delegation it is forbidden.
	_, err = svc.ReserveBlock(engine, "mapped", ReserveRequest{Quantity: 10})
	if !apperror.IsForbidden(err) {
		t.Errorf("expected forbidden, got %v", err)
	}
}

func TestBlockAudit(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := actorCtx("etl", "")

	seq := New("tracked")
	if err := svc.Create(ctx, seq); err != nil {
		t.Fatalf("create: %v", err)
	}

	receipt, err := svc.ReserveBlock(ctx, "tracked", ReserveRequest{Quantity: 2})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := svc.UseFromBlock(ctx, receipt.BlockID); err != nil {
		t.Fatalf("use: %v", err)
	}
	if err := svc.CommitReservation(ctx, "tracked", receipt.BlockID, []int64{2}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	want := []HistoryAction{ActionCreated, ActionReserved, ActionConsumed, ActionCommitted}
	got := repo.historyActions(seq.ID)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("audit trail mismatch\nwant: %v\ngot:  %v", want, got)
	}
}
