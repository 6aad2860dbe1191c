package dto

import (
	"testing"
	"time"

	"conseq/internal/core/id"
	"conseq/internal/domain/sequence"
)

func TestFromBlock_TTL(t *testing.T) {
	base := sequence.Block{
		ID:         id.New(),
		StartValue: 101,
		EndValue:   150,
		ExpiresAt:  time.Now().Add(10 * time.Minute),
	}

	tests := []struct {
		name    string
		status  sequence.BlockStatus
		expires time.Time
		wantTTL bool
	}{
		{"reserved block carries remaining ttl", sequence.BlockReserved, base.ExpiresAt, true},
		{"active block has no ttl", sequence.BlockActive, base.ExpiresAt, false},
		{"expired deadline yields no ttl", sequence.BlockReserved, time.Now().Add(-time.Minute), false},
		{"cancelled block has no ttl", sequence.BlockCancelled, base.ExpiresAt, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := base
			b.Status = tt.status
			b.ExpiresAt = tt.expires

			resp := FromBlock(&b)
			if tt.wantTTL && resp.TTL == "" {
				t.Error("expected a remaining ttl, got none")
			}
			if !tt.wantTTL && resp.TTL != "" {
				t.Errorf("unexpected ttl %q", resp.TTL)
			}
		})
	}
}

func TestFromBlockInfo_CarriesTTL(t *testing.T) {
	info := &sequence.BlockInfo{
		BlockID:    id.New(),
		SequenceID: id.New(),
		Sequence:   "orders",
		StartValue: 1,
		EndValue:   10,
		Status:     sequence.BlockReserved,
		Remaining:  10,
		TTL:        "9m30s",
	}

	resp := FromBlockInfo(info)
	if resp.TTL != "9m30s" {
		t.Errorf("want ttl 9m30s, got %q", resp.TTL)
	}
}
