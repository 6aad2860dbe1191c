package sequence

import (
	"testing"

	"conseq/internal/core/apperror"
	appctx "conseq/internal/core/context"
)

func TestAuthorize_OpenSequence(t *testing.T) {
	s := New("open")

	// No assignments: every operation is allowed, even anonymously.
	for _, op := range []Operation{OpRead, OpIncrement, OpReset} {
		if err := Authorize(s, nil, op); err != nil {
			t.Errorf("open sequence rejected %s: %v", op, err)
		}
	}
}

func TestAuthorize_Assignments(t *testing.T) {
	s := New("restricted")
	s.UpsertAssignment(Assignment{
		EntityType: EntityUser,
		EntityID:   "user-1",
		Operations: []Operation{OpIncrement},
	})
	s.UpsertAssignment(Assignment{
		EntityType: EntityCompany,
		EntityID:   "acme",
		Operations: []Operation{OpAll},
	})

	userRef := []EntityRef{{Type: EntityUser, ID: "user-1"}}
	companyRef := []EntityRef{{Type: EntityCompany, ID: "acme"}}
	strangerRef := []EntityRef{{Type: EntityUser, ID: "user-2"}}

	tests := []struct {
		name    string
		refs    []EntityRef
		op      Operation
		allowed bool
	}{
		{"granted operation", userRef, OpIncrement, true},
		{"increment does not imply reset", userRef, OpReset, false},
		{"increment does not imply read", userRef, OpRead, false},
		{"all grants everything", companyRef, OpReset, true},
		{"unassigned caller", strangerRef, OpIncrement, false},
		{"anonymous caller on restricted sequence", nil, OpIncrement, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(s, tt.refs, tt.op)
			if tt.allowed && err != nil {
				t.Errorf("expected allowed, got %v", err)
			}
			if !tt.allowed {
				if err == nil {
					t.Fatal("expected forbidden, got nil")
				}
				if !apperror.IsForbidden(err) {
					t.Errorf("expected forbidden error, got %v", err)
				}
			}
		})
	}
}

func TestAuthorize_AnyMatchingRefSuffices(t *testing.T) {
	s := New("company-wide")
	s.UpsertAssignment(Assignment{
		EntityType: EntityCompany,
		EntityID:   "acme",
		Operations: []Operation{OpIncrement},
	})

	// The user has no personal grant but the company does.
	refs := RefsForActor(&appctx.Actor{ID: "user-9", CompanyID: "acme"})
	if err := Authorize(s, refs, OpIncrement); err != nil {
		t.Errorf("company grant not honored: %v", err)
	}
}

func TestRefsForActor(t *testing.T) {
	refs := RefsForActor(&appctx.Actor{ID: "u", CompanyID: "c", MappingID: "m"})
	if len(refs) != 3 {
		t.Fatalf("expected 3 refs, got %d", len(refs))
	}

	if refs := RefsForActor(nil); refs != nil {
		t.Errorf("expected nil refs for nil actor, got %v", refs)
	}

	refs = RefsForActor(&appctx.Actor{MappingID: "mapping-1"})
	if len(refs) != 1 || refs[0].Type != EntityMapping {
		t.Errorf("expected single mapping ref, got %v", refs)
	}
}
