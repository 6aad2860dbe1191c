package sequence

import (
	"conseq/internal/core/apperror"
	appctx "conseq/internal/core/context"
)

// Authorize checks whether any of the caller's entity refs may perform op on
// the sequence. A sequence with zero assignments is open: every operation is
// implicitly allowed. Otherwise at least one ref must hold an assignment
// whose operations contain the exact op or OpAll. OpReset is never implied
// by OpIncrement.
//
// Authorization is a pure read; it runs before any transactional scope.
func Authorize(s *Sequence, refs []EntityRef, op Operation) error {
	if len(s.Assignments) == 0 {
		return nil
	}
	for _, ref := range refs {
		if a := s.AssignmentFor(ref); a != nil && a.Allows(op) {
			return nil
		}
	}
	return apperror.NewForbidden("caller is not allowed to perform this operation on the sequence").
		WithDetail("sequence", s.Name).
		WithDetail("operation", string(op))
}

// RefsForActor expands an acting identity into the entity refs it can claim:
// its user identity, its company and, for ETL calls, the mapping it executes.
func RefsForActor(actor *appctx.Actor) []EntityRef {
	if actor == nil {
		return nil
	}
	var refs []EntityRef
	if actor.ID != "" {
		refs = append(refs, EntityRef{Type: EntityUser, ID: actor.ID})
	}
	if actor.CompanyID != "" {
		refs = append(refs, EntityRef{Type: EntityCompany, ID: actor.CompanyID})
	}
	if actor.MappingID != "" {
		refs = append(refs, EntityRef{Type: EntityMapping, ID: actor.MappingID})
	}
	return refs
}
