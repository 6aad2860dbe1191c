package sequence

import (
	"time"

	"conseq/internal/core/apperror"
	appctx "conseq/internal/core/context"
)

// ResolveSegment computes the effective sub-counter key for a request.
//
// Resolution priority: an explicit caller-supplied segment always wins; a
// date-typed sequence derives the key from the clock; company/user types take
// it from the acting identity. Custom segmentation has no automatic
// derivation, so a missing explicit segment is a validation failure.
//
// Returns "" (the global counter) when segmentation is disabled.
func ResolveSegment(s *Sequence, explicit string, actor *appctx.Actor, now time.Time) (string, error) {
	if !s.Segments.Enabled {
		return "", nil
	}
	if explicit != "" {
		return explicit, nil
	}

	switch s.Segments.Type {
	case SegmentYear:
		return now.Format("2006"), nil
	case SegmentMonth:
		return now.Format("200601"), nil
	case SegmentDay:
		return now.Format("20060102"), nil
	case SegmentCompany:
		if actor == nil || actor.CompanyID == "" {
			return "", apperror.NewValidation("company segment requires an acting company").
				WithDetail("sequence", s.Name)
		}
		return actor.CompanyID, nil
	case SegmentUser:
		if actor == nil || actor.ID == "" {
			return "", apperror.NewValidation("user segment requires an acting user").
				WithDetail("sequence", s.Name)
		}
		return actor.ID, nil
	case SegmentCustom:
		return "", apperror.NewValidation("segment value is required for custom segmentation").
			WithDetail("sequence", s.Name).
			WithDetail("field", s.Segments.Field)
	default:
		return "", apperror.NewValidation("invalid segment type").
			WithDetail("sequence", s.Name).
			WithDetail("value", string(s.Segments.Type))
	}
}
