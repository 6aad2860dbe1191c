// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// Actor identifies who is performing an operation against a sequence.
// It may be a human user (admin UI), or the ETL engine acting on behalf
// of a mapping. Identity extraction happens in HTTP middleware; the
// domain layer only reads these values.
type Actor struct {
	ID        string
	Name      string
	CompanyID string
	// MappingID is set when the caller acts on behalf of a document mapping.
	MappingID string
	SessionID string
}

type actorContextKey struct{}

// WithActor adds Actor to context.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// GetActor returns Actor from context, or nil.
func GetActor(ctx context.Context) *Actor {
	if v, ok := ctx.Value(actorContextKey{}).(*Actor); ok {
		return v
	}
	return nil
}

// GetActorID returns actor ID from context or empty string.
func GetActorID(ctx context.Context) string {
	if a := GetActor(ctx); a != nil {
		return a.ID
	}
	return ""
}

// GetCompanyID returns the acting company ID from context or empty string.
func GetCompanyID(ctx context.Context) string {
	if a := GetActor(ctx); a != nil {
		return a.CompanyID
	}
	return ""
}
