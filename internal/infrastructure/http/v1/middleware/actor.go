package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"conseq/internal/core/apperror"
	appctx "conseq/internal/core/context"
)

// Caller identity headers, used by trusted in-cluster clients (the ETL
// engine) that do not carry a JWT.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"
	HeaderCompanyID = "X-Company-ID"
	HeaderMappingID = "X-Mapping-ID"
)

// ActorValidator interface for token validation.
type ActorValidator interface {
	ValidateToken(tokenString string) (*appctx.Actor, error)
}

// Actor middleware resolves the caller's identity and stores it in the
// request context. A bearer token, when present, is authoritative and must
// be valid; without one the identity headers are used. Anonymous requests
// pass through: per-sequence assignments decide what they may do.
func Actor(validator ActorValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := resolveActor(c, validator)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		if actor != nil {
			ctx := appctx.WithActor(c.Request.Context(), actor)
			c.Request = c.Request.WithContext(ctx)

			// Store in gin context for easy access
			c.Set("actor_id", actor.ID)
		}

		c.Next()
	}
}

func resolveActor(c *gin.Context, validator ActorValidator) (*appctx.Actor, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" && validator != nil {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return nil, apperror.NewUnauthorized("invalid authorization header format")
		}
		actor, err := validator.ValidateToken(parts[1])
		if err != nil {
			return nil, apperror.NewUnauthorized("invalid token")
		}
		return actor, nil
	}

	actorID := c.GetHeader(HeaderActorID)
	mappingID := c.GetHeader(HeaderMappingID)
	if actorID == "" && mappingID == "" {
		return nil, nil
	}
	return &appctx.Actor{
		ID:        actorID,
		Name:      c.GetHeader(HeaderActorName),
		CompanyID: c.GetHeader(HeaderCompanyID),
		MappingID: mappingID,
	}, nil
}
