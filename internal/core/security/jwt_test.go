package security

import (
	"strings"
	"testing"
	"time"

	appctx "conseq/internal/core/context"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("test-secret"))

	actor := &appctx.Actor{
		ID:        "user-1",
		Name:      "Alice",
		CompanyID: "acme",
		MappingID: "map-9",
		SessionID: "sess-3",
	}

	token, expiresAt, err := svc.GenerateToken(actor)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if !expiresAt.After(time.Now()) {
		t.Errorf("token already expired at %v", expiresAt)
	}

	got, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.ID != actor.ID || got.Name != actor.Name ||
		got.CompanyID != actor.CompanyID || got.MappingID != actor.MappingID ||
		got.SessionID != actor.SessionID {
		t.Errorf("actor mismatch\nwant: %+v\ngot:  %+v", actor, got)
	}
}

func TestJWTService_RejectsWrongSecret(t *testing.T) {
	issuer := NewJWTService(DefaultJWTConfig("secret-a"))
	verifier := NewJWTService(DefaultJWTConfig("secret-b"))

	token, _, err := issuer.GenerateToken(&appctx.Actor{ID: "user-1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Error("token signed with a different secret must be rejected")
	}
}

func TestJWTService_RejectsExpired(t *testing.T) {
	cfg := DefaultJWTConfig("test-secret")
	cfg.AccessTokenTTL = -time.Minute
	svc := NewJWTService(cfg)

	token, _, err := svc.GenerateToken(&appctx.Actor{ID: "user-1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Error("expired token must be rejected")
	}
}

func TestJWTService_RejectsTampered(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("test-secret"))

	token, _, err := svc.GenerateToken(&appctx.Actor{ID: "user-1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %d parts", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := svc.ValidateToken(tampered); err == nil {
		t.Error("tampered signature must be rejected")
	}
}
