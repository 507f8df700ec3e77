package utils

import (
	"context"
	"testing"
	"time"
)

func TestContextHelpers_RoundTrip(t *testing.T) {
	ctx := SetBusinessIdInContext(context.Background(), "biz-3")
	ctx = SetUserIdInContext(ctx, 12)
	ctx = SetTokenInContext(ctx, "tok")
	if v, ok := GetBusinessIdFromContext(ctx); !ok || v != "biz-3" {
		t.Fatalf("business id = %q %v", v, ok)
	}
	if v, ok := GetUserIdFromContext(ctx); !ok || v != 12 {
		t.Fatalf("user id = %d %v", v, ok)
	}
	if v, _ := GetTokenFromContext(ctx); v != "tok" {
		t.Fatalf("token = %q", v)
	}
	if BusinessIdOrDefault(context.Background()) != "default" {
		t.Fatalf("missing business id must fall back to default")
	}
}

func TestTokenExpired(t *testing.T) {
	live, err := JwtGenerate(1, "biz-1", time.Hour)
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	if TokenExpired(live, time.Now()) {
		t.Fatalf("fresh token reported expired")
	}
	if !TokenExpired(live, time.Now().Add(2*time.Hour)) {
		t.Fatalf("token past exp not reported expired")
	}
	if TokenExpired("opaque-session-token", time.Now()) {
		t.Fatalf("opaque token must never be reported expired")
	}
}

func TestJwtValidate_RoundTrip(t *testing.T) {
	tok, err := JwtGenerate(7, "biz-7", time.Hour)
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	parsed, err := JwtValidate(tok)
	if err != nil || !parsed.Valid {
		t.Fatalf("JwtValidate: valid=%v err=%v", parsed != nil && parsed.Valid, err)
	}
	claims := parsed.Claims.(*JwtCustomClaim)
	if claims.ID != 7 || claims.Business != "biz-7" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}
