package http

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewJWTAuthProviderRequiresKey(t *testing.T) {
	if _, err := NewJWTAuthProvider(JWTAuthConfig{}); err == nil {
		t.Error("expected error without a private key")
	}
}

func TestJWTAuthProviderTokensPerEndpoint(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	provider, err := NewJWTAuthProvider(JWTAuthConfig{
		PrivateKey: key,
		KeyID:      "key-1",
		Issuer:     "resource-server",
		Audience:   "https://facilitator.example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	headers, err := provider.GetAuthHeaders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	endpoints := map[string]map[string]string{
		"/verify":    headers.Verify,
		"/settle":    headers.Settle,
		"/supported": headers.Supported,
	}

	for path, h := range endpoints {
		raw := h["Authorization"]
		if !strings.HasPrefix(raw, "Bearer ") {
			t.Fatalf("%s: expected bearer token, got %q", path, raw)
		}

		token, err := jwt.ParseWithClaims(
			strings.TrimPrefix(raw, "Bearer "),
			&jwt.RegisteredClaims{},
			func(token *jwt.Token) (interface{}, error) {
				if token.Method != jwt.SigningMethodES256 {
					t.Errorf("%s: unexpected signing method %v", path, token.Method)
				}
				return &key.PublicKey, nil
			},
		)
		if err != nil {
			t.Fatalf("%s: token does not verify: %v", path, err)
		}

		claims := token.Claims.(*jwt.RegisteredClaims)
		wantAud := "https://facilitator.example.com" + path
		if len(claims.Audience) != 1 || claims.Audience[0] != wantAud {
			t.Errorf("%s: audience %v, want %s", path, claims.Audience, wantAud)
		}
		if claims.Issuer != "resource-server" {
			t.Errorf("%s: issuer %q", path, claims.Issuer)
		}
		if token.Header["kid"] != "key-1" {
			t.Errorf("%s: kid %v", path, token.Header["kid"])
		}

		ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
		if ttl != 60*time.Second {
			t.Errorf("%s: ttl %v, want 60s", path, ttl)
		}
	}
}
