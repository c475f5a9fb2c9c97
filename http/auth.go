package http

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuthProvider authenticates facilitator requests with short-lived ES256
// bearer tokens, one per endpoint. Facilitators that require auth bind the
// token audience to the endpoint path, so each call gets its own token.
type JWTAuthProvider struct {
	privateKey *ecdsa.PrivateKey
	keyID      string
	issuer     string
	audience   string
	tokenTTL   time.Duration
}

// JWTAuthConfig configures a JWTAuthProvider.
type JWTAuthConfig struct {
	// PrivateKey signs the tokens (ES256).
	PrivateKey *ecdsa.PrivateKey

	// KeyID is set as the "kid" header for key selection on the
	// facilitator side.
	KeyID string

	// Issuer identifies this resource server.
	Issuer string

	// Audience is the facilitator base URL.
	Audience string

	// TokenTTL bounds token lifetime (optional, defaults to 60s).
	TokenTTL time.Duration
}

// NewJWTAuthProvider creates a JWT auth provider for facilitator requests.
func NewJWTAuthProvider(config JWTAuthConfig) (*JWTAuthProvider, error) {
	if config.PrivateKey == nil {
		return nil, fmt.Errorf("jwt auth provider requires a private key")
	}

	ttl := config.TokenTTL
	if ttl == 0 {
		ttl = 60 * time.Second
	}

	return &JWTAuthProvider{
		privateKey: config.PrivateKey,
		keyID:      config.KeyID,
		issuer:     config.Issuer,
		audience:   config.Audience,
		tokenTTL:   ttl,
	}, nil
}

// GetAuthHeaders implements AuthProvider. Each endpoint receives a freshly
// signed token scoped to its path.
func (p *JWTAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	verify, err := p.signToken("/verify")
	if err != nil {
		return AuthHeaders{}, err
	}
	settle, err := p.signToken("/settle")
	if err != nil {
		return AuthHeaders{}, err
	}
	supported, err := p.signToken("/supported")
	if err != nil {
		return AuthHeaders{}, err
	}

	return AuthHeaders{
		Verify:    map[string]string{"Authorization": "Bearer " + verify},
		Settle:    map[string]string{"Authorization": "Bearer " + settle},
		Supported: map[string]string{"Authorization": "Bearer " + supported},
	}, nil
}

func (p *JWTAuthProvider) signToken(path string) (string, error) {
	now := time.Now()

	claims := jwt.RegisteredClaims{
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience + path},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	if p.keyID != "" {
		token.Header["kid"] = p.keyID
	}

	signed, err := token.SignedString(p.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign facilitator auth token: %w", err)
	}
	return signed, nil
}
