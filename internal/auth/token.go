// Package auth verifies the merchant access tokens presented to the BFA.
// Tokens are HS256 JWTs issued by the merchant identity service; the BFA
// only needs the merchant id they carry.
package auth

import (
	"fmt"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeAccess = "access"
	issuer          = "bfa-api"
)

// Claims are the custom claims in access tokens. Sub is the merchant id.
type Claims struct {
	Sub  string `json:"sub"`
	CNPJ string `json:"cnpj,omitempty"`
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Verifier checks access tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses tokenString and returns its claims. Any failure is a
// *domain.ErrUnauthorized.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido ou expirado"}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido"}
	}
	if claims.Type != tokenTypeAccess {
		return nil, &domain.ErrUnauthorized{Message: "Tipo de token inválido"}
	}
	if claims.Sub == "" {
		return nil, &domain.ErrUnauthorized{Message: "Token sem identificação do lojista"}
	}
	return claims, nil
}

// Issue signs an access token for merchantID. The BFA never issues tokens
// to callers; pixctl uses this to talk to a local BFA during development.
func (v *Verifier) Issue(merchantID, cnpj string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Sub:  merchantID,
		CNPJ: cnpj,
		Type: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
