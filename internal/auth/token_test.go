package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/auth"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerify_RoundTrip(t *testing.T) {
	v := auth.NewVerifier("secret")
	token, err := v.Issue("merchant-1", "11222333000181", time.Minute)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if claims.Sub != "merchant-1" || claims.CNPJ != "11222333000181" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestVerify_Rejects(t *testing.T) {
	v := auth.NewVerifier("secret")

	expired, _ := v.Issue("merchant-1", "", -time.Minute)
	otherSecret, _ := auth.NewVerifier("other").Issue("merchant-1", "", time.Minute)
	refresh, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Sub:  "merchant-1",
		Type: "refresh",
	}).SignedString([]byte("secret"))
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Type: "access",
	}).SignedString([]byte("secret"))

	tests := map[string]string{
		"expired":      expired,
		"other secret": otherSecret,
		"refresh":      refresh,
		"no subject":   noSubject,
		"garbage":      "not-a-token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			var unauthorized *domain.ErrUnauthorized
			if !errors.As(err, &unauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}
