package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-session/internal/config"
)

func testAuth(secret string, now time.Time) *AuthService {
	s := NewAuthService(&config.Config{JWTSecret: secret, JWTExpiry: time.Hour, BcryptCost: 4}, nil)
	s.now = func() time.Time { return now }
	return s
}

func TestValidateToken(t *testing.T) {
	issued := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	signer := testAuth("secret", issued)
	token, jti, err := signer.signStudentToken(42)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	t.Run("valid", func(t *testing.T) {
		claims, err := testAuth("secret", issued.Add(30*time.Minute)).ValidateToken(token)
		if err != nil {
			t.Fatalf("ValidateToken: %v", err)
		}
		if claims.UserID != 42 || claims.ID != jti || claims.TokenType != TokenTypeStudent {
			t.Errorf("claims = %+v", claims)
		}
	})

	t.Run("expired", func(t *testing.T) {
		_, err := testAuth("secret", issued.Add(2*time.Hour)).ValidateToken(token)
		if !errors.Is(err, jwt.ErrTokenExpired) {
			t.Errorf("err = %v, want ErrTokenExpired", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := testAuth("other", issued).ValidateToken(token)
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			t.Errorf("err = %v, want ErrTokenSignatureInvalid", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := testAuth("secret", issued).ValidateToken("not-a-token"); err == nil {
			t.Error("garbage token accepted")
		}
	})
}

func TestPasswordHashing(t *testing.T) {
	s := testAuth("secret", time.Now())
	hash, err := s.HashPassword("stemsijaya")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := s.CheckPassword(hash, "stemsijaya"); err != nil {
		t.Errorf("CheckPassword(correct) = %v", err)
	}
	if err := s.CheckPassword(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("CheckPassword(wrong) = %v, want ErrInvalidCredentials", err)
	}
}
