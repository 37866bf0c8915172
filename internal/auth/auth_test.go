package auth

import (
	"errors"
	"testing"
	"time"
)

func TestLoginAndValidate(t *testing.T) {
	s := NewService("test-secret", time.Hour)
	token, user, err := s.Login("driver1", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.BusID != "bus-1" || user.Role != "driver" {
		t.Fatalf("unexpected user: %+v", user)
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Username != "driver1" || claims.Role != "driver" || claims.BusID != "bus-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginBadPassword(t *testing.T) {
	s := NewService("test-secret", time.Hour)
	if _, _, err := s.Login("driver1", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, _, err := s.Login("nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestValidateRejectsForeignToken(t *testing.T) {
	s1 := NewService("secret-one", time.Hour)
	s2 := NewService("secret-two", time.Hour)
	token, _, err := s1.Login("driver1", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := s2.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token across secrets, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	s := NewService("test-secret", -time.Minute)
	token, _, err := s.Login("driver1", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := s.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}
