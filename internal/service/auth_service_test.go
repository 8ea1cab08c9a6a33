package service

import (
	"errors"
	"testing"
	"time"

	"gigsync-server/internal/domain"
)

func newAuthFixture() (*AuthService, *mockUserRepository) {
	users := newMockUserRepository()
	svc := NewAuthService(users, "test-secret", 15*time.Minute, 7*24*time.Hour)
	return svc, users
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newAuthFixture()

	err := svc.Register(&domain.RegisterRequest{
		Email:    "freelancer@example.com",
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	resp, err := svc.Login(&domain.LoginRequest{
		Email:    "freelancer@example.com",
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Error("expected both tokens")
	}
	if resp.User.Password != "" {
		t.Error("password hash must be stripped from the response")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newAuthFixture()

	req := &domain.RegisterRequest{Email: "dup@example.com", Password: "password123"}
	if err := svc.Register(req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := svc.Register(req); err != ErrEmailTaken {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newAuthFixture()

	if err := svc.Register(&domain.RegisterRequest{
		Email:    "user@example.com",
		Password: "password123",
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if _, err := svc.Login(&domain.LoginRequest{
		Email:    "user@example.com",
		Password: "wrong-password",
	}); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	if _, err := svc.Login(&domain.LoginRequest{
		Email:    "nobody@example.com",
		Password: "password123",
	}); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestRegisterSurfacesStorageErrors(t *testing.T) {
	svc, users := newAuthFixture()
	users.failWith = errors.New("storage unavailable")

	err := svc.Register(&domain.RegisterRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	if err == nil {
		t.Fatal("a storage outage must not read as 'email free'")
	}
	if err == ErrEmailTaken {
		t.Error("storage outage misreported as taken email")
	}

	users.failWith = nil
	if len(users.users) != 0 {
		t.Error("no account must be created during an outage")
	}
}

func TestLoginSurfacesStorageErrors(t *testing.T) {
	svc, users := newAuthFixture()
	users.failWith = errors.New("storage unavailable")

	_, err := svc.Login(&domain.LoginRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if err == ErrInvalidCredentials {
		t.Error("storage outage misreported as bad credentials")
	}
}

func TestRefreshToken(t *testing.T) {
	svc, _ := newAuthFixture()

	if err := svc.Register(&domain.RegisterRequest{
		Email:    "user@example.com",
		Password: "password123",
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	login, err := svc.Login(&domain.LoginRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	resp, err := svc.RefreshToken(&domain.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("expected a new access token")
	}

	// An access token must not pass as a refresh token.
	if _, err := svc.RefreshToken(&domain.RefreshTokenRequest{RefreshToken: login.AccessToken}); err == nil {
		t.Error("access token accepted as refresh token")
	}
}

func TestGetUserStripsPassword(t *testing.T) {
	svc, users := newAuthFixture()

	if err := svc.Register(&domain.RegisterRequest{
		Email:    "user@example.com",
		Password: "password123",
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	stored, err := users.FindByEmail("user@example.com")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}

	user, err := svc.GetUser(stored.ID)
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if user.Password != "" {
		t.Error("password hash must be stripped")
	}
	if user.Email != "user@example.com" {
		t.Errorf("unexpected email %s", user.Email)
	}
}
