package service

import (
	"context"
	"testing"

	"github.com/spec-kit/presence-service/internal/config"
	"github.com/spec-kit/presence-service/internal/repository"
	apperrors "github.com/spec-kit/presence-service/pkg/util"
)

func newTestAuthService() *AuthService {
	cfg := config.Config{Auth: config.AuthConfig{
		JWTSecret:             "test-secret",
		JWTIssuer:             "presence-test",
		AccessTokenTTLMinutes: 5,
		BcryptCost:            4,
	}}
	return NewAuthService(cfg, AuthDependencies{UserRepo: repository.NewMemoryUserRepository()})
}

func TestAuthRegisterAndLogin(t *testing.T) {
	svc := newTestAuthService()
	ctx := context.Background()

	registered, err := svc.Register(ctx, RegisterInput{
		Username: "ana",
		Password: "s3cret-pass",
		FullName: "Ana Ruiz",
		Email:    "Ana@Example.com",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if registered.User.ID == 0 || registered.Token == "" {
		t.Fatalf("register result = %+v", registered)
	}
	if registered.User.Email != "ana@example.com" {
		t.Fatalf("email = %q, want lowercased", registered.User.Email)
	}

	logged, err := svc.Login(ctx, "ana", "s3cret-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := svc.TokenManager().ParseToken(logged.Token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	id, err := claims.UserID()
	if err != nil || id != registered.User.ID {
		t.Fatalf("subject = (%d, %v), want %d", id, err, registered.User.ID)
	}
}

func TestAuthRegisterDuplicate(t *testing.T) {
	svc := newTestAuthService()
	ctx := context.Background()

	in := RegisterInput{Username: "ana", Password: "pw123456", FullName: "Ana", Email: "ana@example.com"}
	if _, err := svc.Register(ctx, in); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, in); !apperrors.IsCode(err, apperrors.CodeConflict) {
		t.Fatalf("duplicate err = %v, want CONFLICT", err)
	}
}

func TestAuthLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestAuthService()
	ctx := context.Background()
	_, _ = svc.Register(ctx, RegisterInput{Username: "ana", Password: "pw123456", Email: "ana@example.com"})

	cases := []struct{ username, password string }{
		{"ana", "wrong"},
		{"nobody", "pw123456"},
	}
	for _, tc := range cases {
		if _, err := svc.Login(ctx, tc.username, tc.password); !apperrors.IsCode(err, apperrors.CodeUnauthenticated) {
			t.Fatalf("Login(%q) err = %v, want UNAUTHENTICATED", tc.username, err)
		}
	}
}
