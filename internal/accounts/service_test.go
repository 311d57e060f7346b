package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"armory/api/internal/identity"
	"armory/api/internal/store"
)

type fakeUserStore struct {
	users map[string]store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]store.User)}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.users[email]
	if !ok {
		return store.User{}, store.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	if _, exists := f.users[user.Email]; exists {
		return store.ErrConstraintViolation
	}
	f.users[user.Email] = user
	return nil
}

func TestRegisterAndLoginRoundTrip(t *testing.T) {
	users := newFakeUserStore()
	svc := NewService(users, "test-secret", time.Hour)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterRequest{
		Email:    "Quinn@Armory.dev",
		Password: "correct-horse",
		Name:     "Quinn",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Email != "quinn@armory.dev" {
		t.Errorf("expected lowercased email, got %q", user.Email)
	}

	resp, err := svc.Login(ctx, "quinn@armory.dev", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected an access token")
	}
	if resp.User.PasswordHash != "" {
		t.Error("password hash must not leave the service")
	}

	// The minted token must satisfy the local verifier.
	principal, err := identity.NewLocalVerifier("test-secret").Verify(ctx, resp.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if principal.ID != user.ID {
		t.Errorf("expected principal %s, got %s", user.ID, principal.ID)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	users := newFakeUserStore()
	svc := NewService(users, "s", time.Hour)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Email: "a@b.c", Password: "longenough"}); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	_, err := svc.Register(ctx, RegisterRequest{Email: "a@b.c", Password: "longenough"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := NewService(newFakeUserStore(), "s", time.Hour)
	if _, err := svc.Register(context.Background(), RegisterRequest{Email: "a@b.c", Password: "short"}); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	users := newFakeUserStore()
	svc := NewService(users, "s", time.Hour)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Email: "a@b.c", Password: "longenough"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, unknownErr := svc.Login(ctx, "nobody@b.c", "longenough")
	_, wrongPwErr := svc.Login(ctx, "a@b.c", "wrong-password")

	if !errors.Is(unknownErr, ErrInvalidLogin) || !errors.Is(wrongPwErr, ErrInvalidLogin) {
		t.Fatalf("expected uniform ErrInvalidLogin, got %v / %v", unknownErr, wrongPwErr)
	}
}
