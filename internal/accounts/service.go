// Package accounts provides email/password authentication for the local
// identity mode, issuing the bearer tokens the verifier accepts.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"armory/api/internal/auth"
	"armory/api/internal/store"
	"armory/api/internal/util"
)

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrInvalidLogin = errors.New("invalid email or password")
)

// UserStore is the persistence the service needs.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

type Service struct {
	store     UserStore
	secret    []byte
	accessTTL time.Duration
}

func NewService(users UserStore, secret string, accessTTL time.Duration) *Service {
	return &Service{store: users, secret: []byte(secret), accessTTL: accessTTL}
}

type RegisterRequest struct {
	Email    string
	Password string
	Name     string
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return store.User{}, errors.New("email and password are required")
	}
	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = email
	}
	user := store.User{
		ID:           util.NewID("usr"),
		Email:        email,
		DisplayName:  name,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConstraintViolation) {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

type LoginResponse struct {
	Token     string
	ExpiresAt time.Time
	User      store.User
}

// Login authenticates and mints an access token. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return LoginResponse{}, ErrInvalidLogin
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return LoginResponse{}, ErrInvalidLogin
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return LoginResponse{}, ErrInvalidLogin
	}

	expiresAt := time.Now().Add(s.accessTTL)
	token, err := auth.IssueToken(s.secret, auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.DisplayName,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return LoginResponse{}, fmt.Errorf("issue token: %w", err)
	}

	user.PasswordHash = ""
	return LoginResponse{Token: token, ExpiresAt: expiresAt, User: user}, nil
}
