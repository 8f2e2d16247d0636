package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/HenryLai921/share-files/internal/server/database"
)

// Sentinel errors for account operations.
var (
	ErrDuplicateUsername  = errors.New("username already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// UserStore is the persistence needed by AuthService.
// Satisfied by *database.Repository.
type UserStore interface {
	CreateUser(ctx context.Context, user *database.User) error
	GetUserByUsername(ctx context.Context, username string) (*database.User, error)
	GetUserByID(ctx context.Context, id int64) (*database.User, error)
}

// AuthService handles registration and credential checks.
type AuthService struct {
	users UserStore
}

// NewAuthService creates an auth service.
func NewAuthService(users UserStore) *AuthService {
	return &AuthService{users: users}
}

// Register creates a new account with role "user". The username must be
// unused; an existing row is never altered.
func (s *AuthService) Register(ctx context.Context, username, password string) (*database.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &database.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         database.RoleUser,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			return nil, ErrDuplicateUsername
		}
		return nil, err
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Login verifies credentials. Unknown usernames and wrong passwords are
// indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, username, password string) (*database.User, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// EnsureAdmin seeds the admin account at startup if it does not exist.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password string) error {
	_, err := s.users.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, database.ErrUserNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &database.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         database.RoleAdmin,
	}
	if err := s.users.CreateUser(ctx, admin); err != nil {
		// Lost a race with a concurrent seeding; the account exists.
		if errors.Is(err, database.ErrUsernameTaken) {
			return nil
		}
		return err
	}

	slog.Info("seeded admin account", "username", username)
	return nil
}
