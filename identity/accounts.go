package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/models"
	"github.com/CUknot/locshare/repository"
)

var (
	ErrEmailTaken         = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Accounts registers users and logs them in.
type Accounts struct {
	users  repository.UserRepository
	tokens *JWTProvider
}

func NewAccounts(users repository.UserRepository, tokens *JWTProvider) *Accounts {
	return &Accounts{users: users, tokens: tokens}
}

// Register creates the user and returns a session token for it.
func (a *Accounts) Register(ctx context.Context, username, email, password string) (User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	_, err := a.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return User{}, "", ErrEmailTaken
	case !errors.Is(err, repository.ErrNotFound):
		return User{}, "", fmt.Errorf("look up user: %w", err)
	}

	record := &models.User{Username: strings.TrimSpace(username), Email: email, Password: password}
	if err := a.users.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return User{}, "", ErrEmailTaken
		}
		return User{}, "", fmt.Errorf("create user: %w", err)
	}

	user := User{ID: record.ID, Email: record.Email, Username: record.Username}
	token, err := a.tokens.Issue(user)
	if err != nil {
		return User{}, "", err
	}
	logging.ForUser(ctx, user.ID).Info().Msg("User registered")
	return user, token, nil
}

// Login checks the password and returns a fresh session token.
func (a *Accounts) Login(ctx context.Context, email, password string) (User, string, error) {
	record, err := a.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return User{}, "", ErrInvalidCredentials
		}
		return User{}, "", fmt.Errorf("look up user: %w", err)
	}
	if err := record.ValidatePassword(password); err != nil {
		return User{}, "", ErrInvalidCredentials
	}

	user := User{ID: record.ID, Email: record.Email, Username: record.Username}
	token, err := a.tokens.Issue(user)
	if err != nil {
		return User{}, "", err
	}
	return user, token, nil
}
