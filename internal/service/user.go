package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/sakif/questlog/internal/apperror"
	"github.com/sakif/questlog/internal/auth"
	"github.com/sakif/questlog/internal/model"
	"github.com/sakif/questlog/internal/progression"
	"github.com/sakif/questlog/internal/repository"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
	MaxEmailLength    = 254
	MinPasswordLength = 6
	MaxPasswordLength = 72
)

// invalidCredentials is deliberately the same for unknown emails and wrong
// passwords.
const invalidCredentials = "invalid email or password"

// UserService handles accounts, profiles and the leaderboard.
type UserService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	curve     progression.Curve
	logger    *slog.Logger
}

func NewUserService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	curve progression.Curve,
	logger *slog.Logger,
) *UserService {
	if curve == nil {
		curve = progression.DefaultCurve()
	}
	return &UserService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		curve:     curve,
		logger:    logger,
	}
}

// AuthResult bundles a user with a freshly issued token.
type AuthResult struct {
	User  *model.User
	Token string
}

// RegisterInput is the payload of a registration.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// ProfileUpdate changes the fields that are non-nil.
type ProfileUpdate struct {
	Username *string
	Email    *string
	Password *string
}

// Register creates an account at level 1 with 0 XP and signs the caller in.
// A taken username or email is an apperror.ErrConflict.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	username, err := normalizeUsername(in.Username)
	if err != nil {
		return nil, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/user: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Level:        1,
		XP:           0,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		s.logger.Error("failed to create user",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/user: creating user: %w", err)
	}

	if user, err = settle(ctx, s.users, s.curve, user); err != nil {
		return nil, err
	}
	s.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return s.issue(user)
}

// Login checks credentials. Unknown emails and wrong passwords produce the
// same apperror.ErrUnauthorized.
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperror.Unauthorized(invalidCredentials)
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/user: looking up %s: %w", email, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/user: %w", err)
	}

	if user, err = settle(ctx, s.users, s.curve, user); err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	return s.issue(user)
}

var _ auth.Authenticator = (*UserService)(nil)

// Authenticate validates a bearer token and returns the user id it names.
func (s *UserService) Authenticate(token string) (string, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return "", apperror.Unauthorized("token expired")
		}
		return "", apperror.Unauthorized("invalid token")
	}
	return userID, nil
}

// Profile returns the user, settled on the current curve.
func (s *UserService) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return settle(ctx, s.users, s.curve, user)
}

// UpdateProfile changes username, email and/or password. Progression is not
// editable here.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.Username != nil {
		username, err := normalizeUsername(*in.Username)
		if err != nil {
			return nil, err
		}
		user.Username = username
	}
	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		user.Email = email
	}
	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return nil, err
		}
		hash, err := s.passwords.Hash(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("service/user: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) || errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/user: updating %s: %w", userID, err)
	}

	s.logger.Info("profile updated", slog.String("user_id", user.ID))
	return settle(ctx, s.users, s.curve, user)
}

// Leaderboard ranks users by level then XP. Ranks start at 1 and follow the
// store's order, so ties get distinct consecutive ranks.
func (s *UserService) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	users, err := s.users.Leaderboard(ctx, repository.ClampLeaderboardLimit(limit))
	if err != nil {
		s.logger.Error("failed to load leaderboard", slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/user: leaderboard: %w", err)
	}

	entries := make([]model.LeaderboardEntry, len(users))
	for i, u := range users {
		entries[i] = model.LeaderboardEntry{
			Rank:     i + 1,
			Username: u.Username,
			Level:    u.Level,
			XP:       u.XP,
		}
	}
	return entries, nil
}

func (s *UserService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/user: issuing token for %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func normalizeUsername(s string) (string, error) {
	s = strings.TrimSpace(s)
	n := len([]rune(s))
	if n < MinUsernameLength || n > MaxUsernameLength {
		return "", apperror.ValidationFailed("username",
			fmt.Sprintf("username must be between %d and %d characters", MinUsernameLength, MaxUsernameLength))
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return "", apperror.ValidationFailed("username", "username must not contain spaces")
	}
	return s, nil
}

func normalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	at := strings.Index(s, "@")
	if at <= 0 || at == len(s)-1 || len(s) > MaxEmailLength {
		return "", apperror.ValidationFailed("email", "a valid email address is required")
	}
	return s, nil
}

func validatePassword(p string) error {
	if len(p) < MinPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(p) > MaxPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", MaxPasswordLength))
	}
	return nil
}
