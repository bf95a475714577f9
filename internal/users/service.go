package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/atelierhq/atelier-backend/pkg/auth"
	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	"github.com/atelierhq/atelier-backend/pkg/enums"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
)

const refreshTokenTTL = 30 * 24 * time.Hour

type tokenStore interface {
	StoreRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error
	GetRefreshToken(ctx context.Context, userID string) (string, error)
	RevokeRefreshToken(ctx context.Context, userID string) error
}

// Service defines account operations.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, userID uuid.UUID, refreshToken string) (*Session, error)
	Logout(ctx context.Context, userID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, input ProfileInput) (*models.User, error)
}

type service struct {
	repo   Repository
	tokens tokenStore
	jwt    config.JWTConfig
}

// RegisterInput carries a new account's fields.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     *string
}

// ProfileInput carries optional profile mutations; nil fields are left
// unchanged.
type ProfileInput struct {
	FirstName *string
	LastName  *string
	Phone     *string
}

// Session is an issued token pair.
type Session struct {
	User         *models.User
	AccessToken  string
	RefreshToken string
}

// NewService wires the account service. The token store may be nil, which
// disables refresh tokens.
func NewService(repo Repository, tokens tokenStore, jwtCfg config.JWTConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("user repository required")
	}
	return &service{repo: repo, tokens: tokens, jwt: jwtCfg}, nil
}

func (s *service) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if len(input.Password) < 8 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "пароль должен быть не короче 8 символов")
	}
	if input.FirstName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "first name is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Phone:        input.Phone,
		Role:         enums.UserRoleClient,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "пользователь с таким email уже зарегистрирован")
		}
		return nil, err
	}
	return user, nil
}

func (s *service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "неверный email или пароль")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "неверный email или пароль")
	}

	now := time.Now().UTC()
	user.LastLoginAt = &now
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates the refresh token and mints a new access token when the
// presented token matches the stored one.
func (s *service) Refresh(ctx context.Context, userID uuid.UUID, refreshToken string) (*Session, error) {
	if s.tokens == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "refresh tokens are not available")
	}
	stored, err := s.tokens.GetRefreshToken(ctx, userID.String())
	if err != nil {
		return nil, err
	}
	if stored == "" || stored != refreshToken {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid refresh token")
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid refresh token")
	}
	return s.issueSession(ctx, user)
}

func (s *service) Logout(ctx context.Context, userID uuid.UUID) error {
	if s.tokens == nil {
		return nil
	}
	return s.tokens.RevokeRefreshToken(ctx, userID.String())
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "пользователь не найден")
	}
	return user, nil
}

func (s *service) UpdateProfile(ctx context.Context, id uuid.UUID, input ProfileInput) (*models.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.FirstName != nil {
		user.FirstName = *input.FirstName
	}
	if input.LastName != nil {
		user.LastName = *input.LastName
	}
	if input.Phone != nil {
		user.Phone = input.Phone
	}
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *service) issueSession(ctx context.Context, user *models.User) (*Session, error) {
	access, err := auth.MintAccessToken(s.jwt, time.Now().UTC(), auth.AccessTokenPayload{
		UserID: user.ID,
		Role:   user.Role,
	})
	if err != nil {
		return nil, err
	}

	session := &Session{User: user, AccessToken: access}
	if s.tokens != nil {
		refresh := uuid.NewString()
		if err := s.tokens.StoreRefreshToken(ctx, user.ID.String(), refresh, refreshTokenTTL); err != nil {
			return nil, err
		}
		session.RefreshToken = refresh
	}
	return session, nil
}
