package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier-backend/pkg/config"
	"github.com/atelierhq/atelier-backend/pkg/db/models"
	pkgerrors "github.com/atelierhq/atelier-backend/pkg/errors"
)

type memoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{tokens: map[string]string{}}
}

func (m *memoryTokenStore) StoreRefreshToken(_ context.Context, userID, token string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = token
	return nil
}

func (m *memoryTokenStore) GetRefreshToken(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[userID], nil
}

func (m *memoryTokenStore) RevokeRefreshToken(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, userID)
	return nil
}

func newTestService(t *testing.T) Service {
	t.Helper()
	dsn := "file:users_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc, err := NewService(NewRepository(conn), newMemoryTokenStore(), config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "atelier",
		ExpirationMinutes: 60,
	})
	require.NoError(t, err)
	return svc
}

func register(t *testing.T, svc Service, email string) *models.User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  "correct-horse",
		FirstName: "Анна",
		LastName:  "Иванова",
	})
	require.NoError(t, err)
	return user
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "anna@example.com")

	session, err := svc.Login(ctx, "Anna@Example.com", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, user.ID, session.User.ID)
	require.NotEmpty(t, session.AccessToken)
	require.NotEmpty(t, session.RefreshToken)
	require.NotNil(t, session.User.LastLoginAt)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	register(t, svc, "anna@example.com")

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:     "anna@example.com",
		Password:  "correct-horse",
		FirstName: "Анна",
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestLoginWrongPassword(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	register(t, svc, "anna@example.com")

	_, err := svc.Login(context.Background(), "anna@example.com", "wrong")
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeUnauthorized, typed.Code())
}

func TestRefreshRotatesToken(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "anna@example.com")

	first, err := svc.Login(ctx, "anna@example.com", "correct-horse")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, user.ID, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The rotated-out token no longer works.
	_, err = svc.Refresh(ctx, user.ID, first.RefreshToken)
	require.Error(t, err)
}

func TestLogoutRevokesRefresh(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "anna@example.com")

	session, err := svc.Login(ctx, "anna@example.com", "correct-horse")
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, user.ID))

	_, err = svc.Refresh(ctx, user.ID, session.RefreshToken)
	require.Error(t, err)
}
