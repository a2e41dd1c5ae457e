package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/security"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAuthService() (*AuthService, *MockUserRepository, *MockPlanReader, *security.JWTManager) {
	users := new(MockUserRepository)
	plans := new(MockPlanReader)
	jwtManager := security.NewJWTManager("test-secret-key-with-32-chars!!", 15*time.Minute, time.Hour)
	svc := NewAuthService(users, plans, jwtManager)
	svc.bcryptCost = bcrypt.MinCost
	return svc, users, plans, jwtManager
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestAuthService_Register(t *testing.T) {
	svc, users, plans, _ := newAuthService()
	ctx := context.Background()

	users.On("EmailExists", ctx, "ana@example.com").Return(false, nil)
	users.On("Create", ctx, mock.MatchedBy(func(u *domain.User) bool {
		return u.Email == "ana@example.com" &&
			u.FirstName == "Ana" &&
			bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("hunter22")) == nil
	})).Return(nil)
	plans.On("Get", ctx, mock.AnythingOfType("uuid.UUID")).Return(&domain.UsageState{Plan: domain.PlanFree}, nil)

	user, err := svc.Register(ctx, domain.UserCreate{
		Email:     "  Ana@Example.com ",
		Password:  "hunter22",
		FirstName: "Ana",
		LastName:  "Lee",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, user.ID)

	users.AssertExpectations(t)
	plans.AssertExpectations(t)
}

func TestAuthService_RegisterEmailTaken(t *testing.T) {
	svc, users, _, _ := newAuthService()
	ctx := context.Background()
	users.On("EmailExists", ctx, "ana@example.com").Return(true, nil)

	_, err := svc.Register(ctx, domain.UserCreate{Email: "ana@example.com", Password: "hunter22"})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
	users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthService_RegisterSurvivesSubscriptionFailure(t *testing.T) {
	svc, users, plans, _ := newAuthService()
	ctx := context.Background()
	users.On("EmailExists", ctx, mock.Anything).Return(false, nil)
	users.On("Create", ctx, mock.Anything).Return(nil)
	plans.On("Get", ctx, mock.Anything).Return(nil, errors.New("db down"))

	_, err := svc.Register(ctx, domain.UserCreate{Email: "ana@example.com", Password: "hunter22"})
	assert.NoError(t, err)
}

func TestAuthService_Login(t *testing.T) {
	user := &domain.User{ID: uuid.New(), Email: "ana@example.com"}

	tests := []struct {
		name     string
		found    *domain.User
		password string
		wantErr  error
	}{
		{"ok", user, "hunter22", nil},
		{"wrong password", user, "nope", domain.ErrInvalidCredentials},
		{"unknown user", nil, "hunter22", domain.ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, users, plans, jwtManager := newAuthService()
			ctx := context.Background()
			user.PasswordHash = hashed(t, "hunter22")
			users.On("GetByEmail", ctx, "ana@example.com").Return(tt.found, nil)
			plans.On("Get", ctx, user.ID).Return(&domain.UsageState{Plan: domain.PlanPro}, nil)

			pair, err := svc.Login(ctx, domain.UserLogin{Email: "ana@example.com", Password: tt.password})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(900), pair.ExpiresIn)

			claims, err := jwtManager.ValidateAccessToken(pair.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, user.ID, claims.UserID)
			assert.Equal(t, "PRO", claims.Plan)
		})
	}
}

func TestAuthService_Refresh(t *testing.T) {
	svc, users, plans, jwtManager := newAuthService()
	ctx := context.Background()
	user := &domain.User{ID: uuid.New(), Email: "ana@example.com"}
	users.On("GetByID", ctx, user.ID).Return(user, nil)
	plans.On("Get", ctx, user.ID).Return(&domain.UsageState{Plan: domain.PlanBasic}, nil)

	access, refresh, _, err := jwtManager.GenerateTokenPair(user.ID, user.Email, "FREE")
	require.NoError(t, err)

	pair, err := svc.Refresh(ctx, refresh)
	require.NoError(t, err)
	claims, err := jwtManager.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "BASIC", claims.Plan)

	_, err = svc.Refresh(ctx, access)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAuthService_RefreshDeletedUser(t *testing.T) {
	svc, users, _, jwtManager := newAuthService()
	ctx := context.Background()
	id := uuid.New()
	users.On("GetByID", ctx, id).Return(nil, domain.ErrUserNotFound)

	refresh, err := jwtManager.GenerateRefreshToken(id)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, refresh)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}
