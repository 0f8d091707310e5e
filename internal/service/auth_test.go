package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/config"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/models"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/ratelimit"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/storage"
	"github.com/pribylovaa/go-learning-platform/auth-service/mocks"
	"github.com/stretchr/testify/require"
)

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:       "unit-secret",
		AccessTokenTTL:  30 * time.Second,
		RefreshTokenTTL: 24 * time.Hour,
		Leeway:          time.Second,
		Issuer:          "auth-service",
		Audience:        []string{"api-gateway"},
	}
}

func newSvc(t *testing.T) (*Service, *mocks.MockStorage, *gomock.Controller) {
	t.Helper()
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	svc := New(st, testCfg(), nil)
	return svc, st, ctrl
}

// newLimitedSvc собирает сервис с реальным limiter'ом на in-memory счетчиках.
func newLimitedSvc(t *testing.T, actions map[string]ratelimit.Config) (*Service, *mocks.MockStorage, *gomock.Controller) {
	t.Helper()
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	lim := ratelimit.New(ratelimit.NewMemoryStore(), actions)
	svc := New(st, testCfg(), lim)
	return svc, st, ctrl
}

func mustHashPW(t *testing.T, pw string) string {
	t.Helper()
	h, err := hashPassword(pw)
	require.NoError(t, err)
	return h
}

func activeUser(t *testing.T, email, pw string) *models.User {
	t.Helper()
	return &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: mustHashPW(t, pw),
		IsActive:     true,
	}
}

func TestRegisterUser_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	var saved *models.User
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u *models.User) error {
			saved = u
			return nil
		})

	uid, err := svc.RegisterUser(context.Background(), "User@Example.com", "Abcdef1!", "user")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, uid)

	require.NotNil(t, saved)
	require.Equal(t, "user@example.com", saved.Email)
	require.Equal(t, "user", saved.UserName)
	require.True(t, saved.IsActive)
	// В хранилище попадает bcrypt-хэш, не сам пароль.
	require.NotEqual(t, "Abcdef1!", saved.PasswordHash)
	require.True(t, checkPassword(saved.PasswordHash, "Abcdef1!"))
}

func TestRegisterUser_InvalidEmail(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, err := svc.RegisterUser(context.Background(), "not-an-email", "Abcdef1!", "")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidEmail)
}

func TestRegisterUser_WeakOrEmptyPassword(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, err := svc.RegisterUser(context.Background(), "u@e.com", "", "")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEmptyPassword)

	_, err = svc.RegisterUser(context.Background(), "u@e.com", "short", "")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrWeakPassword)

	// Все классы символов обязательны.
	_, err = svc.RegisterUser(context.Background(), "u@e.com", "abcdefg1!", "")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestRegisterUser_EmailTaken(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).
		Return(storage.ErrAlreadyExists)

	_, err := svc.RegisterUser(context.Background(), "user@example.com", "Abcdef1!", "")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterUser_SaveUserOtherError_Propagated(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).
		Return(errors.New("insert failed"))

	_, err := svc.RegisterUser(context.Background(), "user@example.com", "Abcdef1!", "")
	require.Error(t, err)
}

func TestRegisterUser_RateLimited(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newLimitedSvc(t, map[string]ratelimit.Config{
		ActionRegister: {MaxAttempts: 1, Window: time.Hour},
	})
	defer ctrl.Finish()

	// Первая попытка проходит и падает на хранилище — окно не сбрасывается.
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).
		Return(storage.ErrAlreadyExists)

	_, err := svc.RegisterUser(context.Background(), "user@example.com", "Abcdef1!", "")
	require.ErrorIs(t, err, ErrEmailTaken)

	// Вторая попытка в том же окне отклоняется до похода в хранилище.
	_, err = svc.RegisterUser(context.Background(), "user@example.com", "Abcdef1!", "")
	require.ErrorIs(t, err, ErrRateLimited)

	var rle *RateLimitedError
	require.ErrorAs(t, err, &rle)
	require.Greater(t, rle.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, rle.RetryAfter, time.Hour)

	// Лимит ключуется по email: другой email проходит.
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(nil)
	_, err = svc.RegisterUser(context.Background(), "other@example.com", "Abcdef1!", "")
	require.NoError(t, err)
}

func TestLoginUser_OK_AndTokenRoundTrip(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	email := "user@example.com"
	pw := "Abcdef1!"
	user := activeUser(t, email, pw)

	st.EXPECT().UserByEmail(gomock.Any(), email).Return(user, nil)
	st.EXPECT().UpdateLastLogin(gomock.Any(), user.ID, gomock.Any()).Return(nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	tp, uid, err := svc.LoginUser(ctx, email, pw)
	require.NoError(t, err)
	require.Equal(t, user.ID, uid)
	require.NotEmpty(t, tp.AccessToken)
	require.NotEmpty(t, tp.RefreshToken)
	require.WithinDuration(t, time.Now().Add(svc.cfg.AccessTokenTTL), tp.AccessExpiresAt, 2*time.Second)

	// Выпущенный access-токен сразу проходит авторизацию.
	gotUID, gotEmail, err := svc.ValidateToken(ctx, tp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, gotUID)
	require.Equal(t, email, gotEmail)
}

func TestLoginUser_InvalidEmail_OrEmptyPassword(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, _, err := svc.LoginUser(context.Background(), "bad", "Abcdef1!")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.LoginUser(context.Background(), "user@example.com", "")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUser_UserNotFound_OrWrongPassword(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").
		Return(nil, storage.ErrNotFound)

	_, _, err := svc.LoginUser(context.Background(), "user@example.com", "Abcdef1!")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// Неверный пароль.
	user := activeUser(t, "user@example.com", "Abcdef1!")
	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").
		Return(user, nil)

	_, _, err = svc.LoginUser(context.Background(), "user@example.com", "WRONG1!")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUser_OAuthOnlyAccount_NoPasswordLogin(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	// У OAuth-учетки нет хэша пароля — вход по паролю невозможен.
	user := &models.User{
		ID:            uuid.New(),
		Email:         "user@example.com",
		IsActive:      true,
		OAuthProvider: "google",
		OAuthID:       "g-123",
	}
	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").Return(user, nil)

	_, _, err := svc.LoginUser(context.Background(), "user@example.com", "Abcdef1!")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUser_InactiveUser(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := activeUser(t, "user@example.com", "Abcdef1!")
	user.IsActive = false
	st.EXPECT().UserByEmail(gomock.Any(), "user@example.com").Return(user, nil)

	_, _, err := svc.LoginUser(context.Background(), "user@example.com", "Abcdef1!")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUserInactive)
}

func TestLoginUser_RateLimit_BlocksAfterBudget(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newLimitedSvc(t, map[string]ratelimit.Config{
		ActionLogin: {MaxAttempts: 2, Window: 15 * time.Minute},
	})
	defer ctrl.Finish()

	ctx := context.Background()
	email := "user@example.com"

	// Две неудачные попытки исчерпывают бюджет окна.
	st.EXPECT().UserByEmail(gomock.Any(), email).
		Return(nil, storage.ErrNotFound).Times(2)

	for i := 0; i < 2; i++ {
		_, _, err := svc.LoginUser(ctx, email, "Abcdef1!")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Третья отклоняется лимитером — пароль даже не проверяется.
	_, _, err := svc.LoginUser(ctx, email, "Abcdef1!")
	require.ErrorIs(t, err, ErrRateLimited)

	var rle *RateLimitedError
	require.ErrorAs(t, err, &rle)
	require.Greater(t, rle.RetryAfter, time.Duration(0))
}

func TestLoginUser_RateLimit_ResetOnSuccess(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newLimitedSvc(t, map[string]ratelimit.Config{
		ActionLogin: {MaxAttempts: 2, Window: 15 * time.Minute},
	})
	defer ctrl.Finish()

	ctx := context.Background()
	email := "user@example.com"
	pw := "Abcdef1!"
	user := activeUser(t, email, pw)

	// Неудача, затем успех: окно сбрасывается, бюджет снова полный.
	st.EXPECT().UserByEmail(gomock.Any(), email).Return(nil, storage.ErrNotFound)
	_, _, err := svc.LoginUser(ctx, email, pw)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	st.EXPECT().UserByEmail(gomock.Any(), email).Return(user, nil).Times(3)
	st.EXPECT().UpdateLastLogin(gomock.Any(), user.ID, gomock.Any()).Return(nil).Times(3)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	for i := 0; i < 3; i++ {
		_, _, err = svc.LoginUser(ctx, email, pw)
		require.NoError(t, err)
	}
}

func TestOAuthLogin_ExistingUser(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := &models.User{
		ID:            uuid.New(),
		Email:         "user@example.com",
		IsActive:      true,
		OAuthProvider: "google",
		OAuthID:       "g-123",
	}
	st.EXPECT().UserByOAuth(gomock.Any(), "google", "g-123").Return(user, nil)
	st.EXPECT().UpdateLastLogin(gomock.Any(), user.ID, gomock.Any()).Return(nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	tp, uid, err := svc.OAuthLogin(context.Background(), "google", "g-123", "user@example.com")
	require.NoError(t, err)
	require.Equal(t, user.ID, uid)
	require.NotEmpty(t, tp.AccessToken)
	require.NotEmpty(t, tp.RefreshToken)
}

func TestOAuthLogin_FirstLogin_CreatesUser(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByOAuth(gomock.Any(), "github", "gh-7").
		Return(nil, storage.ErrNotFound)

	var saved *models.User
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u *models.User) error {
			saved = u
			return nil
		})
	st.EXPECT().UpdateLastLogin(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	_, uid, err := svc.OAuthLogin(context.Background(), "github", "gh-7", "User@Example.com")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, uid)

	require.NotNil(t, saved)
	require.Equal(t, "user@example.com", saved.Email)
	require.Equal(t, "github", saved.OAuthProvider)
	require.Equal(t, "gh-7", saved.OAuthID)
	require.Empty(t, saved.PasswordHash)
	require.True(t, saved.IsActive)
}

func TestOAuthLogin_EmptyIdentity(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, _, err := svc.OAuthLogin(context.Background(), "", "id", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.OAuthLogin(context.Background(), "google", "", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRevokeToken_OK_Idempotent_Errors(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	plain := "r"
	hash := hashRefreshSecret(plain)

	// Активный токен отзывается.
	st.EXPECT().RevokeRefreshTokenByHash(gomock.Any(), hash).Return(true, nil)
	require.NoError(t, svc.RevokeToken(context.Background(), plain))

	// Повторный отзыв уже отозванного — не ошибка.
	st.EXPECT().RevokeRefreshTokenByHash(gomock.Any(), hash).Return(false, nil)
	require.NoError(t, svc.RevokeToken(context.Background(), plain))

	// Неизвестный токен -> ErrInvalidToken.
	st.EXPECT().RevokeRefreshTokenByHash(gomock.Any(), hash).Return(false, storage.ErrNotFound)
	err := svc.RevokeToken(context.Background(), plain)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Прочие ошибки пропагируются.
	st.EXPECT().RevokeRefreshTokenByHash(gomock.Any(), hash).Return(false, errors.New("db down"))
	require.Error(t, svc.RevokeToken(context.Background(), plain))
}

func TestLogoutAll(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	userID := uuid.New()

	st.EXPECT().RevokeAllForUser(gomock.Any(), userID).Return(int64(3), nil)
	n, err := svc.LogoutAll(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	// Идемпотентность: повтор без активных сессий.
	st.EXPECT().RevokeAllForUser(gomock.Any(), userID).Return(int64(0), nil)
	n, err = svc.LogoutAll(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestChangePassword_OK_RevokesAllSessions(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := activeUser(t, "user@example.com", "OldPass1!")

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	var newHash string
	st.EXPECT().UpdatePasswordHash(gomock.Any(), user.ID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, h string) error {
			newHash = h
			return nil
		})
	st.EXPECT().RevokeAllForUser(gomock.Any(), user.ID).Return(int64(2), nil)

	err := svc.ChangePassword(context.Background(), user.ID, "OldPass1!", "NewPass1!")
	require.NoError(t, err)
	require.True(t, checkPassword(newHash, "NewPass1!"))
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := activeUser(t, "user@example.com", "OldPass1!")
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	err := svc.ChangePassword(context.Background(), user.ID, "WRONG1!", "NewPass1!")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword_WeakNewPassword(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := activeUser(t, "user@example.com", "OldPass1!")
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	err := svc.ChangePassword(context.Background(), user.ID, "OldPass1!", "weak")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestDeactivateUser_RevokesAllSessions(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	userID := uuid.New()

	st.EXPECT().SetUserActive(gomock.Any(), userID, false).Return(nil)
	st.EXPECT().RevokeAllForUser(gomock.Any(), userID).Return(int64(1), nil)

	require.NoError(t, svc.DeactivateUser(context.Background(), userID))
}

func TestActiveSessionCount(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	userID := uuid.New()
	st.EXPECT().ActiveSessionCount(gomock.Any(), userID, gomock.Any()).Return(int64(4), nil)

	n, err := svc.ActiveSessionCount(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}
