package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/pribylovaa/go-learning-platform/auth-service/internal/models"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func applyRefreshMigration(t *testing.T, st *Storage) {
	t.Helper()
	_, err := st.db.Exec(context.Background(), readMigration(t, "2_init_refresh_tokens.up.sql"))
	require.NoError(t, err, "apply 2_init_refresh_tokens.up.sql")
}

// seedUser создаёт пользователя.
func seedUser(t *testing.T, st *Storage, email string) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: "hash",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.SaveUser(context.Background(), u))
	return u.ID
}

// seedToken сохраняет свежий refresh-токен и возвращает его.
func seedToken(t *testing.T, st *Storage, userID uuid.UUID, plain string, ttl time.Duration) *models.RefreshToken {
	t.Helper()
	now := time.Now().UTC()
	rt := &models.RefreshToken{
		ID:               uuid.New(),
		RefreshTokenHash: hashRefresh(plain),
		UserID:           userID,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
		Revoked:          false,
	}
	require.NoError(t, st.SaveRefreshToken(context.Background(), rt))
	return rt
}

// hashRefresh - helper для вычисления hash из plain (sha256 → base64url).
func hashRefresh(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestIntegration_SaveRefreshToken_And_GetByHash_OK(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applyRefreshMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")

	now := time.Now().UTC()
	rt := seedToken(t, st, userID, "plain-refresh-1", time.Hour)

	got, err := st.RefreshTokenByHash(ctx, rt.RefreshTokenHash)
	require.NoError(t, err)

	require.Equal(t, rt.ID, got.ID)
	require.Equal(t, rt.RefreshTokenHash, got.RefreshTokenHash)
	require.Equal(t, userID, got.UserID)
	require.False(t, got.Revoked)
	require.Nil(t, got.LastUsedAt)
	require.WithinDuration(t, now, got.CreatedAt, 2*time.Second)
	require.WithinDuration(t, now.Add(time.Hour), got.ExpiresAt, 2*time.Second)
}

func TestIntegration_SaveRefreshToken_UniqueViolation(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applyRefreshMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")
	seedToken(t, st, userID, "dup-refresh", 10*time.Minute)

	// Повтор с тем же token_hash.
	now := time.Now().UTC()
	rt2 := &models.RefreshToken{
		ID:               uuid.New(),
		RefreshTokenHash: hashRefresh("dup-refresh"),
		UserID:           userID,
		CreatedAt:        now,
		ExpiresAt:        now.Add(20 * time.Minute),
		Revoked:          false,
	}
	err := st.SaveRefreshToken(ctx, rt2)
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestIntegration_RefreshTokenByHash_NotFound(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applyRefreshMigration(t, st)

	_, err := st.RefreshTokenByHash(context.Background(), hashRefresh("missing"))
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_MarkRevokedIfActive_Flow(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applyRefreshMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")
	rt := seedToken(t, st, userID, "to-rotate", time.Hour)

	// 1) Активный токен — отзывается: (true, nil), проставляется last_used_at.
	ok, err := st.MarkRevokedIfActive(ctx, rt.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := st.RefreshTokenByHash(ctx, rt.RefreshTokenHash)
	require.NoError(t, err)
	require.True(t, got.Revoked)
	require.NotNil(t, got.LastUsedAt)

	// 2) Повторная попытка — уже отозван: (false, nil).
	ok, err = st.MarkRevokedIfActive(ctx, rt.ID)
	require.NoError(t, err)
	require.False(t, ok)

	// 3) Не существует — (false, ErrNotFound).
	ok, err = st.MarkRevokedIfActive(ctx, uuid.New())
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.False(t, ok)
}

func TestIntegration_RevokeRefreshTokenByHash_Flow(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applyRefreshMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")
	rt := seedToken(t, st, userID, "to-revoke", time.Hour)

	ok, err := st.RevokeRefreshTokenByHash(ctx, rt.RefreshTokenHash)
	require.NoError(t, err)
	require.True(t, ok)

	// Повтор — (false, nil); отсутствующий — (false, ErrNotFound).
	ok, err = st.RevokeRefreshTokenByHash(ctx, rt.RefreshTokenHash)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = st.RevokeRefreshTokenByHash(ctx, hashRefresh("absent"))
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.False(t, ok)
}

func TestIntegration_RevokeAllForUser_And_ActiveSessionCount(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applyRefreshMigration(t, st)

	ctx := context.Background()
	alice := seedUser(t, st, "alice@example.com")
	bob := seedUser(t, st, "bob@example.com")

	seedToken(t, st, alice, "alice-1", time.Hour)
	seedToken(t, st, alice, "alice-2", time.Hour)
	seedToken(t, st, alice, "alice-3", time.Hour)
	seedToken(t, st, bob, "bob-1", time.Hour)

	now := time.Now().UTC()

	n, err := st.ActiveSessionCount(ctx, alice, now)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	// Все сессии alice гасятся одним вызовом; bob не затронут.
	revoked, err := st.RevokeAllForUser(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, int64(3), revoked)

	n, err = st.ActiveSessionCount(ctx, alice, now)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	n, err = st.ActiveSessionCount(ctx, bob, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// Идемпотентность: повторный вызов ничего не трогает.
	revoked, err = st.RevokeAllForUser(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, int64(0), revoked)
}

func TestIntegration_DeleteExpiredTokens_DeletesOnlyExpired(t *testing.T) {
	st, cleanup := startPostgres(t)
	defer cleanup()
	applyRefreshMigration(t, st)

	ctx := context.Background()
	userID := seedUser(t, st, "user@example.com")
	now := time.Now().UTC()

	// Токен A — истёк в прошлом -> должен быть удалён.
	hashA := hashRefresh("expired-past")
	require.NoError(t, st.SaveRefreshToken(ctx, &models.RefreshToken{
		ID: uuid.New(), RefreshTokenHash: hashA, UserID: userID,
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Minute), Revoked: false,
	}))

	// Токен B — в будущем -> должен остаться.
	hashB := hashRefresh("not-expired")
	require.NoError(t, st.SaveRefreshToken(ctx, &models.RefreshToken{
		ID: uuid.New(), RefreshTokenHash: hashB, UserID: userID,
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(30 * time.Minute), Revoked: false,
	}))

	require.NoError(t, st.DeleteExpiredTokens(ctx, now))

	_, err := st.RefreshTokenByHash(ctx, hashA)
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.RefreshTokenByHash(ctx, hashB)
	require.NoError(t, err)
}
