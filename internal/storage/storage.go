package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pribylovaa/go-learning-platform/auth-service/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound — запись не найдена (пользователь/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/oauth-пара/refresh-token hash).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя в БД.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UserByOAuth находит пользователя по паре (provider, oauth_id).
	UserByOAuth(ctx context.Context, provider, oauthID string) (*models.User, error)
	// UpdateLastLogin проставляет last_login_at.
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	// UpdatePasswordHash заменяет хэш пароля пользователя.
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	// SetUserActive включает/выключает аккаунт.
	SetUserActive(ctx context.Context, id uuid.UUID, active bool) error
}

// RefreshTokenStorage выполняет операции над refresh-токенами.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новый refresh-token в БД.
	// Коллизия по token_hash отклоняется (ErrAlreadyExists), не перезаписывается.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит refresh-токен по его хэшу.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// MarkRevokedIfActive атомарно отзывает токен, если он ещё активен.
	// Возвращает:
	//
	//	(true, nil)  — токен был активен и отозван сейчас;
	//	(false, nil) — токен существует, но уже был отозван;
	//	(false, ErrNotFound) — токен не найден.
	MarkRevokedIfActive(ctx context.Context, id uuid.UUID) (bool, error)
	// RevokeRefreshTokenByHash атомарно отзывает токен по хэшу (семантика как у MarkRevokedIfActive).
	RevokeRefreshTokenByHash(ctx context.Context, hash string) (bool, error)
	// RevokeAllForUser отзывает все активные токены пользователя одним запросом.
	// Идемпотентна; возвращает число затронутых строк.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	// ActiveSessionCount возвращает число живых (не отозванных и не просроченных) токенов.
	ActiveSessionCount(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	// DeleteExpiredTokens удаляет все просроченные токены.
	DeleteExpiredTokens(ctx context.Context, now time.Time) error
}

// Storage задает контракт работы с БД.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	Close()
}
