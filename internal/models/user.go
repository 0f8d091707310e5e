package models

import (
	"time"

	"github.com/google/uuid"
)

// User — модель пользователя в системе.
//
// Инварианты:
//   - Email уникален (если задан); для OAuth-аккаунтов может отсутствовать;
//   - PasswordHash может быть пустым (OAuth-пользователи без пароля);
//   - пара (OAuthProvider, OAuthID) уникальна, если задана;
//   - аккаунт без PasswordHash и без OAuth-идентичности аутентифицироваться не может.
type User struct {
	ID           uuid.UUID
	Email        string
	UserName     string
	PasswordHash string
	IsActive     bool
	IsVerified   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// LastLoginAt — момент последнего успешного входа; nil, если входов ещё не было.
	LastLoginAt *time.Time
	// OAuthProvider/OAuthID — идентичность внешнего провайдера (только хранение).
	OAuthProvider string
	OAuthID       string
}

// CanPasswordLogin сообщает, доступен ли аккаунту вход по паролю.
func (u *User) CanPasswordLogin() bool {
	return u.PasswordHash != ""
}
