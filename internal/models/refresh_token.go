package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — серверная запись о выданном refresh-токене.
//
// Жизненный цикл: создаётся при логине/регистрации и при каждой успешной
// ротации; мутируется только установкой Revoked и LastUsedAt. Продление
// срока действия существующей строки не выполняется никогда — ротация
// всегда отзывает старую запись и создаёт новую. Отозванные записи не
// удаляются (история нужна для детекции повторного предъявления);
// физически строки удаляет только фоновая очистка по ExpiresAt.
type RefreshToken struct {
	ID uuid.UUID
	// RefreshTokenHash — sha256(plain) в base64url; сам секрет не хранится.
	RefreshTokenHash string
	UserID           uuid.UUID
	CreatedAt        time.Time
	ExpiresAt        time.Time
	Revoked          bool
	// LastUsedAt — момент последнего предъявления; nil, если токен не предъявлялся.
	LastUsedAt *time.Time
}
