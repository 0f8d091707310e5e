package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/cache"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/models"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/storage"
)

// tokenTypeAccess — значение claim "typ" для access-токена.
// Refresh-токены не являются JWT, поэтому любой JWT с другим типом
// (или без типа) отклоняется при проверке.
const tokenTypeAccess = "access"

type accessClaims struct {
	UserID    string `json:"uid"`
	Email     string `json:"email"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// generateAccessToken генерирует access-токен.
func (s *Service) generateAccessToken(ctx context.Context, userID uuid.UUID, email string, now time.Time) (string, error) {
	const op = "service.token.generateAccessToken"

	lg := log.From(ctx)

	claims := accessClaims{
		UserID:    userID.String(),
		Email:     email,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		lg.Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// validateAccessToken валидирует access-токен.
func (s *Service) validateAccessToken(tokenStr string) (uuid.UUID, string, error) {
	const op = "service.token.validateAccessToken"

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}

			return []byte(s.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.cfg.Leeway),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience...),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if claims.TokenType != tokenTypeAccess {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrWrongTokenType)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return uid, claims.Email, nil
}

// hashRefreshSecret возвращает детерминированный хэш секрета refresh-токена.
// В хранилище и в denylist попадает только хэш, сам секрет нигде не сохраняется.
func hashRefreshSecret(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// generateRefreshToken создает новый refresh-токен и возвращает его секрет.
func (s *Service) generateRefreshToken(ctx context.Context, userID uuid.UUID) (string, error) {
	const (
		op          = "service.token.generateRefreshToken"
		maxAttempts = 5
	)

	lg := log.From(ctx)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			lg.Error("refresh_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}
		plain := base64.RawURLEncoding.EncodeToString(b)

		now := time.Now().UTC()
		token := &models.RefreshToken{
			ID:               uuid.New(),
			RefreshTokenHash: hashRefreshSecret(plain),
			UserID:           userID,
			CreatedAt:        now,
			ExpiresAt:        now.Add(s.cfg.RefreshTokenTTL),
			Revoked:          false,
		}

		if err := s.storage.SaveRefreshToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Редкая коллизия — пробуем сгенерировать заново.
				continue
			}

			lg.Error("save_refresh_token_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}

		return plain, nil
	}

	lg.Error("refresh_collision_exceeded",
		slog.String("op", op),
	)

	return "", fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// RefreshToken ротирует пару токенов по refresh-токену.
//
// Старый токен одноразовый: он атомарно отзывается перед выпуском нового,
// условный UPDATE в хранилище служит точкой сериализации конкурентных
// попыток. Предъявление уже отозванного токена трактуется как кража —
// отзываются все сессии пользователя (см. reuseDetected).
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenPair, uuid.UUID, error) {
	const op = "service.auth.RefreshToken"

	lg := log.From(ctx)
	hash := hashRefreshSecret(refreshToken)

	// Быстрый отказ по denylist: запись появляется только в момент отзыва,
	// так что попадание — достоверный признак повторного использования.
	if entry, ok := s.denyHit(ctx, hash); ok {
		s.reuseDetected(ctx, entry.UserID, hash)
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenReused)
	}

	token, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_lookup_not_found",
				slog.String("op", op),
			)
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		lg.Error("refresh_lookup_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	if token.Revoked {
		s.reuseDetected(ctx, token.UserID, hash)
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenReused)
	}

	if time.Now().UTC().After(token.ExpiresAt) {
		lg.Warn("refresh_expired",
			slog.String("op", op),
			slog.String("user_id", token.UserID.String()),
		)
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	user, err := s.storage.UserByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsActive {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrUserInactive)
	}

	revoked, err := s.storage.MarkRevokedIfActive(ctx, token.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}
	if !revoked {
		// Проиграли гонку конкурентному Refresh с тем же токеном —
		// значит, секрет предъявили дважды.
		s.reuseDetected(ctx, token.UserID, hash)
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenReused)
	}

	s.denySet(ctx, hash, token.UserID, token.ExpiresAt)

	return s.issueTokenPair(ctx, user)
}

// reuseDetected обрабатывает повторное использование refresh-токена:
// отзывает все сессии пользователя и фиксирует хэш в denylist.
// Отзыв идемпотентен, поэтому повторный вызов по тому же токену безопасен.
func (s *Service) reuseDetected(ctx context.Context, userID uuid.UUID, hash string) {
	const op = "service.token.reuseDetected"

	lg := log.From(ctx)

	lg.Warn("refresh_reuse_detected",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
	)

	n, err := s.storage.RevokeAllForUser(ctx, userID)
	if err != nil {
		lg.Error("revoke_all_failed",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			slog.String("err", err.Error()),
		)
		return
	}

	lg.Info("sessions_revoked",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
		slog.Int64("count", n),
	)

	s.denySet(ctx, hash, userID, time.Now().UTC().Add(s.cfg.RefreshTokenTTL))
}

// denyHit проверяет хэш по denylist. Кэш совещательный: любая ошибка
// трактуется как промах, источником истины остается хранилище.
func (s *Service) denyHit(ctx context.Context, hash string) (*cache.RevokedEntry, bool) {
	if s.rcache == nil {
		return nil, false
	}

	entry, ok, err := s.rcache.Get(ctx, hash)
	if err != nil {
		log.From(ctx).Warn("denylist_get_failed",
			slog.String("op", "service.token.denyHit"),
			slog.String("err", err.Error()),
		)
		return nil, false
	}

	return entry, ok
}

// denySet добавляет хэш отозванного токена в denylist с TTL до истечения
// самого токена. Ошибка не фатальна: отзыв уже зафиксирован в хранилище.
func (s *Service) denySet(ctx context.Context, hash string, userID uuid.UUID, expiresAt time.Time) {
	if s.rcache == nil {
		return
	}

	now := time.Now().UTC()
	entry := &cache.RevokedEntry{
		UserID:    userID,
		RevokedAt: now,
	}

	if err := s.rcache.Set(ctx, hash, entry, expiresAt.Sub(now)); err != nil {
		log.From(ctx).Warn("denylist_set_failed",
			slog.String("op", "service.token.denySet"),
			slog.String("err", err.Error()),
		)
	}
}
