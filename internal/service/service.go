// service содержит бизнес-логику ядра аутентификации и безопасности сессий:
// регистрацию/аутентификацию пользователей, выпуск/проверку токенов,
// ротацию refresh-токенов с детекцией повторного предъявления,
// ограничение частоты попыток и работу с хранилищем через интерфейсы
// из пакета storage.
//
// Основные аспекты:
//   - Пакет не хранит состояние запроса внутри Service; экземпляр Service
//     безопасен для конкурентного использования из разных горутин при условии,
//     что переданные хранилище (storage.Storage) и счётчики лимитов потокобезопасны.
//   - Ни одна операция не порождает фоновой работы и не ретраит отказ
//     хранилища: решение о повторе принимает вызывающая сторона.
//   - Ошибки возвращаются и далее маппятся транспортом на коды ответа
//     (см. комментарии к переменным ошибок ниже).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pribylovaa/go-learning-platform/auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/pkg/redact"

	"github.com/pribylovaa/go-learning-platform/auth-service/internal/cache"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/config"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/ratelimit"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/storage"
)

// Имена действий для лимитера.
const (
	ActionLogin    = "login"
	ActionRegister = "register"
)

var (
	// ErrInvalidCredentials — пара логин/пароль неверна или пользователь не найден.
	// Сообщение намеренно одно и то же для несуществующего email и неверного
	// пароля — существование аккаунта не раскрывается. Транспорт: 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken — токен (access/refresh) некорректен по формату/подписи
	// или отсутствует в хранилище. Транспорт: 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия токена истёк. Транспорт: 401.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenReused — повторно предъявлен уже отозванный/использованный
	// refresh-токен. Это сигнал кражи: побочным эффектом отзываются ВСЕ
	// refresh-токены пользователя. Транспорт: 401.
	ErrTokenReused = errors.New("token reuse detected")

	// ErrWrongTokenType — подписанный токен валиден, но его claim "typ"
	// не соответствует ожидаемому (например, refresh предъявлен как access).
	// Транспорт: 401.
	ErrWrongTokenType = errors.New("wrong token type")

	// ErrUserInactive — аккаунт деактивирован. Транспорт: 401/403.
	ErrUserInactive = errors.New("user is inactive")

	// ErrRateLimited — исчерпан лимит попыток; см. RateLimitedError.RetryAfter.
	// Транспорт: 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrEmailTaken — e-mail уже занят другим пользователем. Транспорт: 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrRefreshTokenCollision — исчерпаны попытки сгенерировать уникальный refresh-токен
	// (редкий случай коллизий при сохранении хэша в БД после нескольких ретраев).
	// Транспорт: 500.
	ErrRefreshTokenCollision = errors.New("refresh token collision")

	// ErrInvalidEmail — e-mail имеет некорректный формат. Транспорт: 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль не удовлетворяет политикам сложности. Транспорт: 400.
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmptyPassword — пароль пустой. Транспорт: 400.
	ErrEmptyPassword = errors.New("password is empty")
)

// RateLimitedError — отказ по лимиту с остатком окна.
// errors.Is(err, ErrRateLimited) возвращает true.
type RateLimitedError struct {
	// RetryAfter — через сколько закончится текущее окно.
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Service описывает бизнес-логику ядра аутентификации.
type Service struct {
	storage storage.Storage
	cfg     config.AuthConfig
	limiter *ratelimit.Limiter // может быть nil, если лимиты не сконфигурированы
	rcache  cache.RevokedCache // может быть nil, если denylist не сконфигурирован
}

// New создаёт новый экземпляр Service.
func New(storage storage.Storage, cfg config.AuthConfig, limiter *ratelimit.Limiter) *Service {
	return &Service{
		storage: storage,
		cfg:     cfg,
		limiter: limiter,
	}
}

// SetRevokedCache устанавливает denylist отозванных refresh-токенов (опционально).
func (s *Service) SetRevokedCache(c cache.RevokedCache) {
	s.rcache = c
}

// checkLimit регистрирует попытку действия и транслирует отказ лимитера
// в доменную ошибку. Отказ самого хранилища счётчиков пропагируется как есть.
func (s *Service) checkLimit(ctx context.Context, action, key string) error {
	if s.limiter == nil {
		return nil
	}

	err := s.limiter.Allow(ctx, action, key)
	if err == nil {
		return nil
	}

	var lim *ratelimit.LimitExceededError
	if errors.As(err, &lim) {
		log.From(ctx).Warn("rate_limited",
			slog.String("action", action),
			slog.String("key", redact.Email(key)),
			slog.Duration("retry_after", lim.RetryAfter),
		)
		return &RateLimitedError{RetryAfter: lim.RetryAfter}
	}

	return err
}

// resetLimit сбрасывает окно после успешной аутентификации.
// Best-effort: отказ хранилища счётчиков не должен ронять успешный вход.
func (s *Service) resetLimit(ctx context.Context, action, key string) {
	if s.limiter == nil {
		return
	}

	if err := s.limiter.Reset(ctx, action, key); err != nil {
		log.From(ctx).Warn("rate_limit_reset_failed",
			slog.String("action", action),
			slog.String("err", err.Error()),
		)
	}
}
