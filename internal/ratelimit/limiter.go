// ratelimit реализует ограничение частоты попыток для действий аутентификации
// (login/register) по ключу идентичности (нормализованный email или IP).
//
// Выбрана схема фиксированного окна: счётчик с атомарным инкрементом и TTL,
// начинающийся с первой попытки. Компромисс схемы — всплеск на границе окон
// (до 2*max_attempts подряд при попадании в стык двух окон); для защиты от
// перебора учётных данных это приемлемо, а реализация сводится к одному
// атомарному примитиву increment-with-expiry без глобальных блокировок.
//
// Счётчики живут во внешнем CounterStore (Redis в продакшене, in-memory —
// локально и в тестах), поэтому лимиты согласованы между инстансами сервиса.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Config — параметры одного действия.
type Config struct {
	// MaxAttempts — сколько попыток допускается внутри одного окна.
	MaxAttempts int
	// Window — длительность окна.
	Window time.Duration
}

// LimitExceededError возвращается из Allow при исчерпании лимита.
type LimitExceededError struct {
	// RetryAfter — сколько осталось до конца текущего окна.
	RetryAfter time.Duration
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// CounterStore — внешнее хранилище счётчиков окон.
// Incr обязан быть атомарным по ключу: конкурентные вызовы не теряют инкременты.
type CounterStore interface {
	// Incr увеличивает счётчик ключа; при отсутствии или истечении окна
	// начинает новое окно со значением 1 и TTL = window.
	// Возвращает текущее значение счётчика и остаток окна.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	// Reset сбрасывает окно ключа (используется после успешной аутентификации).
	Reset(ctx context.Context, key string) error
}

// Limiter применяет пер-действие конфигурацию поверх CounterStore.
type Limiter struct {
	store   CounterStore
	actions map[string]Config
}

// New создаёт Limiter поверх хранилища счётчиков.
func New(store CounterStore, actions map[string]Config) *Limiter {
	return &Limiter{
		store:   store,
		actions: actions,
	}
}

// Allow регистрирует попытку и решает, допускать ли её.
// Контракт:
//   - нового окна ещё нет или старое истекло — окно начинается, попытка допускается;
//   - счётчик внутри окна <= MaxAttempts — попытка допускается;
//   - иначе — *LimitExceededError с остатком окна.
//
// Для действия без конфигурации лимит не применяется.
func (l *Limiter) Allow(ctx context.Context, action, key string) error {
	const op = "ratelimit.Allow"

	cfg, ok := l.actions[action]
	if !ok {
		return nil
	}

	count, retryAfter, err := l.store.Incr(ctx, storeKey(action, key), cfg.Window)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if count > int64(cfg.MaxAttempts) {
		return fmt.Errorf("%s: %w", op, &LimitExceededError{RetryAfter: retryAfter})
	}

	return nil
}

// Reset сбрасывает окно ключа. Вызывается после успешной аутентификации,
// чтобы несколько опечаток в пароле не тянулись за пользователем целое окно.
// Неуспешные попытки окно никогда не сбрасывают.
func (l *Limiter) Reset(ctx context.Context, action, key string) error {
	const op = "ratelimit.Reset"

	if _, ok := l.actions[action]; !ok {
		return nil
	}

	if err := l.store.Reset(ctx, storeKey(action, key)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func storeKey(action, key string) string {
	return "rl:" + action + ":" + key
}
