package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/models"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/pkg/log"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/pkg/redact"
	"github.com/pribylovaa/go-learning-platform/auth-service/internal/storage"
)

// RegisterUser регистрирует нового пользователя по email+пароль.
func (s *Service) RegisterUser(ctx context.Context, email, password, userName string) (uuid.UUID, error) {
	const op = "service.auth.RegisterUser"

	normEmail, err := validateEmail(email)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if err := s.checkLimit(ctx, ActionRegister, normEmail); err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validatePassword(password); err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	hashedPassword, err := hashPassword(password)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Email:        normEmail,
		UserName:     strings.TrimSpace(userName),
		PasswordHash: hashedPassword,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Уникальность email обеспечивает хранилище; предварительной выборки нет,
	// чтобы не ловить гонку между проверкой и вставкой.
	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return uuid.Nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	s.resetLimit(ctx, ActionRegister, normEmail)

	log.From(ctx).Info("user_registered",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)

	return user.ID, nil
}

// LoginUser выполняет вход по email+пароль и выпускает пару токенов.
func (s *Service) LoginUser(ctx context.Context, email, password string) (*models.TokenPair, uuid.UUID, error) {
	const op = "service.auth.LoginUser"

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := s.checkLimit(ctx, ActionLogin, normEmail); err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	if len(password) == 0 {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	// Учетки, созданные через OAuth, не имеют пароля.
	if !user.CanPasswordLogin() {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !checkPassword(user.PasswordHash, password) {
		log.From(ctx).Warn("login_failed",
			slog.String("op", op),
			slog.String("email", redact.Email(normEmail)),
		)
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !user.IsActive {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrUserInactive)
	}

	// Окно лимита сбрасывается только после успешной аутентификации.
	s.resetLimit(ctx, ActionLogin, normEmail)

	s.markLogin(ctx, user.ID)

	return s.issueTokenPair(ctx, user)
}

// OAuthLogin выполняет вход через внешнего OAuth-провайдера.
// Identity (provider, oauthID) уже проверена внешним слоем; здесь при первом
// входе создается учетная запись, при повторном — выпускается пара токенов.
func (s *Service) OAuthLogin(ctx context.Context, provider, oauthID, email string) (*models.TokenPair, uuid.UUID, error) {
	const op = "service.auth.OAuthLogin"

	if provider == "" || oauthID == "" {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.storage.UserByOAuth(ctx, provider, oauthID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}

		user, err = s.createOAuthUser(ctx, provider, oauthID, email)
		if err != nil {
			return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if !user.IsActive {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, ErrUserInactive)
	}

	s.markLogin(ctx, user.ID)

	return s.issueTokenPair(ctx, user)
}

// createOAuthUser создает учетную запись по OAuth-identity.
func (s *Service) createOAuthUser(ctx context.Context, provider, oauthID, email string) (*models.User, error) {
	const op = "service.auth.createOAuthUser"

	normEmail := ""
	if email != "" {
		var err error
		normEmail, err = validateEmail(email)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
		}
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:            uuid.New(),
		Email:         normEmail,
		IsActive:      true,
		IsVerified:    true,
		CreatedAt:     now,
		UpdatedAt:     now,
		OAuthProvider: provider,
		OAuthID:       oauthID,
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("oauth_user_created",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
		slog.String("provider", provider),
	)

	return user, nil
}

// RevokeToken отзывает refresh-токен (logout одной сессии).
// Повторный отзыв уже отозванного токена — не ошибка.
func (s *Service) RevokeToken(ctx context.Context, refreshToken string) error {
	const op = "service.auth.RevokeToken"

	hash := hashRefreshSecret(refreshToken)

	revoked, err := s.storage.RevokeRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if revoked && s.rcache != nil {
		token, err := s.storage.RefreshTokenByHash(ctx, hash)
		if err == nil {
			s.denySet(ctx, hash, token.UserID, token.ExpiresAt)
		}
	}

	return nil
}

// LogoutAll отзывает все активные refresh-токены пользователя.
// Возвращает число отозванных сессий.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "service.auth.LogoutAll"

	n, err := s.storage.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("logout_all",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
		slog.Int64("count", n),
	)

	return n, nil
}

// ChangePassword меняет пароль пользователя.
// Успешная смена отзывает все активные сессии: старые refresh-токены
// могли быть скомпрометированы вместе со старым паролем.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	const op = "service.auth.ChangePassword"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if !user.CanPasswordLogin() || !checkPassword(user.PasswordHash, oldPassword) {
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.storage.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("password_changed",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
	)

	return nil
}

// DeactivateUser деактивирует учетную запись и отзывает все ее сессии.
// Уже выпущенные access-токены доживают свой TTL, поэтому он короткий.
func (s *Service) DeactivateUser(ctx context.Context, userID uuid.UUID) error {
	const op = "service.auth.DeactivateUser"

	if err := s.storage.SetUserActive(ctx, userID, false); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.storage.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("user_deactivated",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
	)

	return nil
}

// ActiveSessionCount возвращает число активных сессий пользователя.
func (s *Service) ActiveSessionCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "service.auth.ActiveSessionCount"

	n, err := s.storage.ActiveSessionCount(ctx, userID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// ValidateToken проверяет access-токен и возвращает данные пользователя.
func (s *Service) ValidateToken(ctx context.Context, accessToken string) (uuid.UUID, string, error) {
	const op = "service.auth.ValidateToken"

	uid, email, err := s.validateAccessToken(accessToken)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, err)
	}

	return uid, email, nil
}

// markLogin фиксирует время последнего входа. Ошибка не фатальна:
// вход уже состоялся, отметка носит информационный характер.
func (s *Service) markLogin(ctx context.Context, userID uuid.UUID) {
	if err := s.storage.UpdateLastLogin(ctx, userID, time.Now().UTC()); err != nil {
		log.From(ctx).Warn("update_last_login_failed",
			slog.String("op", "service.auth.markLogin"),
			slog.String("user_id", userID.String()),
			slog.String("err", err.Error()),
		)
	}
}

// issueTokenPair выпускает новую пару access+refresh токенов.
func (s *Service) issueTokenPair(ctx context.Context, user *models.User) (*models.TokenPair, uuid.UUID, error) {
	const op = "service.auth.issueTokenPair"

	now := time.Now().UTC()

	accessToken, err := s.generateAccessToken(ctx, user.ID, user.Email, now)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	plain, err := s.generateRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    plain,
		AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}, user.ID, nil
}
