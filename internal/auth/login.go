package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rohits-web03/enrollr/internal/apperrors"
	"github.com/rohits-web03/enrollr/internal/models"
	"github.com/rohits-web03/enrollr/internal/utils"
)

const (
	refreshTokenBytes  = 32
	maxUserAgentLength = 255
	maxIPLength        = 45
)

// AccountLookup finds accounts by normalized email or id.
type AccountLookup interface {
	UserLookup
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// RefreshTokenStore persists refresh tokens by digest.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	ConsumeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID uint, now time.Time) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

// Client identifies where a session was opened from.
type Client struct {
	IP        string
	UserAgent string
}

// Session is what a successful login or refresh hands back to the transport.
type Session struct {
	Token            string
	ExpiresAt        time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *models.User
}

// Authenticator checks email and password, issues short-lived access tokens
// and rotates the refresh tokens that renew them.
type Authenticator struct {
	accounts   AccountLookup
	tokens     RefreshTokenStore
	hasher     *PasswordHasher
	issuer     *Issuer
	refreshTTL time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewAuthenticator(accounts AccountLookup, tokens RefreshTokenStore, hasher *PasswordHasher, issuer *Issuer, refreshTTL time.Duration, log zerolog.Logger) *Authenticator {
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Authenticator{
		accounts:   accounts,
		tokens:     tokens,
		hasher:     hasher,
		issuer:     issuer,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log.With().Str("component", "authenticator").Logger(),
	}
}

// Login never says which of email or password was wrong.
func (a *Authenticator) Login(ctx context.Context, email, password string, client Client) (Session, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, apperrors.NewValidationError(map[string]string{"credentials": "email and password are required"})
	}

	user, err := a.accounts.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return Session{}, apperrors.ErrInvalidCredential
		}
		return Session{}, err
	}
	if !a.hasher.Compare(user.PasswordHash, password) || !user.IsActive {
		return Session{}, apperrors.ErrInvalidCredential
	}

	return a.open(ctx, user, client)
}

// Refresh exchanges a refresh token for a new access token and a new refresh
// token. The presented token is revoked whether or not the exchange
// succeeds, so each refresh token works at most once.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string, client Client) (Session, error) {
	if refreshToken == "" {
		return Session{}, apperrors.ErrInvalidCredential
	}
	now := a.now()

	consumed, err := a.tokens.ConsumeRefreshToken(ctx, utils.HashToken(refreshToken), now)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return Session{}, apperrors.ErrInvalidCredential
		}
		return Session{}, err
	}

	user, err := a.activeUser(ctx, consumed.UserID)
	if err != nil {
		return Session{}, err
	}
	return a.open(ctx, user, client)
}

// Logout revokes the refresh token. Unknown or empty tokens are ignored.
func (a *Authenticator) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return a.tokens.RevokeRefreshToken(ctx, utils.HashToken(refreshToken), a.now())
}

// SessionUser returns the account behind an active refresh token.
func (a *Authenticator) SessionUser(ctx context.Context, refreshToken string) (*models.User, error) {
	if refreshToken == "" {
		return nil, apperrors.ErrInvalidCredential
	}
	token, err := a.tokens.FindRefreshToken(ctx, utils.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrInvalidCredential
		}
		return nil, err
	}
	switch now := a.now(); {
	case token.Revoked():
		return nil, apperrors.ErrInvalidCredential
	case token.Expired(now):
		return nil, apperrors.ErrExpiredCredential
	}
	return a.activeUser(ctx, token.UserID)
}

// PruneExpired deletes refresh tokens that can no longer be exchanged.
func (a *Authenticator) PruneExpired(ctx context.Context) (int64, error) {
	n, err := a.tokens.DeleteExpiredRefreshTokens(ctx, a.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.log.Info().Int64("deleted", n).Msg("expired refresh tokens pruned")
	}
	return n, nil
}

// activeUser loads the account a refresh token belongs to. A deactivated
// account loses every open session.
func (a *Authenticator) activeUser(ctx context.Context, id uint) (*models.User, error) {
	user, err := a.accounts.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrInvalidCredential
		}
		return nil, err
	}
	if !user.IsActive {
		if n, err := a.tokens.RevokeUserRefreshTokens(ctx, user.ID, a.now()); err != nil {
			a.log.Warn().Err(err).Uint("user_id", user.ID).Msg("could not revoke sessions of deactivated account")
		} else if n > 0 {
			a.log.Info().Uint("user_id", user.ID).Int64("revoked", n).Msg("sessions of deactivated account revoked")
		}
		return nil, apperrors.ErrInvalidCredential
	}
	return user, nil
}

func (a *Authenticator) open(ctx context.Context, user *models.User, client Client) (Session, error) {
	access, exp, err := a.issuer.Issue(user)
	if err != nil {
		return Session{}, err
	}
	raw, err := utils.NewOpaqueToken(refreshTokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}

	record := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: utils.HashToken(raw),
		IPAddress: truncate(client.IP, maxIPLength),
		UserAgent: truncate(client.UserAgent, maxUserAgentLength),
		ExpiresAt: a.now().Add(a.refreshTTL),
	}
	if err := a.tokens.CreateRefreshToken(ctx, record); err != nil {
		return Session{}, err
	}

	return Session{
		Token:            access,
		ExpiresAt:        exp,
		RefreshToken:     raw,
		RefreshExpiresAt: record.ExpiresAt,
		User:             user,
	}, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
