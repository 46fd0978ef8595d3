package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rohits-web03/enrollr/internal/apperrors"
	"github.com/rohits-web03/enrollr/internal/models"
)

const (
	jwksRefreshInterval = 5 * time.Minute
	jwksClientTimeout   = 10 * time.Second
	defaultLeeway       = 5 * time.Second
)

// Claims is the payload of every token this service issues.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// userID prefers the userId claim and falls back to sub.
func (c *Claims) userID() (uint, error) {
	raw := c.UserID
	if raw == "" {
		raw = c.Subject
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("token does not name a user: %q", raw)
	}
	return uint(id), nil
}

// UserLookup loads the account a credential names.
type UserLookup interface {
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
}

// TokenResolver verifies signed JWTs and loads the user they name. The role
// always comes from the stored account, never from the token.
type TokenResolver struct {
	keyfunc func(ctx context.Context) jwt.Keyfunc
	methods []string
	users   UserLookup
	leeway  time.Duration
	log     zerolog.Logger
}

// NewHMACResolver verifies HS256 tokens signed with secret.
func NewHMACResolver(secret string, users UserLookup, log zerolog.Logger) *TokenResolver {
	key := []byte(secret)
	kf := func(*jwt.Token) (any, error) { return key, nil }
	return &TokenResolver{
		keyfunc: func(context.Context) jwt.Keyfunc { return kf },
		methods: []string{jwt.SigningMethodHS256.Alg()},
		users:   users,
		leeway:  defaultLeeway,
		log:     log.With().Str("component", "token-resolver").Logger(),
	}
}

// NewJWKSResolver verifies asymmetric tokens against a remote JWKS, refreshed
// in the background. The service starts even if the JWKS endpoint is down.
func NewJWKSResolver(ctx context.Context, jwksURL string, users UserLookup, log zerolog.Logger) (*TokenResolver, error) {
	logger := log.With().Str("component", "token-resolver").Logger()

	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: jwksClientTimeout},
		Ctx:                       ctx,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error().Err(err).Str("url", jwksURL).Msg("JWKS refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("create keyfunc: %w", err)
	}
	return NewResolverWithKeyfunc(k, users, log), nil
}

// NewResolverWithKeyfunc builds a resolver around an existing key set.
func NewResolverWithKeyfunc(k keyfunc.Keyfunc, users UserLookup, log zerolog.Logger) *TokenResolver {
	return &TokenResolver{
		keyfunc: k.KeyfuncCtx,
		methods: []string{"RS256", "RS384", "RS512", "ES256", "ES384", "EdDSA"},
		users:   users,
		leeway:  defaultLeeway,
		log:     log.With().Str("component", "token-resolver").Logger(),
	}
}

func (r *TokenResolver) Resolve(ctx context.Context, credential string) (Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Anonymous, nil
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(credential, claims, r.keyfunc(ctx),
		jwt.WithValidMethods(r.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(r.leeway),
	)
	if err != nil {
		r.log.Debug().Err(err).Msg("credential rejected")
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Anonymous, apperrors.Wrap(apperrors.ErrExpiredCredential, err)
		}
		return Anonymous, apperrors.Wrap(apperrors.ErrInvalidCredential, err)
	}

	id, err := claims.userID()
	if err != nil {
		return Anonymous, apperrors.Wrap(apperrors.ErrInvalidCredential, err)
	}

	user, err := r.users.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return Anonymous, fmt.Errorf("%w: user %d named by a valid credential does not exist", apperrors.ErrPersistence, id)
		}
		return Anonymous, apperrors.Wrap(apperrors.ErrPersistence, err)
	}
	if !user.IsActive {
		return Anonymous, fmt.Errorf("%w: account %d is deactivated", apperrors.ErrInvalidCredential, id)
	}
	return Authenticated(user.ID, user.Role), nil
}

// Issuer signs HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for user and its expiry.
func (i *Issuer) Issue(user *models.User) (string, time.Time, error) {
	now := i.now()
	expiration := now.Add(i.ttl)
	id := strconv.FormatUint(uint64(user.ID), 10)
	claims := &Claims{
		UserID: id,
		Email:  user.Email,
		Role:   user.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id,
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiration, nil
}
