package repositories

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/rohits-web03/enrollr/internal/apperrors"
	"github.com/rohits-web03/enrollr/internal/models"
)

func (s *MetadataStore) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	now := s.now()
	token.ID = 0
	token.CreatedAt = now
	token.UpdatedAt = now
	return classify(s.db.WithContext(ctx).Create(token).Error)
}

func (s *MetadataStore) FindRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&token).Error; err != nil {
		return nil, classify(err)
	}
	return &token, nil
}

// ConsumeRefreshToken revokes the token if it is still active at now and
// returns it. The check and the revocation are one statement, so of two
// concurrent exchanges of the same token exactly one succeeds; the other
// gets apperrors.ErrNotFound, as does an unknown, revoked or expired token.
func (s *MetadataStore) ConsumeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
	var token models.RefreshToken
	res := s.db.WithContext(ctx).
		Model(&token).
		Clauses(clause.Returning{}).
		Where("token_hash = ? AND revoked_at IS NULL AND expires_at > ?", tokenHash, now).
		Updates(map[string]any{"revoked_at": now, "updated_at": now})
	if res.Error != nil {
		return nil, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &token, nil
}

// RevokeRefreshToken is idempotent: unknown and already revoked tokens are
// not an error.
func (s *MetadataStore) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error {
	return classify(s.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", tokenHash).
		Updates(map[string]any{"revoked_at": now, "updated_at": now}).Error)
}

func (s *MetadataStore) RevokeUserRefreshTokens(ctx context.Context, userID uint, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{"revoked_at": now, "updated_at": now})
	return res.RowsAffected, classify(res.Error)
}

// DeleteExpiredRefreshTokens removes tokens that expired before cutoff,
// revoked or not.
func (s *MetadataStore) DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&models.RefreshToken{})
	return res.RowsAffected, classify(res.Error)
}
