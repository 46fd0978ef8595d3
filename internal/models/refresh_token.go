package models

import "time"

// RefreshToken is a persisted, revocable login. Only the SHA-256 digest of the
// token handed to the client is stored.
type RefreshToken struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	UserID    uint       `json:"userId" gorm:"not null;index"`
	TokenHash string     `json:"-" gorm:"size:64;uniqueIndex;not null"`
	IPAddress string     `json:"ipAddress" gorm:"size:45"`
	UserAgent string     `json:"userAgent" gorm:"size:255"`
	ExpiresAt time.Time  `json:"expiresAt" gorm:"not null"`
	RevokedAt *time.Time `json:"revokedAt"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Active reports whether the token may still be exchanged at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked() && !t.Expired(now)
}
