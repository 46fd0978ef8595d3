package models

import (
	"strings"
	"time"
)

type User struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	Name           string    `json:"name" gorm:"size:100;not null"`
	Email          string    `json:"email" gorm:"size:255;uniqueIndex;not null"` // stored lower-cased
	PasswordHash   string    `json:"-" gorm:"size:255;not null"`
	IsActive       bool      `json:"isActive" gorm:"not null"`
	Role           Role      `json:"role" gorm:"type:varchar(16);not null"`
	ProfileImageID *uint     `json:"profileImageId" gorm:"index"`
	CreatedBy      *uint     `json:"createdBy"`
	UpdatedBy      *uint     `json:"updatedBy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// UserView is the external representation of a User. It never carries the
// password hash.
type UserView struct {
	ID             uint      `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	IsActive       bool      `json:"isActive"`
	Role           Role      `json:"role"`
	ProfileImageID *uint     `json:"profileImageId"`
	CreatedBy      *uint     `json:"createdBy"`
	UpdatedBy      *uint     `json:"updatedBy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (u *User) View() UserView {
	return UserView{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		IsActive:       u.IsActive,
		Role:           u.Role,
		ProfileImageID: u.ProfileImageID,
		CreatedBy:      u.CreatedBy,
		UpdatedBy:      u.UpdatedBy,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

// NormalizeEmail is the canonical form emails are stored and compared in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
