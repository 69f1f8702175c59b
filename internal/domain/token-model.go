package domain

import "time"

// RefreshToken is a long-lived opaque credential stored server-side and
// rotated on every use. Revoked rows are kept, not deleted.
type RefreshToken struct {
	Token     string     `gorm:"primaryKey" json:"-"`
	UserID    uint       `gorm:"not null;index" json:"user_id"`
	User      User       `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `gorm:"not null;index" json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the token may still be used at the given instant.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// EmailVerificationToken is a single-use token; the stored value is the
// sha256 hex of the token handed to the user, never the raw token.
type EmailVerificationToken struct {
	TokenHash string     `gorm:"primaryKey;column:token" json:"-"`
	UserID    uint       `gorm:"not null;index" json:"user_id"`
	User      User       `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

func (EmailVerificationToken) TableName() string { return "email_verifications" }

type PasswordResetToken struct {
	TokenHash string     `gorm:"primaryKey;column:token" json:"-"`
	UserID    uint       `gorm:"not null;index" json:"user_id"`
	User      User       `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

func (PasswordResetToken) TableName() string { return "password_resets" }
