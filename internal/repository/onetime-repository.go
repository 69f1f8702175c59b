package repository

import (
	"log"
	"time"

	"github.com/studyflow/auth_service/internal/domain"
	"gorm.io/gorm"
)

// OneTimeTokenRepository stores the single-use email-verification and
// password-reset tokens. Issuing a new token marks the user's prior
// unused tokens of the same purpose as used; consumption is a guarded
// UPDATE so a token can be spent at most once. The user mutation each
// token authorizes commits in the same transaction that spends it: a
// burned token always implies the mutation landed, and a failed write
// rolls the token back to unspent so the caller may retry.
type OneTimeTokenRepository interface {
	CreateVerification(userID uint, tokenHash string, now time.Time) error
	// ConsumeVerification spends the token and sets the owner's
	// email_verified flag atomically.
	ConsumeVerification(tokenHash string, maxAge time.Duration, now time.Time) (uint, error)
	CreateReset(userID uint, tokenHash string, now time.Time) error
	// ConsumeReset spends the token and writes the new password hash
	// atomically.
	ConsumeReset(tokenHash string, newHash string, maxAge time.Duration, now time.Time) (uint, error)
}

type oneTimeTokenRepository struct {
	db *gorm.DB
}

func NewOneTimeTokenRepository(db *gorm.DB) OneTimeTokenRepository {
	return &oneTimeTokenRepository{db: db}
}

func (r *oneTimeTokenRepository) CreateVerification(userID uint, tokenHash string, now time.Time) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.EmailVerificationToken{}).
			Where("user_id = ? AND used_at IS NULL", userID).
			Update("used_at", now).Error; err != nil {
			return err
		}
		return tx.Create(&domain.EmailVerificationToken{
			TokenHash: tokenHash,
			UserID:    userID,
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		log.Printf("create verification token error: %v", err)
	}
	return err
}

func (r *oneTimeTokenRepository) ConsumeVerification(tokenHash string, maxAge time.Duration, now time.Time) (uint, error) {
	var userID uint

	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.EmailVerificationToken{}).
			Where("token = ? AND used_at IS NULL AND created_at > ?", tokenHash, now.Add(-maxAge)).
			Update("used_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrInvalidToken
		}

		row := &domain.EmailVerificationToken{}
		if err := tx.First(row, "token = ?", tokenHash).Error; err != nil {
			return err
		}
		userID = row.UserID

		return tx.Model(&domain.User{}).
			Where("id = ?", userID).
			Update("email_verified", true).Error
	})
	if err != nil {
		return 0, err
	}

	return userID, nil
}

func (r *oneTimeTokenRepository) CreateReset(userID uint, tokenHash string, now time.Time) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.PasswordResetToken{}).
			Where("user_id = ? AND used_at IS NULL", userID).
			Update("used_at", now).Error; err != nil {
			return err
		}
		return tx.Create(&domain.PasswordResetToken{
			TokenHash: tokenHash,
			UserID:    userID,
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		log.Printf("create reset token error: %v", err)
	}
	return err
}

func (r *oneTimeTokenRepository) ConsumeReset(tokenHash string, newHash string, maxAge time.Duration, now time.Time) (uint, error) {
	var userID uint

	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.PasswordResetToken{}).
			Where("token = ? AND used_at IS NULL AND created_at > ?", tokenHash, now.Add(-maxAge)).
			Update("used_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrInvalidToken
		}

		row := &domain.PasswordResetToken{}
		if err := tx.First(row, "token = ?", tokenHash).Error; err != nil {
			return err
		}
		userID = row.UserID

		return tx.Model(&domain.User{}).
			Where("id = ?", userID).
			Update("password_hash", newHash).Error
	})
	if err != nil {
		return 0, err
	}

	return userID, nil
}
