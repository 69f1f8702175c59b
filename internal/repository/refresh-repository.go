package repository

import (
	"errors"
	"log"
	"time"

	"github.com/studyflow/auth_service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RefreshTokenRepository interface {
	Create(token *domain.RefreshToken) error
	// Rotate atomically revokes an active token and returns the revoked
	// row. Two concurrent calls with the same token serialize on a row
	// lock; exactly one succeeds, the other gets ErrInvalidRefresh.
	Rotate(token string, now time.Time) (*domain.RefreshToken, error)
	// Revoke is idempotent: revoking an already-revoked or unknown token
	// is a no-op.
	Revoke(token string, now time.Time) error
	// PruneExcess revokes all but the newest keep active tokens of a
	// user. Set-based, safe to run concurrently with logins.
	PruneExcess(userID uint, keep int, now time.Time) error
}

type refreshTokenRepository struct {
	db *gorm.DB
}

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func (r *refreshTokenRepository) Create(token *domain.RefreshToken) error {
	if token == nil {
		return errors.New("nil refresh token")
	}
	if err := r.db.Create(token).Error; err != nil {
		log.Printf("create refresh token error: %v", err)
		return err
	}
	return nil
}

func (r *refreshTokenRepository) Rotate(token string, now time.Time) (*domain.RefreshToken, error) {
	rt := &domain.RefreshToken{}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		// SELECT ... FOR UPDATE: the validate-revoke pair must not be
		// observable half-done by a concurrent refresh
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(rt, "token = ?", token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrInvalidRefresh
			}
			return err
		}

		if !rt.Active(now) {
			return domain.ErrInvalidRefresh
		}

		rt.RevokedAt = &now
		return tx.Model(&domain.RefreshToken{}).
			Where("token = ?", rt.Token).
			Update("revoked_at", now).Error
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidRefresh) {
			log.Printf("rotate refresh token error: %v", err)
		}
		return nil, err
	}

	return rt, nil
}

func (r *refreshTokenRepository) Revoke(token string, now time.Time) error {
	if err := r.db.Model(&domain.RefreshToken{}).
		Where("token = ? AND revoked_at IS NULL", token).
		Update("revoked_at", now).Error; err != nil {
		log.Printf("revoke refresh token error: %v", err)
		return err
	}
	return nil
}

func (r *refreshTokenRepository) PruneExcess(userID uint, keep int, now time.Time) error {
	if keep <= 0 {
		return errors.New("keep must be positive")
	}

	err := r.db.Exec(`
		UPDATE refresh_tokens SET revoked_at = ?
		WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?
		AND token NOT IN (
			SELECT token FROM refresh_tokens
			WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?
			ORDER BY created_at DESC
			LIMIT ?
		)`, now, userID, now, userID, now, keep).Error
	if err != nil {
		log.Printf("prune refresh tokens error: %v", err)
		return err
	}
	return nil
}
