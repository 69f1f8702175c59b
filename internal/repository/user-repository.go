package repository

import (
	"errors"
	"log"

	"github.com/studyflow/auth_service/internal/domain"
	"github.com/studyflow/auth_service/internal/helper"
	"gorm.io/gorm"
)

// UserRepository covers identity lookups and lifecycle. The verified
// flag and the password hash are mutated by OneTimeTokenRepository,
// inside the same transaction that spends the authorizing token.
type UserRepository interface {
	CreateUser(user *domain.User) (*domain.User, error)
	FindUserByEmail(email string) (*domain.User, error)
	FindUserByID(userID uint) (*domain.User, error)
	DeleteUser(userID uint) error
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) CreateUser(user *domain.User) (*domain.User, error) {
	if user == nil {
		return nil, errors.New("nil user")
	}
	if !domain.ValidRole(user.Role) {
		return nil, domain.ErrInvalidRole
	}

	if err := r.db.Create(user).Error; err != nil {
		// concurrent duplicate registrations race on the unique index,
		// not on a prior existence check
		if helper.IsUniqueViolation(err) {
			return nil, domain.ErrEmailTaken
		}
		log.Printf("create user error: %v", err)
		return nil, err
	}

	return user, nil
}

func (r *userRepository) FindUserByEmail(email string) (*domain.User, error) {
	user := &domain.User{}

	if err := r.db.First(user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		log.Printf("find user by email error: %v", err)
		return nil, err
	}

	return user, nil
}

func (r *userRepository) FindUserByID(userID uint) (*domain.User, error) {
	user := &domain.User{}

	if err := r.db.First(user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		log.Printf("find user by id error: %v", err)
		return nil, err
	}

	return user, nil
}

// DeleteUser removes the user row; dependent token rows go with it via
// ON DELETE CASCADE.
func (r *userRepository) DeleteUser(userID uint) error {
	if err := r.db.Delete(&domain.User{}, userID).Error; err != nil {
		log.Printf("delete user error: %v", err)
		return err
	}
	return nil
}
