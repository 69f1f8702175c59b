package repository

import (
	"log"

	"github.com/studyflow/auth_service/internal/domain"
	"gorm.io/gorm"
)

type AuditLogRepository interface {
	Record(entry *domain.AuditLog) error
}

type auditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) Record(entry *domain.AuditLog) error {
	if err := r.db.Create(entry).Error; err != nil {
		log.Printf("audit log error: %v", err)
		return err
	}
	return nil
}
