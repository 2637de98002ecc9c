package store

import (
	"errors"
	"fmt"

	"barsync-go/internal/core/models"

	"gorm.io/gorm"
)

// GormStore persists operations in the embedded SQLite database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over an initialized gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Get loads one operation by id.
func (s *GormStore) Get(id string) (*models.Operation, error) {
	var op models.Operation
	if err := s.db.First(&op, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load operation %s: %w", id, err)
	}
	return &op, nil
}

// Put inserts or updates one operation record.
func (s *GormStore) Put(op *models.Operation) error {
	if err := s.db.Save(op).Error; err != nil {
		return fmt.Errorf("failed to persist operation %s: %w", op.ID, err)
	}
	return nil
}

// Delete removes one operation record. Deleting a missing id is not an
// error.
func (s *GormStore) Delete(id string) error {
	if err := s.db.Delete(&models.Operation{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete operation %s: %w", id, err)
	}
	return nil
}

// ListAll returns every stored operation.
func (s *GormStore) ListAll() ([]models.Operation, error) {
	var ops []models.Operation
	if err := s.db.Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	return ops, nil
}
