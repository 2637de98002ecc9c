package store

import (
	"errors"

	"barsync-go/internal/core/models"
)

// ErrNotFound is returned when no operation exists under the given id.
var ErrNotFound = errors.New("operation not found")

// Store is the durable key/value contract the operation queue persists
// through. Records must survive a full process restart; the SQLite
// implementation is the production one, the memory implementation backs
// tests.
type Store interface {
	Get(id string) (*models.Operation, error)
	Put(op *models.Operation) error
	Delete(id string) error
	ListAll() ([]models.Operation, error)
}
