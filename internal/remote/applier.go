package remote

import (
	"context"

	"barsync-go/internal/core/models"
)

// Result is the remote acknowledgment of an applied operation.
type Result struct {
	// RemoteID is the identifier the backend assigned to the realized
	// effect.
	RemoteID string `json:"id"`
	// Duplicate is set when the backend recognized the idempotency key
	// and collapsed the delivery onto the original effect.
	Duplicate bool `json:"duplicate"`
}

// Applier is the opaque contract to the remote system of record. The core
// assumes nothing beyond it: an operation either produces a Result or a
// typed error. The idempotency key travels on every attempt so the remote
// can deduplicate.
type Applier interface {
	Apply(ctx context.Context, op *models.Operation) (*Result, error)
	Ping(ctx context.Context) error
}
