package models

import (
	"time"

	"gorm.io/datatypes"
)

// Operation is the unit of deferred work: one record per user-initiated
// action. Retries mutate the record in place, they never create a new one.
type Operation struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	Type           OperationType  `gorm:"index;not null" json:"type"`
	Payload        datatypes.JSON `json:"payload"`
	IdempotencyKey string         `gorm:"uniqueIndex;not null" json:"idempotency_key"`
	ScopeID        string         `gorm:"index;not null" json:"scope_id"`

	// Acting identity captured at enqueue time. Replay must use this
	// context, not whatever identity is active when the drain runs.
	ActorID   string `gorm:"index" json:"actor_id"`
	SubjectID string `json:"subject_id,omitempty"`
	Proxied   bool   `json:"proxied"`

	Status        OperationStatus `gorm:"index;default:'pending'" json:"status"`
	AttemptCount  int             `gorm:"default:0" json:"attempt_count"`
	LastError     string          `json:"last_error,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at,omitempty"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`

	// CreatedAt is the logical timestamp of the original user action.
	// Ordering within a scope and business-date assignment derive from it,
	// independent of when the operation is eventually synced.
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	SyncedAt    time.Time `json:"synced_at,omitempty"`
	DismissedAt time.Time `json:"dismissed_at,omitempty"`
}

// Identity returns the acting identity recorded on the operation.
func (o *Operation) Identity() ActingIdentity {
	return ActingIdentity{
		ActorID:   o.ActorID,
		SubjectID: o.SubjectID,
		Proxied:   o.Proxied,
	}
}

// OperationType names the remote effect an operation applies.
type OperationType string

// Supported operation types.
const (
	OpCreateSale    OperationType = "create_sale"
	OpCreateSupply  OperationType = "create_supply"
	OpUpdateProduct OperationType = "update_product"
	OpCreateReturn  OperationType = "create_return"
	OpAddExpense    OperationType = "add_expense"
	OpUpdateVenue   OperationType = "update_venue"
)

// OperationStatus is the lifecycle state of a queued operation.
type OperationStatus string

// Status transitions only along pending -> syncing -> {done | failed} and
// failed -> pending (manual retry). Done is terminal.
const (
	StatusPending OperationStatus = "pending"
	StatusSyncing OperationStatus = "syncing"
	StatusDone    OperationStatus = "done"
	StatusFailed  OperationStatus = "failed"
)

// ActingIdentity is the authorization context an operation runs under:
// either the authenticated user itself or an impersonated subject.
type ActingIdentity struct {
	ActorID   string `json:"actor_id"`
	SubjectID string `json:"subject_id,omitempty"`
	Proxied   bool   `json:"proxied"`
}

// Self returns an identity for a user acting on their own behalf.
func Self(userID string) ActingIdentity {
	return ActingIdentity{ActorID: userID}
}

// Proxy returns an identity for an operator acting as another subject.
func Proxy(actorID, subjectID string) ActingIdentity {
	return ActingIdentity{ActorID: actorID, SubjectID: subjectID, Proxied: true}
}

// EffectiveUser is the user the remote system must authorize the
// operation against.
func (a ActingIdentity) EffectiveUser() string {
	if a.Proxied && a.SubjectID != "" {
		return a.SubjectID
	}
	return a.ActorID
}
