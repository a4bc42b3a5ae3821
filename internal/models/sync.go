package models

import (
	"time"

	"gorm.io/datatypes"
)

// EntityKind identifies which table a queue entry belongs to.
type EntityKind string

const (
	EntityUser        EntityKind = "user"
	EntitySignalement EntityKind = "signalement"
)

// SyncAction is the pending mutation type captured at enqueue time.
type SyncAction string

const (
	ActionCreate SyncAction = "CREATE"
	ActionUpdate SyncAction = "UPDATE"
	ActionDelete SyncAction = "DELETE"
)

// QueueStatus is the lifecycle of a queue entry. PROCESSING is the claim
// state: a drain flips PENDING rows to PROCESSING before dispatching so two
// concurrent drains cannot pick up the same row.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "PENDING"
	QueueStatusProcessing QueueStatus = "PROCESSING"
	QueueStatusDone       QueueStatus = "DONE"
	QueueStatusFailed     QueueStatus = "FAILED"
)

// SyncQueueEntry is one durable pending mutation awaiting delivery to the
// remote provider. Rows are append-only and never deleted (audit trail).
type SyncQueueEntry struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Entity    EntityKind     `gorm:"size:20;not null;index" json:"entity"`
	EntityID  string         `gorm:"size:64;not null;index" json:"entity_id"`
	Action    SyncAction     `gorm:"size:10;not null" json:"action"`
	Payload   datatypes.JSON `json:"payload"`
	Status    QueueStatus    `gorm:"size:12;default:'PENDING';index" json:"status"`
	Retries   int            `gorm:"default:0" json:"retries"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (SyncQueueEntry) TableName() string { return "sync_queue" }

// SyncDirection of a log row: push (local to remote) or pull (remote to local).
type SyncDirection string

const (
	DirectionPush SyncDirection = "push"
	DirectionPull SyncDirection = "pull"
)

// SyncOutcome of one sync attempt.
type SyncOutcome string

const (
	SyncOutcomeSuccess SyncOutcome = "SUCCESS"
	SyncOutcomeFailed  SyncOutcome = "FAILED"
)

// SyncLogEntry is the write-once audit record of one push or pull attempt.
type SyncLogEntry struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	Direction SyncDirection `gorm:"size:10;not null" json:"direction"`
	Entity    EntityKind    `gorm:"size:20;not null" json:"entity"`
	Status    SyncOutcome   `gorm:"size:10;not null" json:"status"`
	Error     string        `gorm:"type:text" json:"error"`
	CreatedAt time.Time     `json:"created_at"`
}

func (SyncLogEntry) TableName() string { return "sync_log" }
