// Package queue is the durable store of VRF requests: their lifecycle
// state, retry bookkeeping, and the skip-locked dequeue that lets many
// engine processes share one table contention-free.
package queue

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFulfilled  Status = "fulfilled"
	StatusFailed     Status = "failed"
)

// Request is one row of the request table. Column tags are for sqlx's
// StructScan; gorm reads the same struct for schema migration via
// AutoMigrate's tag conventions below.
type Request struct {
	RequestID           string     `db:"request_id" gorm:"column:request_id;primaryKey;type:char(66)"`
	ContractAddress     string     `db:"contract_address" gorm:"column:contract_address;type:char(42);not null"`
	Status              Status     `db:"status" gorm:"column:status;type:text;not null;default:pending;index"`
	CreatedAt           time.Time  `db:"created_at" gorm:"column:created_at;not null;autoCreateTime;index"`
	UpdatedAt           time.Time  `db:"updated_at" gorm:"column:updated_at;not null;autoUpdateTime"`
	ProcessingStartedAt *time.Time `db:"processing_started_at" gorm:"column:processing_started_at"`
	FulfilledAt         *time.Time `db:"fulfilled_at" gorm:"column:fulfilled_at"`
	RetryCount          int        `db:"retry_count" gorm:"column:retry_count;not null;default:0"`
	MaxRetries          int        `db:"max_retries" gorm:"column:max_retries;not null;default:5"`
	LastError           *string    `db:"last_error" gorm:"column:last_error"`
	Network             string     `db:"network" gorm:"column:network;type:text;not null"`
}

func (Request) TableName() string { return "vrf_requests" }
