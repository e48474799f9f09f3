package sqlite

import (
	"time"

	"github.com/shopspring/decimal"
)

type eventModel struct {
	Sequence      uint64    `gorm:"autoIncrement;primaryKey"`
	ID            string    `gorm:"uniqueIndex;not null"`
	AggregateID   string    `gorm:"uniqueIndex:idx_events_aggregate_version;not null"`
	AggregateType string    `gorm:"not null"`
	Version       int64     `gorm:"uniqueIndex:idx_events_aggregate_version;not null"`
	EventType     string    `gorm:"not null"`
	Payload       []byte    `gorm:"not null"`
	OccurredAt    time.Time `gorm:"not null"`
}

func (eventModel) TableName() string { return "events" }

type outboxModel struct {
	ID            string     `gorm:"primaryKey"`
	MessageType   string     `gorm:"not null"`
	Payload       []byte     `gorm:"not null"`
	CreatedAt     time.Time  `gorm:"index:idx_outbox_pending,priority:2;autoCreateTime:false;not null"`
	ProcessedAt   *time.Time `gorm:"index:idx_outbox_pending,priority:1"`
	LastError     *string
	Attempts      int `gorm:"not null;default:0"`
	NextAttemptAt *time.Time
}

func (outboxModel) TableName() string { return "outbox" }

type accountViewModel struct {
	ID            string          `gorm:"primaryKey"`
	OwnerID       string          `gorm:"index;not null"`
	AccountNumber string          `gorm:"uniqueIndex;not null"`
	Currency      string          `gorm:"not null"`
	Balance       decimal.Decimal `gorm:"type:text;not null"`
	Status        string          `gorm:"not null"`
	Version       int64           `gorm:"not null"`
	CreatedAt     time.Time       `gorm:"autoCreateTime:false;not null"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime:false;not null"`
}

func (accountViewModel) TableName() string { return "account_views" }
