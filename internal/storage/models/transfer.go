// internal/storage/models/transfer.go

package models

import (
	"time"

	"github.com/rovshanmuradov/solver-engine/internal/condition"
	"github.com/rovshanmuradov/solver-engine/internal/types"
)

type Transfer struct {
	BaseModel
	Owner       string                `gorm:"not null;type:varchar(64)"`
	OwnerKey    string                `gorm:"not null;index;type:varchar(64)"`
	Recipient   string                `gorm:"not null;type:varchar(64)"`
	SrcToken    string                `gorm:"not null;type:varchar(64)"`
	DestToken   string                `gorm:"not null;type:varchar(64)"`
	Amount      types.BigInt          `gorm:"not null;type:numeric"`
	Fee         types.BigInt          `gorm:"not null;type:numeric"`
	DestChainID types.BigInt          `gorm:"not null;type:numeric"`
	Conditions  []condition.Condition `gorm:"not null;serializer:json;type:jsonb"`
	MaxWaitMs   int64                 `gorm:"not null"`
	Priority    int                   `gorm:"not null;default:5"`

	Status          string  `gorm:"not null;index;type:varchar(16)"`
	RequestID       *string `gorm:"type:char(66)"`
	ConditionsMetAt *time.Time
	FulfilledAt     *time.Time
	ExpiredAt       *time.Time
	CancelledAt     *time.Time
}

func (Transfer) TableName() string {
	return "conditional_transfers"
}
