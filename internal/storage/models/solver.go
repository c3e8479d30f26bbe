// internal/storage/models/solver.go

package models

import (
	"github.com/rovshanmuradov/solver-engine/internal/solver"
	"github.com/rovshanmuradov/solver-engine/internal/types"
)

type Solver struct {
	BaseModel
	Name   string        `gorm:"not null;type:varchar(100)"`
	Config solver.Config `gorm:"not null;serializer:json;type:jsonb"`
	Status string        `gorm:"not null;index;type:varchar(16)"`

	TradesExecuted uint64       `gorm:"not null;default:0"`
	TotalVolume    types.BigInt `gorm:"not null;type:numeric;default:0"`
	AverageRisk    float64      `gorm:"not null;default:0"`
	UptimeMs       int64        `gorm:"not null;default:0"`
	LastError      string       `gorm:"type:text"`
}

func (Solver) TableName() string {
	return "solvers"
}
