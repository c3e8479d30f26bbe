// internal/storage/models/base.go

package models

import "time"

// BaseModel carries the bookkeeping columns shared by every table. Rows are
// keyed by the domain id rather than a serial.
type BaseModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time
}
