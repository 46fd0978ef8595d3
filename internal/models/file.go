package models

import (
	"time"
)

// File is one stored binary artifact. Rows are written once by the ingestion
// service and never mutated.
type File struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Path         string    `json:"path" gorm:"size:500;not null"`                     // storage locator
	Type         string    `json:"type" gorm:"size:100;not null"`                     // declared MIME type
	OriginalName string    `json:"originalName" gorm:"size:255;not null"`             // client supplied, display only
	ModifiedName string    `json:"modifiedName" gorm:"size:255;uniqueIndex;not null"` // uuid based
	CreatedAt    time.Time `json:"createdAt" gorm:"autoCreateTime"`
}
