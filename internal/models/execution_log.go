package models

import (
	"time"

	"gorm.io/gorm"
)

// Execution outcomes recorded in the execution log.
const (
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
	ExecutionTimedOut  = "timed_out"
)

// ExecutionLog records one code run requested through the broker.
type ExecutionLog struct {
	gorm.Model
	RoomID     string    `gorm:"not null;index" json:"roomId"`
	ExecutedBy string    `gorm:"not null;index" json:"executedBy"`
	FilePath   string    `json:"filePath"`
	Language   string    `json:"language"`
	SourceCode string    `gorm:"type:text" json:"sourceCode"`
	Stdout     string    `gorm:"type:text" json:"stdout"`
	Stderr     string    `gorm:"type:text" json:"stderr"`
	ExitCode   int       `json:"exitCode"`
	Status     string    `gorm:"not null" json:"status"`
	TimeMs     int64     `json:"timeMs"`
	MemoryKB   int64     `json:"memoryKb"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}
