package repositories

import (
	"errors"

	"gorm.io/gorm"

	"codesync/internal/models"
)

var ErrExecutionNotFound = errors.New("execution log not found")

const DefaultListLimit = 50

type ExecutionLogRepository struct {
	DB *gorm.DB
}

func (r *ExecutionLogRepository) Create(entry *models.ExecutionLog) error {
	return r.DB.Create(entry).Error
}

// ListByRoom returns the room's most recent executions, newest first.
func (r *ExecutionLogRepository) ListByRoom(roomID string, limit int) ([]models.ExecutionLog, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	logs := []models.ExecutionLog{}
	err := r.DB.
		Where("room_id = ?", roomID).
		Order("started_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

func (r *ExecutionLogRepository) GetByID(id uint) (*models.ExecutionLog, error) {
	var entry models.ExecutionLog
	err := r.DB.First(&entry, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
