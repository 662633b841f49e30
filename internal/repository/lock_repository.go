package repository

import (
	"context"
	"errors"
	"fmt"

	"cell-tracker-go/internal/model"

	"gorm.io/gorm"
)

// LockRepository интерфейс для работы с блокировками экспериментов
type LockRepository interface {
	Get(ctx context.Context, expID string) (*model.ExperimentLock, error)
	// Replace атомарно снимает блокировки пользователя и ставит новую
	Replace(ctx context.Context, lock *model.ExperimentLock) error
	Delete(ctx context.Context, expID string) error
	DeleteByUser(ctx context.Context, username string) (int64, error)
}

// lockRepository реализация LockRepository
type lockRepository struct {
	db *gorm.DB
}

// NewLockRepository создает новый instance LockRepository
func NewLockRepository(db *gorm.DB) LockRepository {
	return &lockRepository{db: db}
}

// Get получает блокировку эксперимента
func (r *lockRepository) Get(ctx context.Context, expID string) (*model.ExperimentLock, error) {
	var lock model.ExperimentLock
	err := r.db.WithContext(ctx).Where("exp_id = ?", expID).First(&lock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lock for %s: %w", expID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}
	return &lock, nil
}

// Replace снимает остальные блокировки пользователя и сохраняет новую
func (r *lockRepository) Replace(ctx context.Context, lock *model.ExperimentLock) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	if err := tx.Where("locked_user = ? AND exp_id <> ?", lock.LockedUser, lock.ExpID).
		Delete(&model.ExperimentLock{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to release previous locks: %w", err)
	}

	if err := tx.Save(lock).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save lock: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete снимает блокировку эксперимента
func (r *lockRepository) Delete(ctx context.Context, expID string) error {
	if err := r.db.WithContext(ctx).Where("exp_id = ?", expID).Delete(&model.ExperimentLock{}).Error; err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	return nil
}

// DeleteByUser снимает все блокировки пользователя
func (r *lockRepository) DeleteByUser(ctx context.Context, username string) (int64, error) {
	result := r.db.WithContext(ctx).Where("locked_user = ?", username).Delete(&model.ExperimentLock{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete user locks: %w", result.Error)
	}
	return result.RowsAffected, nil
}
