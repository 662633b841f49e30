package repository

import (
	"context"
	"errors"
	"fmt"

	"cell-tracker-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExperimentRepository интерфейс для работы с экспериментами
type ExperimentRepository interface {
	Get(ctx context.Context, id string) (*model.Experiment, error)
	Upsert(ctx context.Context, exp *model.Experiment) error
	List(ctx context.Context) ([]*model.Experiment, error)
}

// experimentRepository реализация ExperimentRepository
type experimentRepository struct {
	db *gorm.DB
}

// NewExperimentRepository создает новый instance ExperimentRepository
func NewExperimentRepository(db *gorm.DB) ExperimentRepository {
	return &experimentRepository{db: db}
}

// Get получает эксперимент по ID
func (r *experimentRepository) Get(ctx context.Context, id string) (*model.Experiment, error) {
	var exp model.Experiment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&exp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("experiment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return &exp, nil
}

// Upsert создает или обновляет количество кадров эксперимента
func (r *experimentRepository) Upsert(ctx context.Context, exp *model.Experiment) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"frame_count", "updated_at"}),
	}).Create(exp).Error
	if err != nil {
		return fmt.Errorf("failed to upsert experiment: %w", err)
	}
	return nil
}

// List получает все эксперименты
func (r *experimentRepository) List(ctx context.Context) ([]*model.Experiment, error) {
	var exps []*model.Experiment
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&exps).Error; err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	return exps, nil
}
