package repository

import (
	"context"
	"errors"
	"fmt"

	"cell-tracker-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound запись не найдена
var ErrNotFound = errors.New("record not found")

// UserFilter условия выборки пользовательских сегментаций; пустые поля не фильтруют
type UserFilter struct {
	ExpID    string
	Username string
	FrameNo  int
}

// SegmentationRepository интерфейс для работы с сегментациями кадров
type SegmentationRepository interface {
	GetSystem(ctx context.Context, expID string, frameNo int) (*model.Segmentation, error)
	GetUser(ctx context.Context, expID string, frameNo int, username string) (*model.UserSegmentation, error)
	UpsertSystem(ctx context.Context, seg *model.Segmentation) error
	UpsertUser(ctx context.Context, seg *model.UserSegmentation) error
	ListSystem(ctx context.Context, expID string) ([]*model.Segmentation, error)
	ListUser(ctx context.Context, filter UserFilter) ([]*model.UserSegmentation, error)
	DeleteUser(ctx context.Context, filter UserFilter) (int64, error)
	DeleteExperiment(ctx context.Context, expID string) error
	EditUsers(ctx context.Context, expID string) ([]string, error)
	ExperimentIDs(ctx context.Context) ([]string, error)
}

// segmentationRepository реализация SegmentationRepository
type segmentationRepository struct {
	db *gorm.DB
}

// NewSegmentationRepository создает новый instance SegmentationRepository
func NewSegmentationRepository(db *gorm.DB) SegmentationRepository {
	return &segmentationRepository{
		db: db,
	}
}

// GetSystem получает системную сегментацию кадра
func (r *segmentationRepository) GetSystem(ctx context.Context, expID string, frameNo int) (*model.Segmentation, error) {
	var seg model.Segmentation
	err := r.db.WithContext(ctx).
		Where("exp_id = ? AND frame_no = ?", expID, frameNo).
		First(&seg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("segmentation %s frame %d: %w", expID, frameNo, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get segmentation: %w", err)
	}
	return &seg, nil
}

// GetUser получает пользовательскую сегментацию кадра
func (r *segmentationRepository) GetUser(ctx context.Context, expID string, frameNo int, username string) (*model.UserSegmentation, error) {
	var seg model.UserSegmentation
	err := r.db.WithContext(ctx).
		Where("exp_id = ? AND frame_no = ? AND username = ?", expID, frameNo, username).
		First(&seg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s segmentation %s frame %d: %w", username, expID, frameNo, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user segmentation: %w", err)
	}
	return &seg, nil
}

// UpsertSystem создает или обновляет системную сегментацию по (exp_id, frame_no)
func (r *segmentationRepository) UpsertSystem(ctx context.Context, seg *model.Segmentation) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "exp_id"}, {Name: "frame_no"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "file", "updated_at"}),
	}).Create(seg).Error
	if err != nil {
		return fmt.Errorf("failed to upsert segmentation: %w", err)
	}
	return nil
}

// UpsertUser создает или обновляет пользовательскую сегментацию по (username, exp_id, frame_no)
func (r *segmentationRepository) UpsertUser(ctx context.Context, seg *model.UserSegmentation) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}, {Name: "exp_id"}, {Name: "frame_no"}},
		DoUpdates: clause.AssignmentColumns([]string{"num_edited", "data", "file", "update_time", "updated_at"}),
	}).Create(seg).Error
	if err != nil {
		return fmt.Errorf("failed to upsert user segmentation: %w", err)
	}
	return nil
}

// ListSystem получает все системные кадры эксперимента по возрастанию номера
func (r *segmentationRepository) ListSystem(ctx context.Context, expID string) ([]*model.Segmentation, error) {
	var segs []*model.Segmentation
	err := r.db.WithContext(ctx).
		Where("exp_id = ?", expID).
		Order("frame_no ASC").
		Find(&segs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list segmentations: %w", err)
	}
	return segs, nil
}

// ListUser получает пользовательские кадры по фильтру
func (r *segmentationRepository) ListUser(ctx context.Context, filter UserFilter) ([]*model.UserSegmentation, error) {
	var segs []*model.UserSegmentation
	err := applyUserFilter(r.db.WithContext(ctx), filter).
		Order("exp_id ASC, username ASC, frame_no ASC").
		Find(&segs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list user segmentations: %w", err)
	}
	return segs, nil
}

// DeleteUser удаляет пользовательские кадры по фильтру
func (r *segmentationRepository) DeleteUser(ctx context.Context, filter UserFilter) (int64, error) {
	if filter.Username == "" {
		return 0, fmt.Errorf("username is required to delete user segmentations")
	}
	result := applyUserFilter(r.db.WithContext(ctx), filter).Delete(&model.UserSegmentation{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete user segmentations: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteExperiment удаляет все данные эксперимента
func (r *segmentationRepository) DeleteExperiment(ctx context.Context, expID string) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	if err := tx.Where("exp_id = ?", expID).Delete(&model.UserSegmentation{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete user segmentations: %w", err)
	}

	if err := tx.Where("exp_id = ?", expID).Delete(&model.Segmentation{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete segmentations: %w", err)
	}

	if err := tx.Where("exp_id = ?", expID).Delete(&model.ExperimentLock{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete experiment lock: %w", err)
	}

	if err := tx.Where("id = ?", expID).Delete(&model.Experiment{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete experiment: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// EditUsers пользователи, сохранявшие правки в эксперименте
func (r *segmentationRepository) EditUsers(ctx context.Context, expID string) ([]string, error) {
	var users []string
	err := r.db.WithContext(ctx).Model(&model.UserSegmentation{}).
		Where("exp_id = ?", expID).
		Distinct().
		Order("username ASC").
		Pluck("username", &users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list edit users: %w", err)
	}
	return users, nil
}

// ExperimentIDs эксперименты, для которых есть системная сегментация
func (r *segmentationRepository) ExperimentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Segmentation{}).
		Distinct().
		Order("exp_id ASC").
		Pluck("exp_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	return ids, nil
}

func applyUserFilter(db *gorm.DB, filter UserFilter) *gorm.DB {
	if filter.ExpID != "" {
		db = db.Where("exp_id = ?", filter.ExpID)
	}
	if filter.Username != "" {
		db = db.Where("username = ?", filter.Username)
	}
	if filter.FrameNo > 0 {
		db = db.Where("frame_no = ?", filter.FrameNo)
	}
	return db
}
