package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cell-tracker-go/internal/archive"
	"cell-tracker-go/internal/model"
	"cell-tracker-go/internal/repository"
	"cell-tracker-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// SegmentationStore хранилище поверх репозиториев БД.
// Количество кадров берется из таблицы experiments, а при ее отсутствии
// вычисляется по архиву и кэшируется.
type SegmentationStore struct {
	segs    repository.SegmentationRepository
	exps    repository.ExperimentRepository
	archive archive.Store
	logger  *logrus.Logger
	now     func() time.Time
}

// NewSegmentationStore создает хранилище. archive может быть nil.
func NewSegmentationStore(
	segs repository.SegmentationRepository,
	exps repository.ExperimentRepository,
	arch archive.Store,
	logger *logrus.Logger,
) *SegmentationStore {
	return &SegmentationStore{
		segs:    segs,
		exps:    exps,
		archive: arch,
		logger:  logger,
		now:     time.Now,
	}
}

// Get двухуровневый поиск записи кадра
func (s *SegmentationStore) Get(ctx context.Context, expID string, frameNo int, username string) (Lookup, error) {
	if username != "" {
		useg, err := s.segs.GetUser(ctx, expID, frameNo, username)
		switch {
		case err == nil:
			return Lookup{Record: fromUser(useg), Tier: TierUser}, nil
		case !errors.Is(err, repository.ErrNotFound):
			return Lookup{}, err
		}
	}

	seg, err := s.segs.GetSystem(ctx, expID, frameNo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Lookup{Tier: TierNone}, nil
		}
		return Lookup{}, err
	}
	return Lookup{Record: fromSystem(seg), Tier: TierSystem}, nil
}

// GetOrSynthesizeForUser возвращает запись пользователя или копию системной
func (s *SegmentationStore) GetOrSynthesizeForUser(ctx context.Context, expID string, frameNo int, username string) (*FrameRecord, bool, error) {
	if username == "" {
		return nil, false, fmt.Errorf("username is required to synthesize a user record")
	}

	lookup, err := s.Get(ctx, expID, frameNo, username)
	if err != nil {
		return nil, false, err
	}
	switch lookup.Tier {
	case TierUser:
		return lookup.Record, false, nil
	case TierSystem:
		s.logger.Debugf("Синтезирована запись пользователя %s для %s кадр %d", username, expID, frameNo)
		return synthesize(lookup.Record, username, s.now().UTC()), true, nil
	default:
		return nil, false, fmt.Errorf("%s frame %d: %w", expID, frameNo, ErrRecordNotFound)
	}
}

// Save сохраняет запись. Для пользовательской записи пересчитывается
// num_edited и обновляется update_time.
func (s *SegmentationStore) Save(ctx context.Context, record *FrameRecord) error {
	if record.ExperimentID == "" || record.FrameNo < 1 {
		return fmt.Errorf("invalid record key %q frame %d", record.ExperimentID, record.FrameNo)
	}
	file := archive.SegmentationPath(record.ExperimentID, record.FrameNo, record.Username)

	if !record.IsUser() {
		return s.segs.UpsertSystem(ctx, &model.Segmentation{
			ExpID:   record.ExperimentID,
			FrameNo: record.FrameNo,
			Data:    nonNil(record),
			File:    file,
		})
	}

	now := s.now().UTC()
	record.NumEdited = record.Regions.CountEdited()
	record.UpdateTime = &now
	return s.segs.UpsertUser(ctx, &model.UserSegmentation{
		Username:   record.Username,
		ExpID:      record.ExperimentID,
		FrameNo:    record.FrameNo,
		NumEdited:  record.NumEdited,
		Data:       nonNil(record),
		File:       file,
		UpdateTime: record.UpdateTime,
	})
}

// FrameCount количество кадров эксперимента или -1
func (s *SegmentationStore) FrameCount(ctx context.Context, expID string) (int, error) {
	exp, err := s.exps.Get(ctx, expID)
	if err == nil {
		return exp.FrameCount, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return 0, err
	}

	count, err := s.countFromArchive(ctx, expID)
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return -1, nil
	}

	if err := s.SetFrameCount(ctx, expID, count); err != nil {
		s.logger.Warnf("Не удалось сохранить количество кадров %s: %v", expID, err)
	}
	return count, nil
}

// SetFrameCount сохраняет количество кадров эксперимента
func (s *SegmentationStore) SetFrameCount(ctx context.Context, expID string, count int) error {
	return s.exps.Upsert(ctx, &model.Experiment{ID: expID, FrameCount: count})
}

// countFromArchive считает кадры по изображениям, затем по документам сегментации
func (s *SegmentationStore) countFromArchive(ctx context.Context, expID string) (int, error) {
	if s.archive == nil {
		return -1, nil
	}

	images, err := s.archive.List(ctx, archive.ImageDir(expID))
	switch {
	case err == nil && len(images) > 0:
		return len(images), nil
	case err != nil && !errors.Is(err, archive.ErrNotExist):
		return 0, fmt.Errorf("failed to list images of %s: %w", expID, err)
	}

	docs, err := s.archive.List(ctx, archive.SegmentationDir(expID, ""))
	if err != nil {
		if errors.Is(err, archive.ErrNotExist) {
			return -1, nil
		}
		return 0, fmt.Errorf("failed to list segmentation of %s: %w", expID, err)
	}
	maxFrame := 0
	for _, name := range docs {
		if n, ok := archive.ParseFrameFileName(name); ok && n > maxFrame {
			maxFrame = n
		}
	}
	if maxFrame == 0 {
		return -1, nil
	}
	return maxFrame, nil
}

// ListSystemFrames все системные записи эксперимента по возрастанию кадра
func (s *SegmentationStore) ListSystemFrames(ctx context.Context, expID string) ([]*FrameRecord, error) {
	segs, err := s.segs.ListSystem(ctx, expID)
	if err != nil {
		return nil, err
	}
	out := make([]*FrameRecord, 0, len(segs))
	for _, seg := range segs {
		out = append(out, fromSystem(seg))
	}
	return out, nil
}

// ListUserFrames пользовательские записи по фильтру
func (s *SegmentationStore) ListUserFrames(ctx context.Context, filter repository.UserFilter) ([]*FrameRecord, error) {
	segs, err := s.segs.ListUser(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*FrameRecord, 0, len(segs))
	for _, seg := range segs {
		out = append(out, fromUser(seg))
	}
	return out, nil
}

// DeleteUserFrames удаляет пользовательские записи по фильтру
func (s *SegmentationStore) DeleteUserFrames(ctx context.Context, filter repository.UserFilter) (int64, error) {
	return s.segs.DeleteUser(ctx, filter)
}

// DeleteExperiment удаляет все записи эксперимента
func (s *SegmentationStore) DeleteExperiment(ctx context.Context, expID string) error {
	return s.segs.DeleteExperiment(ctx, expID)
}

// ExperimentIDs эксперименты с системной сегментацией
func (s *SegmentationStore) ExperimentIDs(ctx context.Context) ([]string, error) {
	return s.segs.ExperimentIDs(ctx)
}

// EditUsers пользователи с правками в эксперименте
func (s *SegmentationStore) EditUsers(ctx context.Context, expID string) ([]string, error) {
	return s.segs.EditUsers(ctx, expID)
}

func fromSystem(seg *model.Segmentation) *FrameRecord {
	return &FrameRecord{
		ExperimentID: seg.ExpID,
		FrameNo:      seg.FrameNo,
		Regions:      seg.Data,
	}
}

func fromUser(seg *model.UserSegmentation) *FrameRecord {
	return &FrameRecord{
		ExperimentID: seg.ExpID,
		FrameNo:      seg.FrameNo,
		Username:     seg.Username,
		Regions:      seg.Data,
		NumEdited:    seg.NumEdited,
		UpdateTime:   seg.UpdateTime,
	}
}

func nonNil(record *FrameRecord) models.Regions {
	if record.Regions == nil {
		return models.Regions{}
	}
	return record.Regions
}
