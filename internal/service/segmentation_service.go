package service

import (
	"context"
	"errors"
	"fmt"

	"cell-tracker-go/internal/lock"
	"cell-tracker-go/internal/metrics"
	"cell-tracker-go/internal/queue"
	"cell-tracker-go/internal/store"
	"cell-tracker-go/internal/tracking"
	"cell-tracker-go/internal/users"
	"cell-tracker-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrNotPowerUser операция доступна только power-пользователю
var ErrNotPowerUser = errors.New("user is not a power user")

// ArchiveSyncer запись документов кадра в архив
type ArchiveSyncer interface {
	SyncFrame(ctx context.Context, expID, username string, frameNo int, regions models.Regions) (string, error)
	SyncPowerUserEdit(ctx context.Context, expID, username string, frameNo int, regions models.Regions) error
}

// SegmentationService чтение и сохранение правок сегментации
type SegmentationService struct {
	store  store.Store
	syncer ArchiveSyncer
	locks  *lock.Manager
	users  users.Directory
	queue  queue.Queue
	logger *logrus.Logger
}

// NewSegmentationService создает новый сервис сегментации. queue может быть nil.
func NewSegmentationService(
	st store.Store,
	syncer ArchiveSyncer,
	locks *lock.Manager,
	dir users.Directory,
	q queue.Queue,
	logger *logrus.Logger,
) *SegmentationService {
	return &SegmentationService{
		store:  st,
		syncer: syncer,
		locks:  locks,
		users:  dir,
		queue:  q,
		logger: logger,
	}
}

// GetSegmentation возвращает сегментацию кадра: правку пользователя или системную
func (s *SegmentationService) GetSegmentation(ctx context.Context, expID string, frameNo int, username string) (*SegmentationResponse, error) {
	if err := s.checkFrame(ctx, expID, frameNo); err != nil {
		return nil, err
	}

	lookup, err := s.store.Get(ctx, expID, frameNo, username)
	if err != nil {
		s.logger.Errorf("Ошибка чтения сегментации %s кадр %d: %v", expID, frameNo, err)
		return nil, fmt.Errorf("failed to get segmentation: %w", err)
	}
	if !lookup.Found() {
		return nil, fmt.Errorf("%s frame %d: %w", expID, frameNo, store.ErrRecordNotFound)
	}

	rec := lookup.Record
	regions := rec.Regions
	if regions == nil {
		regions = models.Regions{}
	}
	return &SegmentationResponse{
		ExperimentID: expID,
		FrameNo:      frameNo,
		Username:     rec.Username,
		Source:       lookup.Tier.String(),
		NumEdited:    rec.NumEdited,
		UpdateTime:   rec.UpdateTime,
		Regions:      regions,
	}, nil
}

// SaveSegmentation сохраняет правку пользователя и ставит задачу трекинга.
// Правка power-пользователя также перезаписывает системную сегментацию
// и требует, чтобы эксперимент не был заблокирован другим пользователем.
func (s *SegmentationService) SaveSegmentation(ctx context.Context, expID string, frameNo int, req SaveSegmentationRequest) (*SaveSegmentationResponse, error) {
	s.logger.Infof("Сохраняем правку пользователя %s: эксперимент %s кадр %d", req.Username, expID, frameNo)

	valid, err := s.users.ValidateUser(ctx, req.Username)
	if err != nil || !valid {
		s.logger.Warnf("Пользователь %s не прошел проверку", req.Username)
		return nil, fmt.Errorf("%s: %w", req.Username, tracking.ErrInvalidUser)
	}
	if err := s.checkFrame(ctx, expID, frameNo); err != nil {
		return nil, err
	}

	power, err := s.users.IsPowerUser(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to get user role: %w", err)
	}
	if power {
		ok, err := s.locks.CanEdit(ctx, expID, req.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to check lock: %w", err)
		}
		if !ok {
			s.logger.Warnf("Эксперимент %s заблокирован, правка %s отклонена", expID, req.Username)
			return nil, fmt.Errorf("%s: %w", expID, lock.ErrLockedByOther)
		}
		if err := s.locks.Acquire(ctx, expID, req.Username); err != nil {
			s.logger.Warnf("Эксперимент %s недоступен для %s: %v", expID, req.Username, err)
			return nil, err
		}
	}

	regions, dropped := models.Sanitize(req.Regions)
	if len(dropped) > 0 {
		metrics.DroppedRegions.Add(float64(len(dropped)))
		s.logger.Warnf("Отброшены некорректные регионы %v в %s кадр %d", dropped, expID, frameNo)
	}

	record := &store.FrameRecord{
		ExperimentID: expID,
		FrameNo:      frameNo,
		Username:     req.Username,
		Regions:      regions,
	}
	if err := s.store.Save(ctx, record); err != nil {
		s.logger.Errorf("Ошибка сохранения правки в БД: %v", err)
		return nil, fmt.Errorf("failed to save user segmentation: %w", err)
	}

	resp := &SaveSegmentationResponse{
		Status:       "success",
		ExperimentID: expID,
		FrameNo:      frameNo,
		NumEdited:    record.NumEdited,
		Dropped:      dropped,
	}

	if power {
		system := &store.FrameRecord{ExperimentID: expID, FrameNo: frameNo, Regions: regions.Clone()}
		if err := s.store.Save(ctx, system); err != nil {
			s.logger.Errorf("Ошибка перезаписи системной сегментации: %v", err)
			return s.partial(resp, "Правка сохранена, системная сегментация не обновлена: %v", err), nil
		}
		resp.SystemUpdated = true
		if err := s.syncer.SyncPowerUserEdit(ctx, expID, req.Username, frameNo, regions); err != nil {
			return s.partial(resp, "Правка сохранена, ошибка синхронизации с архивом: %v", err), nil
		}
	} else {
		file, err := s.syncer.SyncFrame(ctx, expID, req.Username, frameNo, regions)
		if err != nil {
			return s.partial(resp, "Правка сохранена, ошибка синхронизации с архивом: %v", err), nil
		}
		resp.File = file
	}

	if s.queue != nil {
		task := queue.NewTask(expID, req.Username, frameNo)
		if err := s.queue.Enqueue(ctx, task); err != nil {
			return s.partial(resp, "Правка сохранена, задача трекинга не поставлена: %v", err), nil
		}
		resp.TrackingQueued = true
		s.logger.Infof("Поставлена задача трекинга %s", task.ID)
	}

	resp.Message = "Правка сохранена"
	return resp, nil
}

func (s *SegmentationService) partial(resp *SaveSegmentationResponse, format string, args ...interface{}) *SaveSegmentationResponse {
	resp.Status = "error"
	resp.Message = fmt.Sprintf(format, args...)
	s.logger.Error(resp.Message)
	return resp
}

// LockStatus состояние блокировки эксперимента
func (s *SegmentationService) LockStatus(ctx context.Context, expID string) (*LockResponse, error) {
	locked, holder, err := s.locks.IsLocked(ctx, expID)
	if err != nil {
		return nil, fmt.Errorf("failed to check lock: %w", err)
	}
	return &LockResponse{ExperimentID: expID, Locked: locked, LockedUser: holder}, nil
}

// Lock блокирует эксперимент для power-пользователя
func (s *SegmentationService) Lock(ctx context.Context, expID, username string) (*LockResponse, error) {
	power, err := s.users.IsPowerUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get user role: %w", err)
	}
	if !power {
		return nil, fmt.Errorf("%s: %w", username, ErrNotPowerUser)
	}
	if err := s.locks.Acquire(ctx, expID, username); err != nil {
		return nil, err
	}
	return &LockResponse{ExperimentID: expID, Locked: true, LockedUser: username}, nil
}

// ReleaseLocks снимает все блокировки пользователя
func (s *SegmentationService) ReleaseLocks(ctx context.Context, username string) (int64, error) {
	n, err := s.locks.ReleaseAllForUser(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("failed to release locks: %w", err)
	}
	return n, nil
}

func (s *SegmentationService) checkFrame(ctx context.Context, expID string, frameNo int) error {
	fc, err := s.store.FrameCount(ctx, expID)
	if err != nil {
		return fmt.Errorf("failed to get frame count: %w", err)
	}
	if fc < 0 {
		return fmt.Errorf("%s: %w", expID, tracking.ErrExperimentNotFound)
	}
	if frameNo < 1 || frameNo > fc {
		return fmt.Errorf("frame %d of %d: %w", frameNo, fc, tracking.ErrFrameOutOfRange)
	}
	return nil
}
