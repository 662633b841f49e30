package service

import (
	"context"
	"errors"
	"fmt"

	"cell-tracker-go/internal/queue"
	"cell-tracker-go/internal/tracking"

	"github.com/sirupsen/logrus"
)

// taskAttempts число попыток задачи при ошибке записи кадра
const taskAttempts = 3

// ExperimentLister источник идентификаторов экспериментов
type ExperimentLister interface {
	ExperimentIDs(ctx context.Context) ([]string, error)
}

// TrackingService запуск трекинга по запросу, из очереди и для всех экспериментов
type TrackingService struct {
	engine      *tracking.Engine
	experiments ExperimentLister
	logger      *logrus.Logger
}

// NewTrackingService создает новый сервис трекинга
func NewTrackingService(engine *tracking.Engine, experiments ExperimentLister, logger *logrus.Logger) *TrackingService {
	return &TrackingService{
		engine:      engine,
		experiments: experiments,
		logger:      logger,
	}
}

// AddTracking пересчитывает связи эксперимента. frameNo 0 означает весь эксперимент.
func (s *TrackingService) AddTracking(ctx context.Context, expID, username string, frameNo int) (*TrackingResponse, error) {
	res, err := s.engine.Run(ctx, tracking.Request{
		ExperimentID: expID,
		Username:     username,
		TargetFrame:  frameNo,
	})
	if res == nil {
		return nil, err
	}

	resp := &TrackingResponse{
		Status:       "success",
		ExperimentID: expID,
		FrameCount:   res.FrameCount,
		Frames:       res.Audit,
		Saved:        res.Saved,
		Skipped:      res.Skipped,
	}
	if err != nil {
		resp.Status = "error"
		resp.Message = err.Error()
		if res.Pending != nil {
			resp.PendingFrame = res.Pending.FrameNo
			s.logger.Errorf("Связи кадра %d эксперимента %s вычислены, но не сохранены: %v", res.Pending.FrameNo, expID, err)
		}
		return resp, err
	}
	if len(res.Skipped) > 0 {
		resp.Message = fmt.Sprintf("Пропущено пар кадров: %d", len(res.Skipped))
	}
	return resp, nil
}

// HandleTask обработчик задачи из очереди. Задачи с невалидными данными
// не повторяются, ошибки записи повторяются до taskAttempts раз.
func (s *TrackingService) HandleTask(ctx context.Context, task queue.Task) error {
	s.logger.Infof("Задача трекинга %s: %s пользователь %q кадр %d", task.ID, task.ExperimentID, task.Username, task.FrameNo)

	var err error
	for attempt := 1; attempt <= taskAttempts; attempt++ {
		_, err = s.AddTracking(ctx, task.ExperimentID, task.Username, task.FrameNo)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, tracking.ErrExperimentNotFound),
			errors.Is(err, tracking.ErrInvalidUser),
			errors.Is(err, tracking.ErrFrameOutOfRange):
			s.logger.Warnf("Задача %s отброшена: %v", task.ID, err)
			return nil
		case !errors.Is(err, tracking.ErrPersistence):
			return err
		}
		s.logger.Warnf("Задача %s, попытка %d из %d: %v", task.ID, attempt, taskAttempts, err)
	}
	return err
}

// TrackAll выполняет полный трекинг всех экспериментов. Ошибка одного
// эксперимента не останавливает остальные.
func (s *TrackingService) TrackAll(ctx context.Context, username string) (map[string]error, error) {
	ids, err := s.experiments.ExperimentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}

	failed := make(map[string]error)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if _, err := s.AddTracking(ctx, id, username, 0); err != nil {
			s.logger.Errorf("Ошибка трекинга эксперимента %s: %v", id, err)
			failed[id] = err
		}
	}
	s.logger.Infof("Трекинг выполнен для %d экспериментов, ошибок %d", len(ids), len(failed))
	return failed, nil
}
