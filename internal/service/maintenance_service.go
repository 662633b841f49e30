package service

import (
	"context"
	"errors"
	"fmt"
	"path"

	"cell-tracker-go/internal/archive"
	"cell-tracker-go/internal/metrics"
	"cell-tracker-go/internal/repository"
	"cell-tracker-go/internal/store"
	"cell-tracker-go/internal/tracking"
	"cell-tracker-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrUsernameRequired операция требует имя пользователя
var ErrUsernameRequired = errors.New("username is required")

// MaintenanceStore операции хранилища для обслуживания данных
type MaintenanceStore interface {
	store.Store
	SetFrameCount(ctx context.Context, expID string, count int) error
	ListSystemFrames(ctx context.Context, expID string) ([]*store.FrameRecord, error)
	ListUserFrames(ctx context.Context, filter repository.UserFilter) ([]*store.FrameRecord, error)
	DeleteUserFrames(ctx context.Context, filter repository.UserFilter) (int64, error)
	DeleteExperiment(ctx context.Context, expID string) error
	ExperimentIDs(ctx context.Context) ([]string, error)
	EditUsers(ctx context.Context, expID string) ([]string, error)
}

// FrameArchive чтение и удаление документов кадров в архиве
type FrameArchive interface {
	ReadFrame(ctx context.Context, expID, username string, frameNo int) (models.Regions, error)
	DeleteFrame(ctx context.Context, expID, username string, frameNo int) error
}

// MaintenanceService проверка и исправление данных сегментации
type MaintenanceService struct {
	store   MaintenanceStore
	archive archive.Store
	frames  FrameArchive
	logger  *logrus.Logger
}

// NewMaintenanceService создает новый сервис обслуживания
func NewMaintenanceService(st MaintenanceStore, arch archive.Store, frames FrameArchive, logger *logrus.Logger) *MaintenanceService {
	return &MaintenanceService{
		store:   st,
		archive: arch,
		frames:  frames,
		logger:  logger,
	}
}

// CheckLinks находит link_id, которых нет среди регионов предыдущего кадра.
// Пользовательские кадры проверяются по предыдущему кадру пользователя,
// а при его отсутствии по системному.
func (s *MaintenanceService) CheckLinks(ctx context.Context, expID string) (*LinkReport, error) {
	fc, err := s.store.FrameCount(ctx, expID)
	if err != nil {
		return nil, fmt.Errorf("failed to get frame count: %w", err)
	}
	if fc < 0 {
		return nil, fmt.Errorf("%s: %w", expID, tracking.ErrExperimentNotFound)
	}

	report := &LinkReport{ExperimentID: expID, Issues: []LinkIssue{}}

	system, err := s.store.ListSystemFrames(ctx, expID)
	if err != nil {
		return nil, fmt.Errorf("failed to list system frames: %w", err)
	}
	ids := make(map[int]map[string]bool, len(system))
	for _, rec := range system {
		ids[rec.FrameNo] = idSet(rec.Regions)
	}
	for _, rec := range system {
		prev, ok := ids[rec.FrameNo-1]
		source := store.TierSystem.String()
		if !ok {
			source = store.TierNone.String()
		}
		report.Issues = append(report.Issues, danglingLinks(rec, prev, source)...)
		report.FramesChecked++
	}

	edits, err := s.store.ListUserFrames(ctx, repository.UserFilter{ExpID: expID})
	if err != nil {
		return nil, fmt.Errorf("failed to list user frames: %w", err)
	}
	for _, rec := range edits {
		var prev map[string]bool
		source := store.TierNone.String()
		if rec.FrameNo > 1 {
			lookup, err := s.store.Get(ctx, expID, rec.FrameNo-1, rec.Username)
			if err != nil {
				return nil, fmt.Errorf("failed to load frame %d: %w", rec.FrameNo-1, err)
			}
			if lookup.Found() {
				prev = idSet(lookup.Record.Regions)
			}
			source = lookup.Tier.String()
		}
		report.Issues = append(report.Issues, danglingLinks(rec, prev, source)...)
		report.FramesChecked++
	}

	if len(report.Issues) > 0 {
		s.logger.Warnf("В эксперименте %s найдено некорректных связей: %d", expID, len(report.Issues))
	}
	return report, nil
}

// CheckAllLinks проверяет связи во всех экспериментах
func (s *MaintenanceService) CheckAllLinks(ctx context.Context) ([]*LinkReport, error) {
	ids, err := s.store.ExperimentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	reports := make([]*LinkReport, 0, len(ids))
	for _, id := range ids {
		r, err := s.CheckLinks(ctx, id)
		if err != nil {
			s.logger.Errorf("Ошибка проверки связей %s: %v", id, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func idSet(rs models.Regions) map[string]bool {
	set := make(map[string]bool, len(rs))
	for _, r := range rs {
		set[r.ID] = true
	}
	return set
}

// danglingLinks link_id записи, отсутствующие в prev. nil prev означает,
// что предыдущего кадра нет и любая связь некорректна.
func danglingLinks(rec *store.FrameRecord, prev map[string]bool, source string) []LinkIssue {
	var issues []LinkIssue
	for _, r := range rec.Regions {
		if !r.HasLink() || prev[*r.LinkID] {
			continue
		}
		issues = append(issues, LinkIssue{
			ExperimentID: rec.ExperimentID,
			Username:     rec.Username,
			FrameNo:      rec.FrameNo,
			RegionID:     r.ID,
			LinkID:       *r.LinkID,
			PrevSource:   source,
		})
	}
	return issues
}

// CheckRegions ищет в документах архива полигоны с менее чем тремя вершинами
func (s *MaintenanceService) CheckRegions(ctx context.Context, expID string) ([]RegionIssue, error) {
	editors, err := s.store.EditUsers(ctx, expID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edit users: %w", err)
	}

	issues := []RegionIssue{}
	for _, username := range append([]string{""}, editors...) {
		dir := archive.SegmentationDir(expID, username)
		names, err := s.archive.List(ctx, dir)
		if err != nil {
			if errors.Is(err, archive.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, name := range names {
			frameNo, ok := archive.ParseFrameFileName(name)
			if !ok {
				continue
			}
			full := path.Join(dir, name)
			regions, err := s.frames.ReadFrame(ctx, expID, username, frameNo)
			if err != nil {
				s.logger.Warnf("Документ %s не прочитан: %v", full, err)
				continue
			}
			for _, r := range regions {
				if !r.Valid() {
					issues = append(issues, RegionIssue{Path: full, RegionID: r.ID, Vertices: len(r.Vertices)})
				}
			}
		}
	}
	return issues, nil
}

// FixNumEdited пересчитывает num_edited пользовательских записей.
// Пустой expID означает все эксперименты.
func (s *MaintenanceService) FixNumEdited(ctx context.Context, expID string) ([]NumEditedFix, error) {
	records, err := s.store.ListUserFrames(ctx, repository.UserFilter{ExpID: expID})
	if err != nil {
		return nil, fmt.Errorf("failed to list user frames: %w", err)
	}

	fixes := []NumEditedFix{}
	for _, rec := range records {
		want := rec.Regions.CountEdited()
		if want == rec.NumEdited {
			continue
		}
		fix := NumEditedFix{
			ExperimentID: rec.ExperimentID,
			Username:     rec.Username,
			FrameNo:      rec.FrameNo,
			Old:          rec.NumEdited,
			New:          want,
		}
		if err := s.store.Save(ctx, rec); err != nil {
			return fixes, fmt.Errorf("failed to save %s/%s frame %d: %w", rec.ExperimentID, rec.Username, rec.FrameNo, err)
		}
		fixes = append(fixes, fix)
	}
	s.logger.Infof("Исправлено значений num_edited: %d", len(fixes))
	return fixes, nil
}

// CleanUserEdits удаляет правки пользователя из архива и из БД.
// Пустой expID и нулевой frameNo не ограничивают выборку.
func (s *MaintenanceService) CleanUserEdits(ctx context.Context, username, expID string, frameNo int) (int64, error) {
	if username == "" {
		return 0, ErrUsernameRequired
	}
	filter := repository.UserFilter{ExpID: expID, Username: username, FrameNo: frameNo}
	records, err := s.store.ListUserFrames(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to list user frames: %w", err)
	}

	for _, rec := range records {
		err := s.frames.DeleteFrame(ctx, rec.ExperimentID, rec.Username, rec.FrameNo)
		if err != nil && !errors.Is(err, archive.ErrNotExist) {
			s.logger.Errorf("Ошибка удаления кадра %d пользователя %s из архива: %v", rec.FrameNo, rec.Username, err)
			return 0, fmt.Errorf("failed to delete %s frame %d: %w", rec.ExperimentID, rec.FrameNo, err)
		}
	}

	n, err := s.store.DeleteUserFrames(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user frames: %w", err)
	}
	s.logger.Infof("Удалено правок пользователя %s: %d", username, n)
	return n, nil
}

// DeleteExperiment удаляет все данные эксперимента из БД и архива
func (s *MaintenanceService) DeleteExperiment(ctx context.Context, expID string) error {
	if expID == "" {
		return fmt.Errorf("experiment id is required")
	}
	if err := s.store.DeleteExperiment(ctx, expID); err != nil {
		return fmt.Errorf("failed to delete experiment rows: %w", err)
	}
	if err := s.archive.Delete(ctx, archive.ExperimentDir(expID)); err != nil && !errors.Is(err, archive.ErrNotExist) {
		return fmt.Errorf("failed to delete experiment collection: %w", err)
	}
	s.logger.Infof("Эксперимент %s удален", expID)
	return nil
}

// SyncFromArchive загружает системную сегментацию эксперимента из архива
// в БД. Некорректные регионы отбрасываются, нечитаемые документы пропускаются.
func (s *MaintenanceService) SyncFromArchive(ctx context.Context, expID string) (*SyncReport, error) {
	dir := archive.SegmentationDir(expID, "")
	names, err := s.archive.List(ctx, dir)
	if err != nil {
		if errors.Is(err, archive.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", expID, tracking.ErrExperimentNotFound)
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	report := &SyncReport{ExperimentID: expID, Dropped: map[int][]string{}}
	maxFrame := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		frameNo, ok := archive.ParseFrameFileName(name)
		if !ok || frameNo < 1 {
			continue
		}

		regions, err := s.frames.ReadFrame(ctx, expID, "", frameNo)
		if err != nil {
			s.logger.Warnf("Пропуск %s: %v", name, err)
			report.Failed = append(report.Failed, frameNo)
			continue
		}
		regions, dropped := models.Sanitize(regions)
		if len(dropped) > 0 {
			metrics.DroppedRegions.Add(float64(len(dropped)))
			s.logger.Warnf("Кадр %d эксперимента %s: отброшены некорректные регионы %v", frameNo, expID, dropped)
			report.Dropped[frameNo] = dropped
		}

		if err := s.store.Save(ctx, &store.FrameRecord{ExperimentID: expID, FrameNo: frameNo, Regions: regions}); err != nil {
			s.logger.Errorf("Ошибка записи кадра %d эксперимента %s: %v", frameNo, expID, err)
			report.Failed = append(report.Failed, frameNo)
			continue
		}
		report.Frames++
		if frameNo > maxFrame {
			maxFrame = frameNo
		}
	}

	report.FrameCount = maxFrame
	if images, err := s.archive.List(ctx, archive.ImageDir(expID)); err == nil && len(images) > 0 {
		report.FrameCount = len(images)
	}
	if report.FrameCount > 0 {
		if err := s.store.SetFrameCount(ctx, expID, report.FrameCount); err != nil {
			return report, fmt.Errorf("failed to set frame count: %w", err)
		}
	}

	s.logger.Infof("Эксперимент %s загружен из архива: кадров %d, ошибок %d", expID, report.Frames, len(report.Failed))
	return report, nil
}

// SyncAllFromArchive загружает из архива все эксперименты с системной сегментацией в БД
func (s *MaintenanceService) SyncAllFromArchive(ctx context.Context) ([]*SyncReport, error) {
	ids, err := s.store.ExperimentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	reports := make([]*SyncReport, 0, len(ids))
	for _, id := range ids {
		r, err := s.SyncFromArchive(ctx, id)
		if err != nil {
			s.logger.Errorf("Ошибка загрузки %s из архива: %v", id, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}
