package tracking

import (
	"context"
	"fmt"
	"time"

	"cell-tracker-go/internal/geometry"
	"cell-tracker-go/internal/metrics"
	"cell-tracker-go/internal/store"
	"cell-tracker-go/internal/users"
	"cell-tracker-go/pkg/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrExperimentNotFound эксперимент отсутствует
	ErrExperimentNotFound = errors.New("experiment not found")
	// ErrInvalidUser пользователь не прошел проверку в справочнике
	ErrInvalidUser = errors.New("invalid user")
	// ErrFrameOutOfRange номер кадра вне 1..frame_count
	ErrFrameOutOfRange = errors.New("frame number out of range")
	// ErrPersistence не удалось сохранить или синхронизировать кадр
	ErrPersistence = errors.New("failed to persist frame")
)

// PersistenceError ошибка записи кадра. errors.Is(err, ErrPersistence) истинно.
type PersistenceError struct {
	FrameNo int
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist frame %d: %v", e.FrameNo, e.Err)
}

// Is сопоставляет ошибку с ErrPersistence
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Unwrap возвращает исходную ошибку хранилища или архива
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Syncer зеркалирует сохраненный кадр в архив
type Syncer interface {
	SyncFrame(ctx context.Context, expID, username string, frameNo int, regions models.Regions) (string, error)
}

// Request параметры запуска. Нулевой TargetFrame означает весь эксперимент.
type Request struct {
	ExperimentID string
	Username     string
	TargetFrame  int
}

// RegionLink запись журнала для одного региона
type RegionLink struct {
	ID     string  `json:"id"`
	LinkID *string `json:"link_id"`
}

// FrameLinks журнал связей одного кадра
type FrameLinks struct {
	FrameNo int          `json:"frame_no"`
	Regions []RegionLink `json:"region_ids"`
}

// Result итог запуска
type Result struct {
	FrameCount int
	// Audit заполняется только в режиме одного кадра
	Audit []FrameLinks
	// Saved кадры, записанные в хранилище, в порядке обработки
	Saved []int
	// Skipped кадры, пара которых пропущена из-за отсутствующей записи
	Skipped []int
	// Pending вычисленная, но не сохраненная запись для повторной попытки
	Pending *store.FrameRecord
	// Linked количество регионов, получивших link_id
	Linked int
	// ManualKept количество закрепленных связей, оставленных без изменений
	ManualKept int
}

// Engine движок трекинга. Не хранит состояние между вызовами.
type Engine struct {
	store  store.Store
	users  users.Directory
	syncer Syncer
	logger *logrus.Logger
}

// NewEngine создает движок. syncer может быть nil, тогда архив не обновляется.
func NewEngine(st store.Store, dir users.Directory, syncer Syncer, logger *logrus.Logger) *Engine {
	return &Engine{
		store:  st,
		users:  dir,
		syncer: syncer,
		logger: logger,
	}
}

// Run пересчитывает link_id для всего эксперимента или окна вокруг TargetFrame
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	mode := metrics.ModeFull
	if req.TargetFrame != 0 {
		mode = metrics.ModeWindow
	}
	start := time.Now()
	defer func() {
		metrics.TrackingDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	res, err := e.run(ctx, req)
	metrics.TrackingRuns.WithLabelValues(mode, outcome(err)).Inc()
	if res != nil {
		metrics.RegionsLinked.Add(float64(res.Linked))
		metrics.ManualLinksKept.Add(float64(res.ManualKept))
	}
	return res, err
}

func (e *Engine) run(ctx context.Context, req Request) (*Result, error) {
	frameCount, err := e.store.FrameCount(ctx, req.ExperimentID)
	if err != nil {
		return nil, errors.Wrapf(err, "frame count of %s", req.ExperimentID)
	}
	if frameCount < 0 {
		e.logger.Warnf("Эксперимент %s не найден, трекинг не выполняется", req.ExperimentID)
		return nil, errors.Wrap(ErrExperimentNotFound, req.ExperimentID)
	}

	if req.Username != "" {
		valid, err := e.users.ValidateUser(ctx, req.Username)
		if err != nil || !valid {
			e.logger.Warnf("Пользователь %s не прошел проверку, трекинг %s не выполняется", req.Username, req.ExperimentID)
			if err != nil {
				return nil, errors.Wrapf(ErrInvalidUser, "%s: %v", req.Username, err)
			}
			return nil, errors.Wrap(ErrInvalidUser, req.Username)
		}
	}

	first, last := 1, frameCount
	if req.TargetFrame != 0 {
		if req.TargetFrame < 1 || req.TargetFrame > frameCount {
			return nil, errors.Wrapf(ErrFrameOutOfRange, "frame %d of %d", req.TargetFrame, frameCount)
		}
		first, last = Window(req.TargetFrame, frameCount)
	}

	res := &Result{FrameCount: frameCount}
	e.logger.Infof("Трекинг %s пользователь %q кадры %d..%d", req.ExperimentID, req.Username, first, last)

	for i := last; i > first; i-- {
		if err := ctx.Err(); err != nil {
			e.logger.Warnf("Трекинг %s прерван перед кадром %d", req.ExperimentID, i)
			return res, errors.Wrapf(err, "tracking %s canceled at frame %d", req.ExperimentID, i)
		}

		record, err := e.linkPair(ctx, req, i, res)
		if err != nil {
			if req.TargetFrame == 0 && isPairError(err) {
				e.logger.Warnf("Пропуск пары кадров %d-%d эксперимента %s: %v", i-1, i, req.ExperimentID, err)
				metrics.FramePairsSkipped.Inc()
				res.Skipped = append(res.Skipped, i)
				continue
			}
			return res, err
		}

		if err := e.persist(ctx, record); err != nil {
			res.Pending = record
			return res, err
		}
		res.Saved = append(res.Saved, i)

		if req.TargetFrame != 0 {
			res.Audit = append(res.Audit, auditOf(record))
		}
	}

	if first == 1 {
		if err := e.stripFirstFrame(ctx, req, res); err != nil {
			return res, err
		}
	}

	e.logger.Infof("Трекинг %s завершен: сохранено кадров %d, пропущено %d, связей %d",
		req.ExperimentID, len(res.Saved), len(res.Skipped), res.Linked)
	return res, nil
}

// pairError ошибка данных одной пары кадров, пропускаемая в полном режиме
type pairError struct {
	err error
}

func (e *pairError) Error() string { return e.err.Error() }
func (e *pairError) Unwrap() error { return e.err }

func isPairError(err error) bool {
	var pe *pairError
	return errors.As(err, &pe)
}

// linkPair загружает кадры i-1 и i и вычисляет link_id для кадра i
func (e *Engine) linkPair(ctx context.Context, req Request, i int, res *Result) (*store.FrameRecord, error) {
	prev, err := e.store.Get(ctx, req.ExperimentID, i-1, req.Username)
	if err != nil {
		return nil, errors.Wrapf(err, "load frame %d", i-1)
	}
	if !prev.Found() {
		return nil, &pairError{errors.Wrapf(store.ErrRecordNotFound, "%s frame %d", req.ExperimentID, i-1)}
	}

	current, err := e.loadCurrent(ctx, req, i)
	if err != nil {
		return nil, err
	}

	linked, kept, err := LinkRegions(current.Regions, prev.Record.Regions, req.Username != "")
	if err != nil {
		return nil, &pairError{errors.Wrapf(err, "%s frames %d-%d", req.ExperimentID, i-1, i)}
	}
	res.Linked += linked
	res.ManualKept += kept
	return current, nil
}

// loadCurrent возвращает кадр, в который пишутся link_id. Для пользователя
// отсутствующая запись синтезируется из системной, системная не меняется.
func (e *Engine) loadCurrent(ctx context.Context, req Request, i int) (*store.FrameRecord, error) {
	if req.Username != "" {
		record, synthesized, err := e.store.GetOrSynthesizeForUser(ctx, req.ExperimentID, i, req.Username)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, &pairError{err}
			}
			return nil, errors.Wrapf(err, "load frame %d", i)
		}
		if synthesized {
			e.logger.Debugf("Кадр %d эксперимента %s материализован для %s", i, req.ExperimentID, req.Username)
		}
		return record, nil
	}

	lookup, err := e.store.Get(ctx, req.ExperimentID, i, "")
	if err != nil {
		return nil, errors.Wrapf(err, "load frame %d", i)
	}
	if !lookup.Found() {
		return nil, &pairError{errors.Wrapf(store.ErrRecordNotFound, "%s frame %d", req.ExperimentID, i)}
	}
	return lookup.Record, nil
}

// stripFirstFrame удаляет устаревшие link_id с первого кадра.
// Для пользователя затрагивается только его собственная запись.
func (e *Engine) stripFirstFrame(ctx context.Context, req Request, res *Result) error {
	lookup, err := e.store.Get(ctx, req.ExperimentID, 1, req.Username)
	if err != nil {
		return errors.Wrap(err, "load frame 1")
	}
	if !lookup.Found() || (req.Username != "" && lookup.Tier != store.TierUser) {
		return nil
	}

	stripped := 0
	for j := range lookup.Record.Regions {
		if lookup.Record.Regions[j].HasLink() {
			lookup.Record.Regions[j].ClearLink()
			stripped++
		}
	}
	if stripped == 0 {
		return nil
	}

	e.logger.Infof("С первого кадра %s удалено устаревших link_id: %d", req.ExperimentID, stripped)
	if err := e.persist(ctx, lookup.Record); err != nil {
		res.Pending = lookup.Record
		return err
	}
	res.Saved = append(res.Saved, 1)
	return nil
}

func (e *Engine) persist(ctx context.Context, record *store.FrameRecord) error {
	if err := e.store.Save(ctx, record); err != nil {
		e.logger.Errorf("Ошибка сохранения кадра %d эксперимента %s: %v", record.FrameNo, record.ExperimentID, err)
		return &PersistenceError{FrameNo: record.FrameNo, Err: err}
	}
	if e.syncer == nil {
		return nil
	}
	if _, err := e.syncer.SyncFrame(ctx, record.ExperimentID, record.Username, record.FrameNo, record.Regions); err != nil {
		e.logger.Errorf("Ошибка синхронизации кадра %d эксперимента %s: %v", record.FrameNo, record.ExperimentID, err)
		return &PersistenceError{FrameNo: record.FrameNo, Err: err}
	}
	return nil
}

// Window границы окна вокруг кадра k, обрезанные до [1, frameCount].
// Связываются кадры окна, кроме первого: пары (k-1, k) и (k, k+1).
func Window(k, frameCount int) (int, int) {
	first, last := k-1, k+1
	if first < 1 {
		first = 1
	}
	if last > frameCount {
		last = frameCount
	}
	return first, last
}

// LinkRegions записывает в каждый регион current id ближайшего региона prev.
// Если honorManual, регионы с manual_link и существующим link_id не меняются.
// Возвращает число связанных и сохраненных вручную регионов.
func LinkRegions(current, prev models.Regions, honorManual bool) (int, int, error) {
	curPts, err := centroids(current)
	if err != nil {
		return 0, 0, err
	}
	prevPts, err := centroids(prev)
	if err != nil {
		return 0, 0, err
	}
	dist := geometry.PairwiseDistance(curPts, prevPts)

	linked, kept := 0, 0
	for j := range current {
		r := &current[j]
		if honorManual && r.IsManualLink() && r.HasLink() {
			kept++
			continue
		}
		idx := dist.ArgMinRow(j)
		if idx < 0 {
			r.ClearLink()
			continue
		}
		r.SetLink(prev[idx].ID)
		linked++
	}
	return linked, kept, nil
}

func centroids(rs models.Regions) ([]geometry.Point, error) {
	pts := make([]geometry.Point, len(rs))
	for j := range rs {
		vs := make([]geometry.Point, len(rs[j].Vertices))
		for k, v := range rs[j].Vertices {
			vs[k] = geometry.Point{X: v.X, Y: v.Y}
		}
		c, err := geometry.Centroid(vs)
		if err != nil {
			return nil, errors.Wrapf(err, "region %s", rs[j].ID)
		}
		pts[j] = c
	}
	return pts, nil
}

func auditOf(record *store.FrameRecord) FrameLinks {
	links := make([]RegionLink, len(record.Regions))
	for j, r := range record.Regions {
		links[j] = RegionLink{ID: r.ID}
		if r.LinkID != nil {
			v := *r.LinkID
			links[j].LinkID = &v
		}
	}
	return FrameLinks{FrameNo: record.FrameNo, Regions: links}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrExperimentNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidUser):
		return "invalid_user"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
