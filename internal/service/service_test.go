package service

import (
	"context"
	"sync"
	"testing"

	"cell-tracker-go/internal/archive"
	"cell-tracker-go/internal/lock"
	"cell-tracker-go/internal/model"
	"cell-tracker-go/internal/queue"
	"cell-tracker-go/internal/repository"
	"cell-tracker-go/internal/store"
	"cell-tracker-go/internal/syncer"
	"cell-tracker-go/internal/testutil"
	"cell-tracker-go/internal/tracking"
	"cell-tracker-go/internal/users"
	"cell-tracker-go/pkg/models"

	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (q *recordingQueue) Enqueue(ctx context.Context, task queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) Tasks() []queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Task(nil), q.tasks...)
}

type fixture struct {
	store    *store.SegmentationStore
	segs     repository.SegmentationRepository
	archive  *archive.MemoryStore
	locks    *lock.Manager
	queue    *recordingQueue
	seg      *SegmentationService
	tracking *TrackingService
	maint    *MaintenanceService
	report   *ReportService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	logger := testutil.NewLogger()

	f := &fixture{
		segs:    repository.NewSegmentationRepository(db),
		archive: archive.NewMemoryStore(),
		queue:   &recordingQueue{},
	}
	f.store = store.NewSegmentationStore(f.segs, repository.NewExperimentRepository(db), f.archive, logger)
	f.locks = lock.NewManager(repository.NewLockRepository(db), nil, 0, logger)

	dir := users.Static{"alice": model.RoleRegular, "bob": model.RoleRegular, "pu": model.RolePower, "pu2": model.RolePower}
	coord := syncer.NewCoordinator(f.archive, logger, t.TempDir())
	engine := tracking.NewEngine(f.store, dir, coord, logger)

	f.seg = NewSegmentationService(f.store, coord, f.locks, dir, f.queue, logger)
	f.tracking = NewTrackingService(engine, f.store, logger)
	f.maint = NewMaintenanceService(f.store, f.archive, coord, logger)
	f.report = NewReportService(f.store, logger)
	return f
}

// seed создает эксперимент E1 из трех кадров по одной клетке на кадр
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SetFrameCount(ctx, "E1", 3))
	for i := 1; i <= 3; i++ {
		rec := &store.FrameRecord{
			ExperimentID: "E1",
			FrameNo:      i,
			Regions:      models.Regions{cell("c", 0.2+0.01*float64(i), 0.2)},
		}
		require.NoError(t, f.store.Save(ctx, rec))
	}
}

func cell(id string, x, y float64) models.Region {
	return models.Region{ID: id, Vertices: []models.Vertex{
		{X: x, Y: y}, {X: x + 0.02, Y: y}, {X: x + 0.02, Y: y + 0.02}, {X: x, Y: y + 0.02},
	}}
}

func edited(r models.Region) models.Region {
	v := true
	r.Edited = &v
	return r
}

func linked(r models.Region, to string) models.Region {
	r.SetLink(to)
	return r
}

func degenerate(id string) models.Region {
	return models.Region{ID: id, Vertices: []models.Vertex{{X: 0.5, Y: 0.5}, {X: 0.6, Y: 0.6}}}
}
