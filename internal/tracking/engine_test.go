package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"cell-tracker-go/internal/model"
	"cell-tracker-go/internal/store"
	"cell-tracker-go/internal/testutil"
	"cell-tracker-go/internal/users"
	"cell-tracker-go/pkg/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *fakeSyncer) SyncFrame(ctx context.Context, expID, username string, frameNo int, regions models.Regions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	name := fmt.Sprintf("%s/%s/%d", expID, username, frameNo)
	s.calls = append(s.calls, name)
	return name, nil
}

// cell квадрат 0.02 x 0.02 с центром (x, y)
func cell(id string, x, y float64) models.Region {
	return square(id, x, y, 0.01)
}

func square(id string, x, y, h float64) models.Region {
	return models.Region{ID: id, Vertices: []models.Vertex{
		{X: x - h, Y: y - h}, {X: x + h, Y: y - h}, {X: x + h, Y: y + h}, {X: x - h, Y: y + h},
	}}
}

func frame(expID string, no int, rs ...models.Region) *store.FrameRecord {
	return &store.FrameRecord{ExperimentID: expID, FrameNo: no, Regions: models.Regions(rs)}
}

func linkOf(t *testing.T, rec *store.FrameRecord, id string) *string {
	t.Helper()
	for _, r := range rec.Regions {
		if r.ID == id {
			return r.LinkID
		}
	}
	t.Fatalf("region %s not found in frame %d", id, rec.FrameNo)
	return nil
}

func newEngine(st store.Store) (*Engine, *fakeSyncer) {
	fs := &fakeSyncer{}
	dir := users.Static{"alice": model.RoleRegular, "pu": model.RolePower}
	return NewEngine(st, dir, fs, testutil.NewLogger()), fs
}

// drifting эксперимент с клетками, которые сдвигаются от кадра к кадру,
// одним пустым кадром и меняющимся порядком регионов
func drifting() *store.MemoryStore {
	st := store.NewMemoryStore()
	st.SetFrameCount("E", 6)
	st.Put(frame("E", 1, cell("a1", 0.1, 0.1), cell("b1", 0.5, 0.5), cell("c1", 0.9, 0.2)))
	st.Put(frame("E", 2, cell("b2", 0.52, 0.49), cell("a2", 0.12, 0.11), cell("c2", 0.88, 0.22)))
	st.Put(frame("E", 3, cell("a3", 0.14, 0.12), cell("n3", 0.3, 0.8)))
	st.Put(frame("E", 4))
	st.Put(frame("E", 5, cell("a5", 0.15, 0.13), cell("b5", 0.55, 0.5)))
	st.Put(frame("E", 6, cell("b6", 0.56, 0.52), cell("a6", 0.16, 0.14), cell("x6", 0.7, 0.7)))
	return st
}

func TestExampleThreeFrames(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetFrameCount("E1", 3)
	st.Put(frame("E1", 1, models.Region{ID: "o1", Vertices: []models.Vertex{
		{X: 0.1, Y: 0.1}, {X: 0.1, Y: 0.2}, {X: 0.2, Y: 0.2}, {X: 0.2, Y: 0.1},
	}}))
	st.Put(frame("E1", 2, cell("o2", 0.151, 0.152)))
	st.Put(frame("E1", 3, cell("o3", 0.153, 0.155)))

	e, archiveSync := newEngine(st)
	res, err := e.Run(ctx, Request{ExperimentID: "E1"})
	require.NoError(t, err)
	assert.Nil(t, res.Audit)
	assert.Equal(t, []int{3, 2}, res.Saved)

	f1, _ := st.Record("E1", 1, "")
	f2, _ := st.Record("E1", 2, "")
	f3, _ := st.Record("E1", 3, "")
	assert.Nil(t, linkOf(t, f1, "o1"))
	assert.Equal(t, "o1", *linkOf(t, f2, "o2"))
	assert.Equal(t, "o2", *linkOf(t, f3, "o3"))
	assert.Equal(t, []string{"E1//3", "E1//2"}, archiveSync.calls)
}

func TestEveryLinkResolvesToPreviousFrame(t *testing.T) {
	ctx := context.Background()
	st := drifting()
	e, _ := newEngine(st)

	_, err := e.Run(ctx, Request{ExperimentID: "E"})
	require.NoError(t, err)

	for i := 2; i <= 6; i++ {
		prev, _ := st.Record("E", i-1, "")
		cur, _ := st.Record("E", i, "")
		ids := map[string]bool{}
		for _, id := range prev.Regions.IDs() {
			ids[id] = true
		}
		for _, r := range cur.Regions {
			if len(prev.Regions) == 0 {
				assert.Nil(t, r.LinkID, "frame %d region %s", i, r.ID)
				continue
			}
			require.NotNil(t, r.LinkID, "frame %d region %s", i, r.ID)
			assert.True(t, ids[*r.LinkID], "frame %d region %s links to %s", i, r.ID, *r.LinkID)
		}
	}

	f2, _ := st.Record("E", 2, "")
	assert.Equal(t, "b1", *linkOf(t, f2, "b2"))
	assert.Equal(t, "a1", *linkOf(t, f2, "a2"))
	assert.Equal(t, "c1", *linkOf(t, f2, "c2"))
	f6, _ := st.Record("E", 6, "")
	assert.Equal(t, "b5", *linkOf(t, f6, "b6"))
	assert.Equal(t, "a5", *linkOf(t, f6, "a6"))
}

func TestFrameOneLinksAreStripped(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetFrameCount("E", 2)
	stale := cell("a1", 0.1, 0.1)
	stale.SetLink("a2")
	st.Put(frame("E", 1, stale))
	st.Put(frame("E", 2, cell("a2", 0.1, 0.1)))

	e, _ := newEngine(st)
	res, err := e.Run(ctx, Request{ExperimentID: "E"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, res.Saved)

	f1, _ := st.Record("E", 1, "")
	assert.Nil(t, f1.Regions[0].LinkID)

	// в устойчивом состоянии первый кадр больше не перезаписывается
	res, err = e.Run(ctx, Request{ExperimentID: "E"})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, res.Saved)
}

func TestFullPassIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := drifting()
	e, _ := newEngine(st)

	_, err := e.Run(ctx, Request{ExperimentID: "E"})
	require.NoError(t, err)
	first := snapshot(st, "E", 6, "")

	_, err = e.Run(ctx, Request{ExperimentID: "E"})
	require.NoError(t, err)
	second := snapshot(st, "E", 6, "")

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second pass changed links (-first +second):\n%s", diff)
	}

	docs1, err := models.EncodeDocument(first[3])
	require.NoError(t, err)
	docs2, err := models.EncodeDocument(second[3])
	require.NoError(t, err)
	assert.Equal(t, docs1, docs2)
}

func snapshot(st *store.MemoryStore, expID string, n int, username string) []models.Regions {
	out := make([]models.Regions, n+1)
	for i := 1; i <= n; i++ {
		if rec, ok := st.Record(expID, i, username); ok {
			out[i] = rec.Regions
		}
	}
	return out
}

func TestWindowMatchesFullPass(t *testing.T) {
	ctx := context.Background()

	full := drifting()
	e, _ := newEngine(full)
	_, err := e.Run(ctx, Request{ExperimentID: "E"})
	require.NoError(t, err)

	for k := 2; k <= 6; k++ {
		t.Run(fmt.Sprintf("frame %d", k), func(t *testing.T) {
			windowed := drifting()
			e, _ := newEngine(windowed)
			res, err := e.Run(ctx, Request{ExperimentID: "E", TargetFrame: k})
			require.NoError(t, err)

			want, _ := full.Record("E", k, "")
			got, _ := windowed.Record("E", k, "")
			if diff := cmp.Diff(want.Regions, got.Regions); diff != "" {
				t.Fatalf("frame %d differs (-full +window):\n%s", k, diff)
			}

			require.NotEmpty(t, res.Audit)
			found := false
			for _, fl := range res.Audit {
				if fl.FrameNo == k {
					found = true
					assert.Len(t, fl.Regions, len(got.Regions))
				}
			}
			assert.True(t, found)
		})
	}
}

func TestWindowBounds(t *testing.T) {
	cases := []struct{ k, n, first, last int }{
		{1, 5, 1, 2},
		{3, 5, 2, 4},
		{5, 5, 4, 5},
		{1, 1, 1, 1},
	}
	for _, c := range cases {
		first, last := Window(c.k, c.n)
		assert.Equal(t, c.first, first, "k=%d n=%d", c.k, c.n)
		assert.Equal(t, c.last, last, "k=%d n=%d", c.k, c.n)
	}
}

func TestWindowAuditOrder(t *testing.T) {
	ctx := context.Background()
	st := drifting()
	e, _ := newEngine(st)

	res, err := e.Run(ctx, Request{ExperimentID: "E", TargetFrame: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3}, res.Saved)
	require.Len(t, res.Audit, 2)
	assert.Equal(t, 4, res.Audit[0].FrameNo)
	assert.Empty(t, res.Audit[0].Regions)
	assert.Equal(t, 3, res.Audit[1].FrameNo)
	assert.Equal(t, "a3", res.Audit[1].Regions[0].ID)
	assert.Equal(t, "a2", *res.Audit[1].Regions[0].LinkID)

	// кадры вне окна не тронуты
	f6, _ := st.Record("E", 6, "")
	assert.Nil(t, f6.Regions[0].LinkID)
}

func TestManualLinkPreserved(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetFrameCount("E", 2)
	st.Put(frame("E", 1, cell("near", 0.1, 0.1), cell("oX", 0.9, 0.9)))

	pinned := cell("p", 0.1, 0.1)
	yes := true
	pinned.ManualLink = &yes
	pinned.SetLink("oX")
	st.Put(&store.FrameRecord{ExperimentID: "E", FrameNo: 2, Username: "alice", Regions: models.Regions{pinned, cell("q", 0.11, 0.1)}})

	e, _ := newEngine(st)
	for run := 0; run < 3; run++ {
		res, err := e.Run(ctx, Request{ExperimentID: "E", Username: "alice"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ManualKept)

		rec, ok := st.Record("E", 2, "alice")
		require.True(t, ok)
		assert.Equal(t, "oX", *linkOf(t, rec, "p"))
		assert.Equal(t, "near", *linkOf(t, rec, "q"))
	}
}

func TestManualFlagIgnoredForSystemRuns(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetFrameCount("E", 2)
	st.Put(frame("E", 1, cell("near", 0.1, 0.1), cell("oX", 0.9, 0.9)))
	pinned := cell("p", 0.1, 0.1)
	yes := true
	pinned.ManualLink = &yes
	pinned.SetLink("oX")
	st.Put(frame("E", 2, pinned))

	e, _ := newEngine(st)
	_, err := e.Run(ctx, Request{ExperimentID: "E"})
	require.NoError(t, err)

	rec, _ := st.Record("E", 2, "")
	assert.Equal(t, "near", *linkOf(t, rec, "p"))
}

func TestManualFlagWithoutLinkIsTracked(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetFrameCount("E", 2)
	st.Put(frame("E", 1, cell("near", 0.1, 0.1)))
	r := cell("p", 0.1, 0.1)
	yes := true
	r.ManualLink = &yes
	st.Put(&store.FrameRecord{ExperimentID: "E", FrameNo: 2, Username: "alice", Regions: models.Regions{r}})

	e, _ := newEngine(st)
	_, err := e.Run(ctx, Request{ExperimentID: "E", Username: "alice"})
	require.NoError(t, err)

	rec, _ := st.Record("E", 2, "alice")
	assert.Equal(t, "near", *linkOf(t, rec, "p"))
}

func TestArgminTieBreak(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.SetFrameCount("E", 2)
	// обе клетки ровно на расстоянии 0.25 от центра (0.5, 0.5)
	st.Put(frame("E", 1, square("left", 0.25, 0.5, 0.125), square("right", 0.75, 0.5, 0.125)))
	st.Put(frame("E", 2, square("mid", 0.5, 0.5, 0.125)))

	e, _ := newEngine(st)
	for run := 0; run < 3; run++ {
		_, err := e.Run(ctx, Request{ExperimentID: "E"})
		require.NoError(t, err)
		rec, _ := st.Record("E", 2, "")
		assert.Equal(t, "left", *linkOf(t, rec, "mid"))
	}

	st.Put(frame("E", 1, square("right", 0.75, 0.5, 0.125), square("left", 0.25, 0.5, 0.125)))
	_, err := e.Run(ctx, Request{ExperimentID: "E"})
	require.NoError(t, err)
	rec, _ := st.Record("E", 2, "")
	assert.Equal(t, "right", *linkOf(t, rec, "mid"))
}

func TestNonexistentExperimentWritesNothing(t *testing.T) {
	st := drifting()
	e, archiveSync := newEngine(st)

	for _, req := range []Request{
		{ExperimentID: "missing"},
		{ExperimentID: "missing", TargetFrame: 2},
		{ExperimentID: "missing", Username: "alice"},
	} {
		res, err := e.Run(context.Background(), req)
		assert.Nil(t, res)
		assert.True(t, errors.Is(err, ErrExperimentNotFound))
	}
	assert.Equal(t, 0, st.Saves())
	assert.Empty(t, archiveSync.calls)
}

func TestInvalidUserWritesNothing(t *testing.T) {
	st := drifting()
	e, archiveSync := newEngine(st)

	_, err := e.Run(context.Background(), Request{ExperimentID: "E", Username: "forged"})
	assert.True(t, errors.Is(err, ErrInvalidUser))
	assert.Equal(t, 0, st.Saves())
	assert.Empty(t, archiveSync.calls)
}

func TestFrameOutOfRange(t *testing.T) {
	st := drifting()
	e, _ := newEngine(st)

	for _, k := range []int{-1, 7} {
		_, err := e.Run(context.Background(), Request{ExperimentID: "E", TargetFrame: k})
		assert.True(t, errors.Is(err, ErrFrameOutOfRange), "frame %d", k)
	}
	assert.Equal(t, 0, st.Saves())
}

func TestUserRunMaterializesWithoutTouchingSystem(t *testing.T) {
	ctx := context.Background()
	st := drifting()
	before := snapshot(st, "E", 6, "")

	// пользователь правил только кадр 2
	edited := true
	a2 := cell("a2-user", 0.12, 0.11)
	a2.Edited = &edited
	st.Put(&store.FrameRecord{ExperimentID: "E", FrameNo: 2, Username: "alice", Regions: models.Regions{a2}})

	e, archiveSync := newEngine(st)
	_, err := e.Run(ctx, Request{ExperimentID: "E", Username: "alice"})
	require.NoError(t, err)

	if diff := cmp.Diff(before, snapshot(st, "E", 6, "")); diff != "" {
		t.Fatalf("system records changed:\n%s", diff)
	}

	for i := 2; i <= 6; i++ {
		rec, ok := st.Record("E", i, "alice")
		require.True(t, ok, "frame %d not materialized", i)
		assert.NotNil(t, rec.UpdateTime)
	}
	_, ok := st.Record("E", 1, "alice")
	assert.False(t, ok, "frame 1 needs no user copy")

	// кадр 3 связан с пользовательской версией кадра 2
	f3, _ := st.Record("E", 3, "alice")
	assert.Equal(t, "a2-user", *linkOf(t, f3, "a3"))

	f2, _ := st.Record("E", 2, "alice")
	assert.Equal(t, "a1", *linkOf(t, f2, "a2-user"))
	assert.Equal(t, 1, f2.NumEdited)

	assert.Contains(t, archiveSync.calls, "E/alice/2")
}

func TestMissingSystemRecord(t *testing.T) {
	ctx := context.Background()

	build := func() *store.MemoryStore {
		st := store.NewMemoryStore()
		st.SetFrameCount("E", 4)
		st.Put(frame("E", 1, cell("a1", 0.1, 0.1)))
		st.Put(frame("E", 2, cell("a2", 0.1, 0.1)))
		st.Put(frame("E", 4, cell("a4", 0.1, 0.1)))
		return st
	}

	t.Run("full pass skips the pair", func(t *testing.T) {
		st := build()
		e, _ := newEngine(st)
		res, err := e.Run(ctx, Request{ExperimentID: "E"})
		require.NoError(t, err)
		assert.Equal(t, []int{4, 3}, res.Skipped)
		assert.Equal(t, []int{2}, res.Saved)

		f2, _ := st.Record("E", 2, "")
		assert.Equal(t, "a1", *linkOf(t, f2, "a2"))
	})

	t.Run("window stops with partial audit", func(t *testing.T) {
		st := build()
		e, _ := newEngine(st)
		res, err := e.Run(ctx, Request{ExperimentID: "E", TargetFrame: 3})
		assert.True(t, errors.Is(err, store.ErrRecordNotFound))
		require.NotNil(t, res)
		assert.Empty(t, res.Audit)
		assert.Equal(t, 0, st.Saves())
	})
}

func TestPersistenceErrorKeepsComputedRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("store", func(t *testing.T) {
		st := drifting()
		st.SaveErr = errors.New("db down")
		e, _ := newEngine(st)

		res, err := e.Run(ctx, Request{ExperimentID: "E", TargetFrame: 6})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPersistence))
		assert.True(t, errors.Is(err, st.SaveErr))

		var pe *PersistenceError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, 6, pe.FrameNo)

		require.NotNil(t, res.Pending)
		assert.Equal(t, 6, res.Pending.FrameNo)
		assert.Equal(t, "b5", *linkOf(t, res.Pending, "b6"))
	})

	t.Run("archive", func(t *testing.T) {
		st := drifting()
		e, archiveSync := newEngine(st)
		archiveSync.err = errors.New("irods down")

		res, err := e.Run(ctx, Request{ExperimentID: "E"})
		assert.True(t, errors.Is(err, ErrPersistence))
		require.NotNil(t, res.Pending)
		assert.Equal(t, 6, res.Pending.FrameNo)
		assert.Equal(t, 1, st.Saves())
	})
}

func TestCancellationBetweenPairs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := drifting()
	e, _ := newEngine(st)
	res, err := e.Run(ctx, Request{ExperimentID: "E"})
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, res)
	assert.Empty(t, res.Saved)
	assert.Equal(t, 0, st.Saves())
}

type cancelAfterSaves struct {
	*store.MemoryStore
	n      int
	cancel context.CancelFunc
}

func (s *cancelAfterSaves) Save(ctx context.Context, r *store.FrameRecord) error {
	err := s.MemoryStore.Save(ctx, r)
	if s.MemoryStore.Saves() == s.n {
		s.cancel()
	}
	return err
}

func TestCancellationKeepsSavedFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := &cancelAfterSaves{MemoryStore: drifting(), n: 2, cancel: cancel}
	e, _ := newEngine(st)
	res, err := e.Run(ctx, Request{ExperimentID: "E"})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []int{6, 5}, res.Saved)

	f6, _ := st.Record("E", 6, "")
	assert.NotNil(t, linkOf(t, f6, "a6"))
	f3, _ := st.Record("E", 3, "")
	assert.Nil(t, linkOf(t, f3, "a3"))
}

func TestLinkRegionsEmptyFrames(t *testing.T) {
	cur := models.Regions{cell("a", 0.1, 0.1)}
	cur[0].SetLink("stale")

	linked, kept, err := LinkRegions(cur, models.Regions{}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, linked)
	assert.Equal(t, 0, kept)
	assert.Nil(t, cur[0].LinkID)

	linked, _, err = LinkRegions(models.Regions{}, models.Regions{cell("p", 0, 0)}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, linked)
}

func TestLinkRegionsRejectsEmptyPolygon(t *testing.T) {
	cur := models.Regions{{ID: "broken"}}
	_, _, err := LinkRegions(cur, models.Regions{cell("p", 0, 0)}, false)
	assert.Error(t, err)
}
