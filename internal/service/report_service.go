package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"cell-tracker-go/internal/geometry"
	"cell-tracker-go/internal/store"
	"cell-tracker-go/internal/tracking"
	"cell-tracker-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// ReportService выгрузка траекторий клеток по связям link_id
type ReportService struct {
	store  store.Store
	logger *logrus.Logger
}

// NewReportService создает новый сервис отчетов
func NewReportService(st store.Store, logger *logrus.Logger) *ReportService {
	return &ReportService{store: st, logger: logger}
}

// Tracks собирает траектории эксперимента. Регион продолжает трек региона,
// на который указывает его link_id. Если на один регион ссылаются несколько,
// продолжение получает первый, остальные начинают новые треки с ParentID.
// Отсутствующий кадр обрывает все треки.
func (s *ReportService) Tracks(ctx context.Context, expID, username string) (*TracksResponse, error) {
	fc, err := s.store.FrameCount(ctx, expID)
	if err != nil {
		return nil, fmt.Errorf("failed to get frame count: %w", err)
	}
	if fc < 0 {
		return nil, fmt.Errorf("%s: %w", expID, tracking.ErrExperimentNotFound)
	}

	resp := &TracksResponse{ExperimentID: expID, Username: username, FrameCount: fc, Tracks: []Track{}}
	prevTrack := map[string]int{}

	for f := 1; f <= fc; f++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lookup, err := s.store.Get(ctx, expID, f, username)
		if err != nil {
			return nil, fmt.Errorf("failed to load frame %d: %w", f, err)
		}
		if !lookup.Found() {
			prevTrack = map[string]int{}
			continue
		}

		curTrack := make(map[string]int, len(lookup.Record.Regions))
		claimed := map[int]bool{}
		for _, r := range lookup.Record.Regions {
			point, ok := trackPoint(f, r)
			if !ok {
				continue
			}

			idx, linked := -1, false
			if r.HasLink() {
				idx, linked = prevTrack[*r.LinkID]
			}
			switch {
			case linked && !claimed[idx]:
				claimed[idx] = true
			case linked:
				parent := resp.Tracks[idx].ID
				idx = newTrack(resp, &parent)
			default:
				idx = newTrack(resp, nil)
			}
			resp.Tracks[idx].Points = append(resp.Tracks[idx].Points, point)
			curTrack[r.ID] = idx
		}
		prevTrack = curTrack
	}

	s.logger.Debugf("Эксперимент %s: построено треков %d", expID, len(resp.Tracks))
	return resp, nil
}

func newTrack(resp *TracksResponse, parent *int) int {
	resp.Tracks = append(resp.Tracks, Track{ID: len(resp.Tracks) + 1, ParentID: parent})
	return len(resp.Tracks) - 1
}

func trackPoint(frameNo int, r models.Region) (TrackPoint, bool) {
	vs := make([]geometry.Point, len(r.Vertices))
	for i, v := range r.Vertices {
		vs[i] = geometry.Point{X: v.X, Y: v.Y}
	}
	c, err := geometry.Centroid(vs)
	if err != nil {
		return TrackPoint{}, false
	}
	return TrackPoint{FrameNo: frameNo, RegionID: r.ID, X: c.X, Y: c.Y, AvgIntensity: r.AvgIntensity}, true
}

// WriteTracksCSV пишет траектории построчно: одна строка на точку трека
func WriteTracksCSV(w io.Writer, tracks []Track) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"track_id", "parent_id", "frame_no", "region_id", "x", "y", "avg_intensity"}); err != nil {
		return err
	}
	for _, t := range tracks {
		parent := ""
		if t.ParentID != nil {
			parent = strconv.Itoa(*t.ParentID)
		}
		for _, p := range t.Points {
			intensity := ""
			if p.AvgIntensity != nil {
				intensity = strconv.FormatFloat(*p.AvgIntensity, 'f', -1, 64)
			}
			row := []string{
				strconv.Itoa(t.ID),
				parent,
				strconv.Itoa(p.FrameNo),
				p.RegionID,
				strconv.FormatFloat(p.X, 'f', 6, 64),
				strconv.FormatFloat(p.Y, 'f', 6, 64),
				intensity,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
