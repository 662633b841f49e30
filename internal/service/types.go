package service

import (
	"time"

	"cell-tracker-go/internal/tracking"
	"cell-tracker-go/pkg/models"
)

// SegmentationResponse сегментация кадра с указанием уровня, из которого она получена
type SegmentationResponse struct {
	ExperimentID string         `json:"exp_id"`
	FrameNo      int            `json:"frame_no"`
	Username     string         `json:"username,omitempty"`
	Source       string         `json:"source"`
	NumEdited    int            `json:"num_edited"`
	UpdateTime   *time.Time     `json:"update_time,omitempty"`
	Regions      models.Regions `json:"regions"`
}

// SaveSegmentationRequest запрос на сохранение правки кадра
type SaveSegmentationRequest struct {
	Username string         `json:"username" binding:"required"`
	Regions  models.Regions `json:"regions"`
}

// SaveSegmentationResponse результат сохранения правки.
// Status "error" означает, что правка сохранена в БД, но последующие шаги не выполнены.
type SaveSegmentationResponse struct {
	Status         string   `json:"status"`
	Message        string   `json:"message,omitempty"`
	ExperimentID   string   `json:"exp_id"`
	FrameNo        int      `json:"frame_no"`
	NumEdited      int      `json:"num_edited"`
	File           string   `json:"file,omitempty"`
	SystemUpdated  bool     `json:"system_updated"`
	TrackingQueued bool     `json:"tracking_queued"`
	Dropped        []string `json:"dropped_regions,omitempty"`
}

// TrackingRequest запрос на синхронный трекинг
type TrackingRequest struct {
	Username string `json:"username"`
	FrameNo  int    `json:"frame_no"`
}

// TrackingResponse результат трекинга
type TrackingResponse struct {
	Status       string                `json:"status"`
	Message      string                `json:"message,omitempty"`
	ExperimentID string                `json:"exp_id"`
	FrameCount   int                   `json:"frame_count"`
	Frames       []tracking.FrameLinks `json:"frames,omitempty"`
	Saved        []int                 `json:"saved_frames,omitempty"`
	Skipped      []int                 `json:"skipped_frames,omitempty"`
	// PendingFrame кадр, связи которого вычислены, но не сохранены
	PendingFrame int `json:"pending_frame,omitempty"`
}

// LockRequest запрос на блокировку эксперимента
type LockRequest struct {
	Username string `json:"username" binding:"required"`
}

// LockResponse состояние блокировки эксперимента
type LockResponse struct {
	ExperimentID string `json:"exp_id"`
	Locked       bool   `json:"locked"`
	LockedUser   string `json:"locked_user,omitempty"`
}

// LinkIssue link_id, не найденный среди регионов предыдущего кадра
type LinkIssue struct {
	ExperimentID string `json:"exp_id"`
	Username     string `json:"username,omitempty"`
	FrameNo      int    `json:"frame_no"`
	RegionID     string `json:"region_id"`
	LinkID       string `json:"link_id"`
	// PrevSource уровень предыдущего кадра: user, system или none
	PrevSource string `json:"prev_source"`
}

// LinkReport результат проверки связей эксперимента
type LinkReport struct {
	ExperimentID  string      `json:"exp_id"`
	FramesChecked int         `json:"frames_checked"`
	Issues        []LinkIssue `json:"issues"`
}

// RegionIssue вырожденный полигон в документе архива
type RegionIssue struct {
	Path     string `json:"path"`
	RegionID string `json:"region_id"`
	Vertices int    `json:"vertices"`
}

// NumEditedFix исправленное значение num_edited
type NumEditedFix struct {
	ExperimentID string `json:"exp_id"`
	Username     string `json:"username"`
	FrameNo      int    `json:"frame_no"`
	Old          int    `json:"old"`
	New          int    `json:"new"`
}

// SyncReport результат загрузки сегментации из архива в БД
type SyncReport struct {
	ExperimentID string           `json:"exp_id"`
	FrameCount   int              `json:"frame_count"`
	Frames       int              `json:"frames"`
	Dropped      map[int][]string `json:"dropped,omitempty"`
	Failed       []int            `json:"failed,omitempty"`
}

// TrackPoint положение клетки на одном кадре
type TrackPoint struct {
	FrameNo      int      `json:"frame_no"`
	RegionID     string   `json:"region_id"`
	X            float64  `json:"x"`
	Y            float64  `json:"y"`
	AvgIntensity *float64 `json:"avg_intensity,omitempty"`
}

// Track траектория одной клетки. ParentID указывает трек, от которого
// клетка отделилась (несколько регионов связаны с одним предшественником).
type Track struct {
	ID       int          `json:"id"`
	ParentID *int         `json:"parent_id,omitempty"`
	Points   []TrackPoint `json:"points"`
}

// TracksResponse траектории эксперимента
type TracksResponse struct {
	ExperimentID string  `json:"exp_id"`
	Username     string  `json:"username,omitempty"`
	FrameCount   int     `json:"frame_count"`
	Tracks       []Track `json:"tracks"`
}
