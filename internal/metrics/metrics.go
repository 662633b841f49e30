package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Режимы запуска трекинга
const (
	ModeFull   = "full"
	ModeWindow = "window"
)

var (
	// TrackingRuns количество запусков трекинга по режиму и результату
	TrackingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celltracker_tracking_runs_total",
		Help: "Total number of tracking runs by mode and result.",
	}, []string{"mode", "result"})

	// TrackingDuration длительность запуска трекинга
	TrackingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "celltracker_tracking_duration_seconds",
		Help:    "Duration of tracking runs.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"mode"})

	// RegionsLinked количество регионов, получивших link_id
	RegionsLinked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celltracker_regions_linked_total",
		Help: "Total number of regions assigned a link_id by automatic tracking.",
	})

	// ManualLinksKept количество пропущенных закрепленных связей
	ManualLinksKept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celltracker_manual_links_kept_total",
		Help: "Total number of manually pinned links left untouched by tracking.",
	})

	// FramePairsSkipped пары кадров, пропущенные из-за отсутствующих записей
	FramePairsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celltracker_frame_pairs_skipped_total",
		Help: "Total number of frame pairs skipped because a record was missing.",
	})

	// ArchiveSyncs синхронизации документов с архивом по результату
	ArchiveSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celltracker_archive_syncs_total",
		Help: "Total number of segmentation documents written to the archive by result.",
	}, []string{"result"})

	// DroppedRegions отброшенные при загрузке регионы: вырожденные полигоны,
	// пустые и повторяющиеся идентификаторы
	DroppedRegions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celltracker_dropped_regions_total",
		Help: "Total number of regions dropped at ingestion for degenerate geometry or invalid ids.",
	})
)
