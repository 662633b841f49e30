package handler

import (
	"errors"
	"net/http"
	"strconv"

	"cell-tracker-go/internal/lock"
	"cell-tracker-go/internal/service"
	"cell-tracker-go/internal/store"
	"cell-tracker-go/internal/tracking"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SegmentationHandler обрабатывает HTTP запросы для работы с сегментацией и трекингом
type SegmentationHandler struct {
	segmentationService *service.SegmentationService
	trackingService     *service.TrackingService
	maintenanceService  *service.MaintenanceService
	reportService       *service.ReportService
	logger              *logrus.Logger
}

// NewSegmentationHandler создает новый экземпляр SegmentationHandler
func NewSegmentationHandler(
	segmentationService *service.SegmentationService,
	trackingService *service.TrackingService,
	maintenanceService *service.MaintenanceService,
	reportService *service.ReportService,
	logger *logrus.Logger,
) *SegmentationHandler {
	return &SegmentationHandler{
		segmentationService: segmentationService,
		trackingService:     trackingService,
		maintenanceService:  maintenanceService,
		reportService:       reportService,
		logger:              logger,
	}
}

// RegisterRoutes регистрирует маршруты API
func (h *SegmentationHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/experiments/:exp_id/frames/:frame_no/segmentation", h.GetSegmentation)
		api.PUT("/experiments/:exp_id/frames/:frame_no/segmentation", h.SaveSegmentation)
		api.POST("/experiments/:exp_id/tracking", h.AddTracking)
		api.GET("/experiments/:exp_id/lock", h.GetLock)
		api.POST("/experiments/:exp_id/lock", h.Lock)
		api.DELETE("/users/:username/locks", h.ReleaseLocks)
		api.GET("/experiments/:exp_id/tracks", h.GetTracks)
		api.GET("/experiments/:exp_id/links/check", h.CheckLinks)
	}
}

// GetSegmentation возвращает сегментацию кадра
func (h *SegmentationHandler) GetSegmentation(c *gin.Context) {
	expID := c.Param("exp_id")
	frameNo, ok := frameParam(c)
	if !ok {
		return
	}
	username := c.Query("username")
	h.logger.Infof("Получен запрос сегментации %s кадр %d пользователь %q", expID, frameNo, username)

	resp, err := h.segmentationService.GetSegmentation(c.Request.Context(), expID, frameNo, username)
	if err != nil {
		h.writeError(c, err, "Ошибка получения сегментации")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SaveSegmentation сохраняет правку кадра и ставит задачу трекинга
func (h *SegmentationHandler) SaveSegmentation(c *gin.Context) {
	expID := c.Param("exp_id")
	frameNo, ok := frameParam(c)
	if !ok {
		return
	}

	var req service.SaveSegmentationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Ошибка разбора тела запроса: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат запроса: нужны username и regions"})
		return
	}

	resp, err := h.segmentationService.SaveSegmentation(c.Request.Context(), expID, frameNo, req)
	if err != nil {
		h.writeError(c, err, "Ошибка сохранения сегментации")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AddTracking синхронно пересчитывает связи и возвращает журнал
func (h *SegmentationHandler) AddTracking(c *gin.Context) {
	expID := c.Param("exp_id")

	var req service.TrackingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат запроса"})
			return
		}
	}
	h.logger.Infof("Получен запрос трекинга %s пользователь %q кадр %d", expID, req.Username, req.FrameNo)

	resp, err := h.trackingService.AddTracking(c.Request.Context(), expID, req.Username, req.FrameNo)
	if err != nil {
		h.writeError(c, err, "Ошибка трекинга")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetLock возвращает состояние блокировки эксперимента
func (h *SegmentationHandler) GetLock(c *gin.Context) {
	resp, err := h.segmentationService.LockStatus(c.Request.Context(), c.Param("exp_id"))
	if err != nil {
		h.writeError(c, err, "Ошибка проверки блокировки")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Lock блокирует эксперимент для power-пользователя
func (h *SegmentationHandler) Lock(c *gin.Context) {
	var req service.LockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Не указан username"})
		return
	}

	resp, err := h.segmentationService.Lock(c.Request.Context(), c.Param("exp_id"), req.Username)
	if err != nil {
		h.writeError(c, err, "Ошибка блокировки эксперимента")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ReleaseLocks снимает все блокировки пользователя
func (h *SegmentationHandler) ReleaseLocks(c *gin.Context) {
	username := c.Param("username")
	n, err := h.segmentationService.ReleaseLocks(c.Request.Context(), username)
	if err != nil {
		h.writeError(c, err, "Ошибка снятия блокировок")
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": username, "released": n})
}

// GetTracks возвращает траектории клеток, в JSON или CSV (format=csv)
func (h *SegmentationHandler) GetTracks(c *gin.Context) {
	expID := c.Param("exp_id")
	resp, err := h.reportService.Tracks(c.Request.Context(), expID, c.Query("username"))
	if err != nil {
		h.writeError(c, err, "Ошибка построения траекторий")
		return
	}

	if c.Query("format") != "csv" {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename="+expID+"_tracks.csv")
	c.Status(http.StatusOK)
	if err := service.WriteTracksCSV(c.Writer, resp.Tracks); err != nil {
		h.logger.Errorf("Ошибка записи CSV: %v", err)
	}
}

// CheckLinks возвращает link_id, не найденные на предыдущих кадрах
func (h *SegmentationHandler) CheckLinks(c *gin.Context) {
	report, err := h.maintenanceService.CheckLinks(c.Request.Context(), c.Param("exp_id"))
	if err != nil {
		h.writeError(c, err, "Ошибка проверки связей")
		return
	}
	c.JSON(http.StatusOK, report)
}

func frameParam(c *gin.Context) (int, bool) {
	frameNo, err := strconv.Atoi(c.Param("frame_no"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат frame_no"})
		return 0, false
	}
	return frameNo, true
}

// writeError отвечает статусом, соответствующим ошибке сервиса
func (h *SegmentationHandler) writeError(c *gin.Context, err error, fallback string) {
	status, message := http.StatusInternalServerError, fallback
	switch {
	case errors.Is(err, tracking.ErrExperimentNotFound):
		status, message = http.StatusNotFound, "Эксперимент не найден"
	case errors.Is(err, store.ErrRecordNotFound):
		status, message = http.StatusNotFound, "Сегментация кадра не найдена"
	case errors.Is(err, tracking.ErrFrameOutOfRange):
		status, message = http.StatusBadRequest, "Номер кадра вне диапазона"
	case errors.Is(err, tracking.ErrInvalidUser):
		status, message = http.StatusForbidden, "Пользователь не найден"
	case errors.Is(err, service.ErrNotPowerUser):
		status, message = http.StatusForbidden, "Операция доступна только power-пользователю"
	case errors.Is(err, lock.ErrLockedByOther):
		status, message = http.StatusConflict, "Эксперимент заблокирован другим пользователем"
	}

	if status == http.StatusInternalServerError {
		h.logger.Errorf("%s: %v", fallback, err)
	} else {
		h.logger.Warnf("%s: %v", fallback, err)
	}
	c.JSON(status, gin.H{"error": message})
}
