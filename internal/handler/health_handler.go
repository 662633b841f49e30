package handler

import (
	"context"
	"net/http"

	"cell-tracker-go/internal/database"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DependencyCheck проверка внешней зависимости
type DependencyCheck func(ctx context.Context) error

// HealthHandler проверка состояния сервиса и метрики
type HealthHandler struct {
	db     *gorm.DB
	checks map[string]DependencyCheck
	logger *logrus.Logger
}

// NewHealthHandler создает новый экземпляр HealthHandler
func NewHealthHandler(db *gorm.DB, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{db: db, checks: map[string]DependencyCheck{}, logger: logger}
}

// AddCheck добавляет проверку зависимости в /health
func (h *HealthHandler) AddCheck(name string, check DependencyCheck) {
	h.checks[name] = check
}

// RegisterRoutes регистрирует /health, /api/v1/health и /metrics
func (h *HealthHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.CheckHealth)
	router.GET("/api/v1/health", h.CheckHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// CheckHealth проверяет состояние сервиса
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	if err := database.HealthCheck(h.db); err != nil {
		h.logger.Errorf("База данных недоступна: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "База данных недоступна",
		})
		return
	}

	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			h.logger.Errorf("Зависимость %s недоступна: %v", name, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "Недоступна зависимость " + name,
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "Сервис работает нормально",
	})
}
