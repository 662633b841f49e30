package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cell-tracker-go/internal/app"
	"cell-tracker-go/internal/client"
	"cell-tracker-go/internal/config"
	"cell-tracker-go/internal/database"
	"cell-tracker-go/internal/handler"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func main() {
	cfg := config.LoadConfig()

	// Инициализируем логгер
	logger := app.NewLogger(cfg.Logging.Level)
	logger.Info("Запуск Cell Tracker API Server")

	a, err := app.Build(cfg, logger, true)
	if err != nil {
		logger.Fatalf("Ошибка инициализации: %v", err)
	}
	defer a.Close()

	// Проверяем здоровье базы данных
	if err := database.HealthCheck(a.DB); err != nil {
		logger.Fatalf("База данных недоступна: %v", err)
	}
	logger.Info("База данных успешно подключена и готова к работе")

	// Инициализируем обработчики
	segmentationHandler := handler.NewSegmentationHandler(a.Segment, a.Tracking, a.Maintenance, a.Report, logger)
	healthHandler := handler.NewHealthHandler(a.DB, logger)
	if dc, ok := a.Users.(*client.DirectoryClient); ok {
		healthHandler.AddCheck("users", func(ctx context.Context) error {
			_, err := dc.CheckHealth(ctx)
			return err
		})
	}

	// Настраиваем Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())

	segmentationHandler.RegisterRoutes(router)
	healthHandler.RegisterRoutes(router)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Cell Tracker API Server",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Infof("Сервер запущен на %s", srv.Addr)
		logger.Infof("API доступно по адресу: http://localhost:%d/api/v1", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Ошибка запуска сервера: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Остановка сервера...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Ошибка остановки сервера: %v", err)
	}
}

// corsMiddleware добавляет заголовки CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware проставляет X-Request-ID, если клиент его не передал
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
