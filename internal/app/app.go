package app

import (
	"fmt"
	"os"
	"time"

	"cell-tracker-go/internal/archive"
	"cell-tracker-go/internal/client"
	"cell-tracker-go/internal/config"
	"cell-tracker-go/internal/database"
	"cell-tracker-go/internal/lock"
	"cell-tracker-go/internal/queue"
	"cell-tracker-go/internal/repository"
	"cell-tracker-go/internal/service"
	"cell-tracker-go/internal/store"
	"cell-tracker-go/internal/syncer"
	"cell-tracker-go/internal/tracking"
	"cell-tracker-go/internal/users"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App собранные зависимости приложения
type App struct {
	DB          *gorm.DB
	Archive     archive.Store
	Store       *store.SegmentationStore
	Locks       *lock.Manager
	Users       users.Directory
	Queue       queue.Queue
	Tracking    *service.TrackingService
	Segment     *service.SegmentationService
	Maintenance *service.MaintenanceService
	Report      *service.ReportService
}

// NewLogger создает логгер с JSON форматом и уровнем из конфигурации
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// Build подключается к БД, выполняет миграции и собирает сервисы.
// Очередь создается только при withQueue, иначе правки не ставят задачи трекинга.
func Build(cfg *config.Config, logger *logrus.Logger, withQueue bool) (*App, error) {
	logger.Info("Подключение к базе данных...")
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("Выполнение миграций базы данных...")
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := os.MkdirAll(cfg.Archive.Root, 0755); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}

	a := &App{DB: db, Archive: archive.NewFSStore(cfg.Archive.Root)}

	a.Store = store.NewSegmentationStore(
		repository.NewSegmentationRepository(db),
		repository.NewExperimentRepository(db),
		a.Archive,
		logger,
	)
	a.Locks = lock.NewManager(repository.NewLockRepository(db), nil, cfg.Lock.Timeout, logger)

	switch cfg.Users.Backend {
	case "http":
		a.Users = client.NewDirectoryClient(cfg.Users.BaseURL, time.Duration(cfg.Users.Timeout)*time.Second, logger)
	default:
		a.Users = users.NewDBDirectory(repository.NewUserRepository(db), logger)
	}

	coord := syncer.NewCoordinator(a.Archive, logger, "")
	engine := tracking.NewEngine(a.Store, a.Users, coord, logger)
	a.Tracking = service.NewTrackingService(engine, a.Store, logger)

	if withQueue {
		a.Queue, err = newQueue(cfg, a.Tracking, logger)
		if err != nil {
			_ = database.Close(db)
			return nil, err
		}
	}

	a.Segment = service.NewSegmentationService(a.Store, coord, a.Locks, a.Users, a.Queue, logger)
	a.Maintenance = service.NewMaintenanceService(a.Store, a.Archive, coord, logger)
	a.Report = service.NewReportService(a.Store, logger)
	return a, nil
}

func newQueue(cfg *config.Config, ts *service.TrackingService, logger *logrus.Logger) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "kafka":
		logger.Infof("Очередь трекинга: Kafka %s, топик %s", cfg.Queue.BootstrapServers, cfg.Queue.Topic)
		return queue.NewKafkaProducer(KafkaConfig(cfg), logger)
	case "inline", "":
		logger.Info("Очередь трекинга: в процессе")
		return queue.NewInlineQueue(ts.HandleTask, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// KafkaConfig параметры Kafka из конфигурации
func KafkaConfig(cfg *config.Config) queue.KafkaConfig {
	return queue.KafkaConfig{
		BootstrapServers: cfg.Queue.BootstrapServers,
		Topic:            cfg.Queue.Topic,
		GroupID:          cfg.Queue.GroupID,
	}
}

// Close закрывает очередь и соединение с БД
func (a *App) Close() error {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			return err
		}
	}
	return database.Close(a.DB)
}
