package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cell-tracker-go/internal/app"
	"cell-tracker-go/internal/config"
	"cell-tracker-go/internal/queue"
)

func main() {
	cfg := config.LoadConfig()
	logger := app.NewLogger(cfg.Logging.Level)
	logger.Info("Запуск обработчика задач трекинга")

	a, err := app.Build(cfg, logger, false)
	if err != nil {
		logger.Fatalf("Ошибка инициализации: %v", err)
	}
	defer a.Close()

	consumer, err := queue.NewKafkaConsumer(app.KafkaConfig(cfg), logger)
	if err != nil {
		logger.Fatalf("Ошибка подключения к Kafka: %v", err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx, a.Tracking.HandleTask); err != nil {
		// задача останется в топике и будет получена после перезапуска
		logger.Errorf("Обработчик остановлен с ошибкой: %v", err)
		consumer.Close()
		a.Close()
		os.Exit(1)
	}
	logger.Info("Обработчик остановлен")
}
