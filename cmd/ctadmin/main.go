package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cell-tracker-go/internal/app"
	"cell-tracker-go/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.LoadConfig()
	logger := app.NewLogger(cfg.Logging.Level)
	logger.SetOutput(os.Stderr)

	a, err := app.Build(cfg, logger, false)
	if err != nil {
		logger.Fatalf("Ошибка инициализации: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmds := &commands{
		tracking:    a.Tracking,
		maintenance: a.Maintenance,
		report:      a.Report,
		out:         os.Stdout,
	}
	if err := cmds.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		logger.Errorf("Команда %s завершилась с ошибкой: %v", os.Args[1], err)
		a.Close()
		os.Exit(1)
	}
}
