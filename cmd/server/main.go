// estate-crm/cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estate-crm/config"
	"estate-crm/internal/handlers"
	"estate-crm/internal/routes"
	"estate-crm/internal/worker"
	"estate-crm/models"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Загружаем переменные окружения из .env (в проде файла может не быть).
	if err := godotenv.Load(); err != nil {
		slog.Info("Файл .env не найден, используются переменные окружения системы")
	}

	// Инициализация подключений.
	config.ConnectDB()
	config.ConnectRedis()
	config.LoadJWTKey()

	// Распознавание квитанций опционально: без ключа API сервис стартует,
	// а соответствующий эндпоинт вернёт 503.
	if err := config.InitGoogleServices(); err != nil {
		slog.Warn("Сервисы Google недоступны", "error", err)
	}

	// Миграция схемы БД.
	err := config.DB.AutoMigrate(
		&models.User{},
		&models.Role{},
		&models.Permission{},
		&models.Property{},
		&models.Mortgage{},
		&models.DownpaymentPlan{},
		&models.Installment{},
		&models.Payment{},
		&models.PaymentTransaction{},
		&models.PlanTemplate{},
		&models.TemplateInstallment{},
	)
	if err != nil {
		slog.Error("Ошибка миграции базы данных", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Хаб WebSocket-событий о сверке платежей.
	go handlers.GlobalHub.Run()

	// Фоновые воркеры сверки, читающие очередь из Redis.
	consumer := worker.NewConsumer(config.DB, config.RDB)
	go consumer.Run(ctx)

	r := gin.Default()
	routes.SetupRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		slog.Info("Сервер запущен", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Ошибка HTTP-сервера", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Получен сигнал завершения, останавливаем сервер")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Ошибка при остановке сервера", "error", err)
	}
}
