// estate-crm/config/database.go

package config

import (
	"log/slog"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func ConnectDB() {
	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		// Без базы данных приложение работать не может.
		slog.Error("Критическая ошибка: переменная окружения DB_URL не установлена.")
		os.Exit(1)
	}

	// TranslateError нужен, чтобы нарушения уникальных индексов приходили
	// как gorm.ErrDuplicatedKey, а не как сырые ошибки драйвера.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		slog.Error("Ошибка подключения к БД", "error", err)
		os.Exit(1)
	}

	DB = db
	slog.Info("Успешное подключение к базе данных!")
}
