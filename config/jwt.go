// estate-crm/config/jwt.go
package config

import (
	"log/slog"
	"os"
)

// JwtKey - секрет для подписи JWT токенов. Загружается один раз при старте.
var JwtKey []byte

func LoadJWTKey() {
	secret := os.Getenv("JWT_KEY")
	if secret == "" {
		slog.Error("Критическая ошибка: переменная окружения JWT_KEY не установлена.")
		os.Exit(1)
	}
	JwtKey = []byte(secret)
}
