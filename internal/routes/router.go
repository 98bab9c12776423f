package routes

import (
	"estate-crm/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRoutes инициализирует все маршруты приложения.
func SetupRoutes(r *gin.Engine) {
	// --- Публичные маршруты ---
	// Вход, выход и webhook от платёжного провайдера не требуют JWT.
	RegisterAuthRoutes(r)
	RegisterWebhookRoutes(r)

	// --- Защищенная группа маршрутов ---
	// Все маршруты в этой группе требуют, чтобы пользователь был аутентифицирован.
	// Middleware `AuthMiddleware` проверяет наличие и валидность JWT токена.
	authRequired := r.Group("/")
	authRequired.Use(middleware.AuthMiddleware())
	{
		RegisterAPIRoutes(authRequired)
	}
}
