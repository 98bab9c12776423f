package routes

import (
	"estate-crm/internal/handlers"

	"github.com/gin-gonic/gin"
)

// RegisterAuthRoutes регистрирует публичные маршруты для аутентификации.
// Эти маршруты не требуют middleware для проверки токена.
func RegisterAuthRoutes(r *gin.Engine) {
	// Маршрут для обработки данных с формы входа.
	r.POST("/login", handlers.LoginHandler)

	// Маршрут для выхода пользователя из системы.
	r.GET("/logout", handlers.LogoutHandler)
}

// RegisterWebhookRoutes регистрирует маршруты для внешних платёжных провайдеров.
// Провайдеры не имеют JWT, поэтому эти маршруты вынесены из защищённой группы.
func RegisterWebhookRoutes(r *gin.Engine) {
	r.POST("/webhooks/payments", handlers.PaymentWebhookHandler)
}
