// estate-crm/internal/routes/api_routes.go
package routes

import (
	"estate-crm/internal/handlers"
	"estate-crm/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterAPIRoutes регистрирует все маршруты API, требующие аутентификации.
func RegisterAPIRoutes(api *gin.RouterGroup) {
	// Группа для всех API-запросов с префиксом /api
	apiGroup := api.Group("/api")
	{
		// Профиль пользователя
		profile := apiGroup.Group("/profile")
		{
			profile.GET("", handlers.GetProfileHandler)
		}

		// --- СОБЫТИЯ (WebSocket) ---
		events := apiGroup.Group("/events")
		{
			// Push-уведомления об итогах сверки платежей
			events.GET("/ws", func(c *gin.Context) {
				handlers.EventsWSEndpoint(c)
			})
		}

		// --- ИПОТЕЧНЫЕ ДОГОВОРЫ ---
		mortgages := apiGroup.Group("/mortgages")
		mortgages.Use(middleware.PermissionMiddleware("mortgages_view"))
		{
			mortgages.GET("", handlers.ListMortgagesHandler)
			mortgages.POST("", middleware.PermissionMiddleware("mortgages_create"), handlers.CreateMortgageHandler)
			mortgages.GET("/:id", handlers.GetMortgageHandler)
			mortgages.POST("/:id/comment", middleware.PermissionMiddleware("mortgages_edit"), handlers.UpdateMortgageCommentHandler)
			mortgages.GET("/:id/plan", handlers.GetPlanByMortgageHandler)
			mortgages.POST("/:id/plan", middleware.PermissionMiddleware("plans_create"), handlers.CreatePlanHandler)
		}

		// --- ПЛАНЫ ПЕРВОНАЧАЛЬНОГО ВЗНОСА ---
		plans := apiGroup.Group("/plans")
		plans.Use(middleware.PermissionMiddleware("plans_view"))
		{
			plans.GET("/:id", handlers.GetPlanHandler)
			plans.GET("/:id/payments", handlers.ListPlanPaymentsHandler)
			plans.POST("/:id/payments", middleware.PermissionMiddleware("payments_create"), handlers.RecordPaymentHandler)
		}

		// --- ШАБЛОНЫ ПЛАНОВ ---
		planTemplates := apiGroup.Group("/plan-templates")
		planTemplates.Use(middleware.PermissionMiddleware("plan_templates_view"))
		{
			planTemplates.GET("", handlers.ListPlanTemplatesHandler)
			planTemplates.GET("/:id", handlers.GetPlanTemplateHandler)
			planTemplates.POST("", middleware.PermissionMiddleware("plan_templates_create"), handlers.CreatePlanTemplateHandler)
		}

		// --- ПЛАТЕЖИ ---
		payments := apiGroup.Group("/payments")
		{
			payments.GET("/:id/receipt", handlers.GetPaymentReceiptHandler)
			payments.POST("/recognize", middleware.PermissionMiddleware("payments_create"), handlers.RecognizeReceiptHandler)
		}

		// --- ТРАНЗАКЦИИ ПРОВАЙДЕРОВ ---
		transactions := apiGroup.Group("/transactions")
		transactions.Use(middleware.PermissionMiddleware("transactions_view"))
		{
			transactions.GET("", handlers.ListTransactionsHandler)
			transactions.POST("/:id/reconcile", middleware.PermissionMiddleware("transactions_reconcile"), handlers.ReconcileTransactionHandler)
		}

		// --- ОТЧЁТЫ ---
		reports := apiGroup.Group("/reports")
		{
			reports.GET("/debtors", middleware.PermissionMiddleware("reports_view"), handlers.ListDebtorsHandler)
			reports.GET("/payments/export", middleware.PermissionMiddleware("reports_view"), handlers.ExportPaymentsHandler)
		}
	} // конец apiGroup
}
