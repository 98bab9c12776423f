// estate-crm/internal/handlers/transaction_handler.go
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"estate-crm/config"
	"estate-crm/internal/services"
	"estate-crm/models"

	"github.com/gin-gonic/gin"
)

// PaymentWebhookInput определяет структуру входящего платёжного события.
// Подписи провайдера проверяет шлюз до нас: сюда приходят уже разрешённые
// записи о движении денег.
type PaymentWebhookInput struct {
	Provider          string `json:"provider" binding:"required"`
	ProviderReference string `json:"providerReference" binding:"required"`
	UserID            uint   `json:"userId"`
	Amount            int64  `json:"amount" binding:"required"`
	Currency          string `json:"currency"`
}

// PaymentWebhookHandler принимает платёжное событие, сохраняет транзакцию
// и ставит её в очередь сверки. Повторная доставка того же события безопасна:
// по уникальному референсу возвращаем уже известную транзакцию.
func PaymentWebhookHandler(c *gin.Context) {
	var input PaymentWebhookInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	if input.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Сумма должна быть положительной"})
		return
	}

	// Повтор вебхука - не ошибка, отвечаем имеющимся состоянием.
	var existing models.PaymentTransaction
	if err := config.DB.Where("provider_reference = ?", input.ProviderReference).First(&existing).Error; err == nil {
		c.JSON(http.StatusOK, gin.H{"transactionId": existing.ID, "status": existing.Status})
		return
	}

	currency := input.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}

	trx := models.PaymentTransaction{
		Provider:          input.Provider,
		ProviderReference: input.ProviderReference,
		UserID:            input.UserID,
		Amount:            input.Amount,
		Currency:          currency,
		Status:            models.TransactionStatusPending,
	}
	if err := config.DB.Create(&trx).Error; err != nil {
		// Гонка двух повторов одного вебхука: второй INSERT упирается в
		// уникальный индекс. Перечитываем и отвечаем как при повторе.
		if findErr := config.DB.Where("provider_reference = ?", input.ProviderReference).First(&existing).Error; findErr == nil {
			c.JSON(http.StatusOK, gin.H{"transactionId": existing.ID, "status": existing.Status})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось сохранить транзакцию"})
		return
	}

	if config.RDB != nil {
		if err := config.RDB.LPush(config.Ctx, config.ReconcileQueueKey, strconv.FormatUint(uint64(trx.ID), 10)).Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось поставить транзакцию в очередь"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"transactionId": trx.ID, "status": trx.Status})
		return
	}

	// Без Redis обрабатываем синхронно, прямо в запросе.
	engine := services.NewReconciliationEngine(config.DB)
	result, err := engine.Reconcile(c.Request.Context(), trx.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Сверка не удалась, событие можно доставить повторно"})
		return
	}
	NotifyReconcileOutcome(trx.ID, result)
	c.JSON(http.StatusOK, gin.H{"transactionId": trx.ID, "status": result.Status, "result": result})
}

// ListTransactionsHandler возвращает транзакции с фильтром по статусу.
// Основной сценарий - очередь UNMATCHED для ручного разбора.
func ListTransactionsHandler(c *gin.Context) {
	var transactions []models.PaymentTransaction
	var totalRows int64

	query := config.DB.Model(&models.PaymentTransaction{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if provider := c.Query("provider"); provider != "" {
		query = query.Where("provider = ?", provider)
	}

	if err := query.Count(&totalRows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count transactions"})
		return
	}
	if err := query.Scopes(Paginate(c)).Order("created_at DESC").Find(&transactions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch transactions"})
		return
	}

	c.JSON(http.StatusOK, CreatePaginatedResponse(c, transactions, totalRows))
}

// ReconcileTransactionHandler запускает сверку синхронно. Используется для
// ручного повтора FAILED/PENDING транзакций из интерфейса бэк-офиса.
func ReconcileTransactionHandler(c *gin.Context) {
	transactionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	engine := services.NewReconciliationEngine(config.DB)
	result, err := engine.Reconcile(c.Request.Context(), transactionID)
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Транзакция не найдена"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Сверка не удалась: " + err.Error()})
		return
	}

	NotifyReconcileOutcome(transactionID, result)
	c.JSON(http.StatusOK, result)
}
