// FILE: internal/handlers/payment_handler.go
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"estate-crm/config"
	"estate-crm/internal/services"
	"estate-crm/models"

	"github.com/divan/num2words"
	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"gorm.io/gorm"
)

// RecordPaymentRequest - ручная запись платежа по известному плану.
// Используется кассой и при разборе UNMATCHED транзакций.
type RecordPaymentRequest struct {
	PayerID           *uint  `json:"payerId"`
	Amount            int64  `json:"amount" binding:"required"`
	ProviderReference string `json:"providerReference"`
}

// RecordPaymentHandler применяет платёж к плану, минуя поиск плательщика.
func RecordPaymentHandler(c *gin.Context) {
	planID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверные данные: " + err.Error()})
		return
	}

	engine := services.NewReconciliationEngine(config.DB)
	payment, plan, err := engine.RecordPayment(c.Request.Context(), planID, req.PayerID, req.Amount, req.ProviderReference)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPlanNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "План не найден"})
		case errors.Is(err, services.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Сумма платежа должна быть положительной"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось записать платёж: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": payment, "plan": plan})
}

// ListPlanPaymentsHandler возвращает платежи плана в хронологическом порядке.
func ListPlanPaymentsHandler(c *gin.Context) {
	planID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var payments []models.Payment
	if err := config.DB.Where("plan_id = ?", planID).Order("created_at ASC").Find(&payments).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось получить платежи"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments})
}

// GetPaymentReceiptHandler формирует данные квитанции по платежу,
// включая сумму прописью.
func GetPaymentReceiptHandler(c *gin.Context) {
	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var payment models.Payment
	if err := config.DB.First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Платёж не найден"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка при поиске платежа"})
		return
	}

	var plan models.DownpaymentPlan
	if err := config.DB.Preload("Mortgage").First(&plan, payment.PlanID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось загрузить план платежа"})
		return
	}

	contractNumber := ""
	if plan.Mortgage != nil {
		contractNumber = plan.Mortgage.ContractNumber
	}

	c.JSON(http.StatusOK, gin.H{
		"paymentId":         payment.ID,
		"contractNumber":    contractNumber,
		"amount":            payment.Amount,
		"amountInWords":     amountInWords(payment.Amount),
		"providerReference": payment.ProviderReference,
		"createdAt":         payment.CreatedAt,
	})
}

// amountInWords переводит сумму в тиынах в строку вида "сто тенге 25 тиын".
func amountInWords(amount int64) string {
	tenge := amount / 100
	tiyn := amount % 100
	tengeWords := num2words.Convert(int(tenge))
	return fmt.Sprintf("%s тенге %02d тиын", tengeWords, tiyn)
}

// RecognizeReceiptHandler распознаёт загруженную квитанцию об оплате через
// Gemini и возвращает JSON для предзаполнения формы ручной записи платежа.
func RecognizeReceiptHandler(c *gin.Context) {
	if config.GeminiClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Распознавание недоступно: Gemini не настроен"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Файл не получен: " + err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось прочитать файл"})
		return
	}

	ctx := c.Request.Context()
	prompt := []genai.Part{
		genai.Text("Ты — эксперт по обработке платёжных квитанций. Проанализируй предоставленный файл и извлеки из него: номер ипотечного договора, сумму платежа, дату платежа и референс транзакции. Твой ответ должен быть только в формате JSON, без каких-либо лишних слов или пояснений. Вот структура JSON, которую нужно заполнить:\n" +
			"{\"contractNumber\": \"\", \"amount\": \"0.00\", \"paymentDate\": \"гггг-мм-дд\", \"providerReference\": \"\"}"),
		&genai.Blob{MIMEType: header.Header.Get("Content-Type"), Data: data},
	}

	resp, err := config.GeminiClient.GenerateContent(ctx, prompt...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Gemini recognition error: " + err.Error()})
		return
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Gemini returned no result"})
		return
	}

	jsonResponse, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to convert Gemini response to text"})
		return
	}

	cleanJSON := strings.Trim(string(jsonResponse), "```json \n")
	c.Data(http.StatusOK, "application/json", []byte(cleanJSON))
}
