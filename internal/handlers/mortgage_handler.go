// estate-crm/internal/handlers/mortgage_handler.go
package handlers

import (
	"errors"
	"net/http"
	"time"

	"estate-crm/config"
	"estate-crm/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// MortgageInput - входящие данные для регистрации ипотеки. Суммы в тиынах.
type MortgageInput struct {
	ContractNumber  string `json:"contractNumber" binding:"required"`
	BorrowerID      uint   `json:"borrowerId" binding:"required"`
	PropertyID      uint   `json:"propertyId" binding:"required"`
	PrincipalAmount int64  `json:"principalAmount" binding:"required"`
	DownPayment     int64  `json:"downPayment" binding:"required"`
	SignedAt        string `json:"signedAt"`
	Comment         string `json:"comment"`
}

// CreateMortgageHandler регистрирует ипотечный договор.
func CreateMortgageHandler(c *gin.Context) {
	var input MortgageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверные данные: " + err.Error()})
		return
	}
	if input.PrincipalAmount <= 0 || input.DownPayment <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Суммы должны быть положительными"})
		return
	}

	var borrower models.User
	if err := config.DB.First(&borrower, input.BorrowerID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Заёмщик не найден"})
		return
	}
	var property models.Property
	if err := config.DB.First(&property, input.PropertyID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Объект недвижимости не найден"})
		return
	}

	mortgage := models.Mortgage{
		ContractNumber:  input.ContractNumber,
		BorrowerID:      input.BorrowerID,
		PropertyID:      input.PropertyID,
		PrincipalAmount: input.PrincipalAmount,
		DownPayment:     input.DownPayment,
		Comment:         input.Comment,
	}
	if input.SignedAt != "" {
		signedAt, err := time.Parse("2006-01-02", input.SignedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат даты. Используйте YYYY-MM-DD."})
			return
		}
		mortgage.SignedAt = &signedAt
	}

	if err := config.DB.Create(&mortgage).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось сохранить договор"})
		return
	}

	c.JSON(http.StatusCreated, mortgage)
}

// ListMortgagesHandler возвращает пагинированный список ипотек.
func ListMortgagesHandler(c *gin.Context) {
	var mortgages []models.Mortgage
	var totalRows int64

	query := config.DB.Model(&models.Mortgage{}).Preload("Borrower").Preload("Property")
	if borrowerID := c.Query("borrower_id"); borrowerID != "" {
		query = query.Where("borrower_id = ?", borrowerID)
	}

	if err := query.Count(&totalRows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count mortgages"})
		return
	}
	if err := query.Scopes(Paginate(c)).Order("created_at DESC").Find(&mortgages).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch mortgages"})
		return
	}

	c.JSON(http.StatusOK, CreatePaginatedResponse(c, mortgages, totalRows))
}

// GetMortgageHandler возвращает одну ипотеку со связями.
func GetMortgageHandler(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var mortgage models.Mortgage
	err := config.DB.Preload("Borrower").Preload("Property").First(&mortgage, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Договор не найден"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка при поиске договора"})
		return
	}

	c.JSON(http.StatusOK, mortgage)
}
