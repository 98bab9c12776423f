// estate-crm/internal/handlers/plan_handler.go
package handlers

import (
	"errors"
	"net/http"
	"time"

	"estate-crm/config"
	"estate-crm/internal/services"
	"estate-crm/models"

	"github.com/gin-gonic/gin"
)

// CreatePlanInput - параметры создания плана первоначального взноса.
// Либо прямая разбивка (totalAmount + installmentCount), либо шаблон (templateId).
type CreatePlanInput struct {
	TotalAmount      int64  `json:"totalAmount"`
	InstallmentCount int    `json:"installmentCount"`
	Frequency        string `json:"frequency"`
	StartDate        string `json:"startDate"`
	TemplateID       *uint  `json:"templateId"`
}

// CreatePlanHandler создаёт план и транши для ипотеки.
func CreatePlanHandler(c *gin.Context) {
	mortgageID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var input CreatePlanInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверные данные: " + err.Error()})
		return
	}

	startDate := time.Now()
	if input.StartDate != "" {
		parsed, err := time.Parse("2006-01-02", input.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат даты. Используйте YYYY-MM-DD."})
			return
		}
		startDate = parsed
	}

	builder := services.NewPlanBuilder(config.DB)

	var plan *models.DownpaymentPlan
	var err error
	if input.TemplateID != nil {
		plan, err = builder.CreatePlanFromTemplate(mortgageID, *input.TemplateID, startDate)
	} else {
		plan, err = builder.CreatePlan(services.CreatePlanInput{
			MortgageID:       mortgageID,
			TotalAmount:      input.TotalAmount,
			InstallmentCount: input.InstallmentCount,
			Frequency:        models.PlanFrequency(input.Frequency),
			StartDate:        startDate,
		})
	}

	if err != nil {
		switch {
		case errors.Is(err, services.ErrMortgageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Договор не найден"})
		case errors.Is(err, services.ErrTemplateNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Шаблон не найден"})
		case errors.Is(err, services.ErrPlanExists):
			c.JSON(http.StatusConflict, gin.H{"error": "План для этой ипотеки уже создан"})
		case errors.Is(err, services.ErrInvalidPlanInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Сумма и число траншей должны быть положительными"})
		case errors.Is(err, services.ErrTemplateMismatch):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Формулы шаблона не сходятся с суммой взноса"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось создать план: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, plan)
}

// GetPlanHandler возвращает план с траншами.
func GetPlanHandler(c *gin.Context) {
	planID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	plan, err := services.NewPlanBuilder(config.DB).GetPlan(planID)
	if err != nil {
		if errors.Is(err, services.ErrPlanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "План не найден"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось получить план"})
		return
	}

	c.JSON(http.StatusOK, plan)
}

// GetPlanByMortgageHandler возвращает план ипотеки; null, если план не создан.
func GetPlanByMortgageHandler(c *gin.Context) {
	mortgageID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	plan, err := services.NewPlanBuilder(config.DB).GetPlanByMortgage(mortgageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось получить план"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"plan": plan})
}
