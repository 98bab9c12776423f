// internal/handlers/plan_template_handler.go

package handlers

import (
	"net/http"

	"estate-crm/config"
	"estate-crm/models"

	"github.com/Knetic/govaluate"
	"github.com/gin-gonic/gin"
)

// PlanTemplateInput определяет структуру для создания шаблона разбивки взноса.
type PlanTemplateInput struct {
	Name              string                       `json:"name" binding:"required"`
	InstallmentsCount int                          `json:"installments_count" binding:"required,min=1"`
	Installments      []models.TemplateInstallment `json:"installments" binding:"required,dive"`
}

// ListPlanTemplatesHandler возвращает список всех шаблонов.
func ListPlanTemplatesHandler(c *gin.Context) {
	var templates []models.PlanTemplate
	var totalRows int64

	query := config.DB.Model(&models.PlanTemplate{})
	if search := c.Query("search"); search != "" {
		query = query.Where("name ILIKE ?", "%"+search+"%")
	}

	if err := query.Count(&totalRows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not count plan templates"})
		return
	}

	if err := query.Scopes(Paginate(c)).Order("name").Find(&templates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not fetch plan templates"})
		return
	}

	if templates == nil {
		templates = make([]models.PlanTemplate, 0)
	}

	c.JSON(http.StatusOK, CreatePaginatedResponse(c, templates, totalRows))
}

// GetPlanTemplateHandler получает один шаблон по ID вместе с его траншами.
func GetPlanTemplateHandler(c *gin.Context) {
	id := c.Param("id")
	var template models.PlanTemplate
	if err := config.DB.Preload("Installments").First(&template, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Шаблон не найден"})
		return
	}
	c.JSON(http.StatusOK, template)
}

// CreatePlanTemplateHandler создает новый шаблон. Формулы проверяем на
// синтаксис сразу, чтобы ошибка не всплыла при создании плана.
func CreatePlanTemplateHandler(c *gin.Context) {
	var input PlanTemplateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	for _, installment := range input.Installments {
		if _, err := govaluate.NewEvaluableExpression(installment.Formula); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Ошибка в формуле '" + installment.Formula + "': " + err.Error()})
			return
		}
	}

	template := models.PlanTemplate{
		Name:              input.Name,
		InstallmentsCount: input.InstallmentsCount,
		Installments:      input.Installments,
	}

	if err := config.DB.Create(&template).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create plan template: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, template)
}
